package encoding

import (
	"bytes"
	"testing"
)

func TestFixed32RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x00, 0x00, 0x00, 0x00}},
		{"one", 1, []byte{0x01, 0x00, 0x00, 0x00}},
		{"max", 0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"0x12345678", 0x12345678, []byte{0x78, 0x56, 0x34, 0x12}}, // little-endian
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendFixed32(nil, tt.value)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("AppendFixed32(%d) = %v, want %v", tt.value, got, tt.want)
			}
			decoded, err := DecodeFixed32(tt.want)
			if err != nil {
				t.Fatalf("DecodeFixed32() error = %v", err)
			}
			if decoded != tt.value {
				t.Errorf("DecodeFixed32(%v) = %d, want %d", tt.want, decoded, tt.value)
			}
		})
	}
}

func TestFixed64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x0102030405060708} {
		buf := AppendFixed64(nil, v)
		if len(buf) != 8 {
			t.Fatalf("AppendFixed64(%d) produced %d bytes, want 8", v, len(buf))
		}
		got, err := DecodeFixed64(buf)
		if err != nil {
			t.Fatalf("DecodeFixed64() error = %v", err)
		}
		if got != v {
			t.Errorf("DecodeFixed64 round trip = %d, want %d", got, v)
		}
	}
}

func TestDecodeFixedShortBuffer(t *testing.T) {
	if _, err := DecodeFixed32([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeFixed32 on 3 bytes: want error, got nil")
	}
	if _, err := DecodeFixed64([]byte{1, 2, 3, 4, 5, 6, 7}); err == nil {
		t.Error("DecodeFixed64 on 7 bytes: want error, got nil")
	}
}

func TestVarint32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 0xFFFFFFFF}
	for _, v := range values {
		buf := AppendVarint32(nil, v)
		if len(buf) != VarintLength(uint64(v)) {
			t.Errorf("AppendVarint32(%d) produced %d bytes, VarintLength says %d", v, len(buf), VarintLength(uint64(v)))
		}
		got, n, err := DecodeVarint32(buf)
		if err != nil {
			t.Fatalf("DecodeVarint32(%d) error = %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint32(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("DecodeVarint32 round trip = %d, want %d", got, v)
		}
	}
}

func TestVarint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 1 << 35, 1<<64 - 1}
	for _, v := range values {
		buf := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(buf)
		if err != nil {
			t.Fatalf("DecodeVarint64(%d) error = %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint64(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("DecodeVarint64 round trip = %d, want %d", got, v)
		}
	}
}

func TestDecodeVarintTruncated(t *testing.T) {
	// A continuation byte with nothing following is truncated, not a value.
	if _, _, err := DecodeVarint64([]byte{0x80}); err == nil {
		t.Error("DecodeVarint64([0x80]): want error, got nil")
	}
}

func TestDecodeVarint32Overflow(t *testing.T) {
	buf := AppendVarint64(nil, 1<<40)
	if _, _, err := DecodeVarint32(buf); err == nil {
		t.Error("DecodeVarint32 on a value above 32 bits: want error, got nil")
	}
}

func TestLengthPrefixedSliceRoundTrip(t *testing.T) {
	dst := AppendLengthPrefixedSlice(nil, []byte("hello"))
	dst = AppendLengthPrefixedSlice(dst, []byte("world"))

	slice, rest, err := DecodeLengthPrefixedSlice(dst)
	if err != nil {
		t.Fatalf("DecodeLengthPrefixedSlice() error = %v", err)
	}
	if string(slice) != "hello" {
		t.Errorf("first slice = %q, want hello", slice)
	}
	slice, rest, err = DecodeLengthPrefixedSlice(rest)
	if err != nil {
		t.Fatalf("DecodeLengthPrefixedSlice() second error = %v", err)
	}
	if string(slice) != "world" {
		t.Errorf("second slice = %q, want world", slice)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestDecodeLengthPrefixedSliceTruncated(t *testing.T) {
	buf := AppendVarint32(nil, 10)
	buf = append(buf, []byte("short")...)
	if _, _, err := DecodeLengthPrefixedSlice(buf); err == nil {
		t.Error("DecodeLengthPrefixedSlice with a length longer than the data: want error, got nil")
	}
}

func TestSliceCursor(t *testing.T) {
	var buf []byte
	buf = AppendFixed32(buf, 42)
	buf = AppendFixed64(buf, 1<<40)
	buf = AppendVarint32(buf, 300)
	buf = AppendLengthPrefixedSlice(buf, []byte("tag"))
	buf = append(buf, []byte("raw3")...)

	s := NewSlice(buf)

	f32, err := s.GetFixed32()
	if err != nil || f32 != 42 {
		t.Fatalf("GetFixed32() = (%d, %v), want (42, nil)", f32, err)
	}
	f64, err := s.GetFixed64()
	if err != nil || f64 != 1<<40 {
		t.Fatalf("GetFixed64() = (%d, %v), want (%d, nil)", f64, err, uint64(1)<<40)
	}
	v32, err := s.GetVarint32()
	if err != nil || v32 != 300 {
		t.Fatalf("GetVarint32() = (%d, %v), want (300, nil)", v32, err)
	}
	tag, err := s.GetLengthPrefixedSlice()
	if err != nil || string(tag) != "tag" {
		t.Fatalf("GetLengthPrefixedSlice() = (%q, %v), want (tag, nil)", tag, err)
	}
	raw, err := s.GetBytes(4)
	if err != nil || string(raw) != "raw3" {
		t.Fatalf("GetBytes(4) = (%q, %v), want (raw3, nil)", raw, err)
	}
	if !s.Empty() {
		t.Errorf("Slice not empty after consuming every field, remaining = %v", s.Remaining())
	}
}

func TestSliceGetBytesShort(t *testing.T) {
	s := NewSlice([]byte{1, 2})
	if _, err := s.GetBytes(3); err == nil {
		t.Error("GetBytes(3) on a 2-byte slice: want error, got nil")
	}
}
