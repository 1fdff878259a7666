package compress

import (
	"bytes"
	"strings"
	"testing"
)

func compressibleInput() []byte {
	return bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog, "), 200)
}

func TestEncodeDecodeRoundTripNone(t *testing.T) {
	src := []byte("hello world")
	enc, err := Encode(None, src)
	if err != nil {
		t.Fatalf("Encode(None) error = %v", err)
	}
	if !bytes.Equal(enc, src) {
		t.Errorf("Encode(None) = %v, want src unchanged", enc)
	}
	dec, err := Decode(None, enc)
	if err != nil {
		t.Fatalf("Decode(None) error = %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Errorf("Decode(None) = %v, want %v", dec, src)
	}
}

func TestEncodeDecodeRoundTripSnappy(t *testing.T) {
	src := compressibleInput()
	enc, err := Encode(Snappy, src)
	if err != nil {
		t.Fatalf("Encode(Snappy) error = %v", err)
	}
	dec, err := Decode(Snappy, enc)
	if err != nil {
		t.Fatalf("Decode(Snappy) error = %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Errorf("Decode(Encode(Snappy, src)) != src")
	}
}

func TestEncodeDecodeRoundTripZstd(t *testing.T) {
	src := compressibleInput()
	enc, err := Encode(Zstd, src)
	if err != nil {
		t.Fatalf("Encode(Zstd) error = %v", err)
	}
	dec, err := Decode(Zstd, enc)
	if err != nil {
		t.Fatalf("Decode(Zstd) error = %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Errorf("Decode(Encode(Zstd, src)) != src")
	}
}

func TestEncodeDecodeRoundTripLZ4(t *testing.T) {
	src := compressibleInput()
	enc, err := Encode(LZ4, src)
	if err != nil {
		t.Fatalf("Encode(LZ4) error = %v", err)
	}
	dec, err := Decode(LZ4, enc)
	if err != nil {
		t.Fatalf("Decode(LZ4) error = %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Errorf("Decode(Encode(LZ4, src)) != src")
	}
}

func TestEncodeUnknownType(t *testing.T) {
	if _, err := Encode(Type(99), []byte("x")); err == nil {
		t.Error("Encode() with an unknown type: want error, got nil")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode(Type(99), []byte("x")); err == nil {
		t.Error("Decode() with an unknown type: want error, got nil")
	}
}

func TestSnappyActuallyShrinksRepetitiveInput(t *testing.T) {
	src := []byte(strings.Repeat("aaaaaaaaaa", 1000))
	enc, err := Encode(Snappy, src)
	if err != nil {
		t.Fatalf("Encode(Snappy) error = %v", err)
	}
	if len(enc) >= len(src) {
		t.Errorf("Snappy-encoded length = %d, want smaller than source length %d", len(enc), len(src))
	}
}
