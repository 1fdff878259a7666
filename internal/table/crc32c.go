package table

import "hash/crc32"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// crc32cBlock checksums a stored block's payload together with its
// trailing compression-type byte, so the reader can detect a trailer
// corrupted independently of the block body.
func crc32cBlock(payload []byte, ctype byte) uint32 {
	crc := crc32.Checksum(payload, crcTable)
	return crc32.Update(crc, crcTable, []byte{ctype})
}
