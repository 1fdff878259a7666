package wal

import "hash/crc32"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// crc32cValue returns the CRC32C checksum of data.
func crc32cValue(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// crc32cExtend extends an existing CRC32C checksum with more data, used
// to checksum type||payload without concatenating them first.
func crc32cExtend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crcTable, data)
}
