// Package crc wraps github.com/snksoft/crc's CRC-32 table for the small
// integrity-check role U3V manifest entries need (u3v.VerifyEntry),
// mirroring golaborate's own use of snksoft/crc for
// checksumming device-reported byte blocks.
package crc

import "github.com/snksoft/crc"

// table is the IEEE CRC-32 polynomial table, computed once.
var table = crc.NewTable(crc.CRC32)

// Checksum32 computes the CRC-32 of data.
func Checksum32(data []byte) uint32 {
	c := table.InitCrc()
	c = table.UpdateCrc(c, data)
	return table.CRC32(c)
}

// Verify32 reports whether data's CRC-32 equals want.
func Verify32(data []byte, want uint32) bool {
	return Checksum32(data) == want
}
