package u3v

import (
	"encoding/binary"
	"fmt"

	"github.jpl.nasa.gov/bdube/golab/gencp"
	"github.jpl.nasa.gov/bdube/golab/internal/crc"
)

// Manifest table wire layout, following cameleon-gentl's u3v.rs manifest
// reader (entry count u64, then one fixed-size entry per GenApi XML file
// the device publishes). The upstream format authenticates each entry
// with a SHA-1 hash; this package substitutes the CRC-32 helper in
// internal/crc for that role (see DESIGN.md's Open Question resolution).
const (
	ManifestEntryLen = 32

	manifestEntryFileAddressOffset    = 0
	manifestEntryFileSizeOffset       = 8
	manifestEntrySchemaVersionOffset  = 16
	manifestEntryCompressionOffset    = 20
	manifestEntryChecksumOffset       = 24
)

// CompressionType enumerates how a manifest entry's file bytes are
// encoded on the device.
type CompressionType uint32

const (
	CompressionNone CompressionType = iota
	CompressionZip
)

// ManifestEntry describes one GenApi XML file a device publishes,
// without interpreting its contents (XML parsing is out of scope).
type ManifestEntry struct {
	FileAddress     uint64
	FileSize        uint64
	SchemaVersion   uint32
	CompressionType CompressionType
	Checksum        uint32
}

// ManifestTable is the parsed set of manifest entries a device's ABRM
// points to.
type ManifestTable struct {
	Entries []ManifestEntry
}

// ReadManifestTable reads the manifest entry count at tableAddr, then
// every entry that follows it.
func ReadManifestTable(cc ControlChannelAPI, tableAddr uint64) (*ManifestTable, error) {
	countBytes, err := cc.ReadMem(tableAddr, 8)
	if err != nil {
		return nil, fmt.Errorf("u3v: manifest: read entry count: %w", err)
	}
	count := binary.LittleEndian.Uint64(countBytes)

	if count == 0 {
		return &ManifestTable{}, nil
	}

	base := tableAddr + 8
	reqs := make([]gencp.ReadMemStackedEntry, count)
	for i := uint64(0); i < count; i++ {
		reqs[i] = gencp.ReadMemStackedEntry{Address: base + i*ManifestEntryLen, Length: ManifestEntryLen}
	}

	raws, err := cc.ReadMemStacked(reqs)
	if err != nil {
		return nil, fmt.Errorf("u3v: manifest: read %d entries: %w", count, err)
	}

	entries := make([]ManifestEntry, len(raws))
	for i, raw := range raws {
		entries[i] = parseManifestEntry(raw)
	}
	return &ManifestTable{Entries: entries}, nil
}

func parseManifestEntry(raw []byte) ManifestEntry {
	return ManifestEntry{
		FileAddress:     binary.LittleEndian.Uint64(raw[manifestEntryFileAddressOffset:]),
		FileSize:        binary.LittleEndian.Uint64(raw[manifestEntryFileSizeOffset:]),
		SchemaVersion:   binary.LittleEndian.Uint32(raw[manifestEntrySchemaVersionOffset:]),
		CompressionType: CompressionType(binary.LittleEndian.Uint32(raw[manifestEntryCompressionOffset:])),
		Checksum:        binary.LittleEndian.Uint32(raw[manifestEntryChecksumOffset:]),
	}
}

// VerifyEntry reads back entry's file bytes and checks them against its
// stored checksum. It never decodes or parses those bytes as XML.
func VerifyEntry(cc ControlChannelAPI, entry ManifestEntry) (bool, error) {
	if entry.FileSize == 0 {
		return true, nil
	}

	const chunkSize = 4096
	data := make([]byte, 0, entry.FileSize)
	for uint64(len(data)) < entry.FileSize {
		remaining := entry.FileSize - uint64(len(data))
		n := uint16(chunkSize)
		if remaining < chunkSize {
			n = uint16(remaining)
		}
		chunk, err := cc.ReadMem(entry.FileAddress+uint64(len(data)), n)
		if err != nil {
			return false, fmt.Errorf("u3v: manifest: verify entry at %#x: %w", entry.FileAddress, err)
		}
		data = append(data, chunk...)
	}

	return crc.Verify32(data, entry.Checksum), nil
}
