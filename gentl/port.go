package gentl

import (
	"github.jpl.nasa.gov/bdube/golab/u3v"
)

// Endianness identifies the byte order a Port's register space uses.
type Endianness uint8

const (
	LittleEndian Endianness = iota
	BigEndian
)

// PortAccess is the read/write capability a Port offers.
type PortAccess uint8

const (
	AccessNA PortAccess = iota
	AccessRO
	AccessWO
	AccessRW
)

// ModuleType identifies which GenTL module a Port belongs to. This
// producer only ever exposes a Device-level port.
type ModuleType uint8

const ModuleDevice ModuleType = 0

// TLType is the fixed transport-layer type string this producer reports.
const TLType = "USB3Vision"

// PortInfo is the static descriptor a Port reports about itself.
type PortInfo struct {
	ID         string
	VendorName string
	ModelName  string
	TLType     string
	ModuleType ModuleType
	Endianness Endianness
	Access     PortAccess
}

// XmlInfo describes one GenApi XML file a device publishes, projected
// from a u3v.ManifestEntry. It never decodes or parses the file.
type XmlInfo struct {
	Address         uint64
	Size            uint64
	SchemaVersion   uint32
	CompressionType u3v.CompressionType
}

// Port is the GenTL register-access surface a consumer drives, gated on
// the owning Device being opened.
type Port interface {
	Read(address uint64, buf []byte) error
	Write(address uint64, data []byte) error
	PortInfo() (PortInfo, error)
	XMLInfos() ([]XmlInfo, error)
}
