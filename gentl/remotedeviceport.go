package gentl

import (
	"fmt"

	"github.jpl.nasa.gov/bdube/golab/u3v"
)

// RemoteDevicePort implements Port over a device's control channel,
// translating GenCP/async errors into GenTlError, spec.md §4.5 "RemoteDevice
// port".
type RemoteDevicePort struct {
	cc   u3v.ControlChannelAPI
	info PortInfo
	xml  []XmlInfo
}

func newRemoteDevicePort(cc u3v.ControlChannelAPI, info PortInfo, manifest *u3v.ManifestTable) *RemoteDevicePort {
	xml := make([]XmlInfo, len(manifest.Entries))
	for i, e := range manifest.Entries {
		xml[i] = XmlInfo{
			Address:         e.FileAddress,
			Size:            e.FileSize,
			SchemaVersion:   e.SchemaVersion,
			CompressionType: e.CompressionType,
		}
	}
	return &RemoteDevicePort{cc: cc, info: info, xml: xml}
}

// Read reads len(buf) bytes from address into buf.
func (p *RemoteDevicePort) Read(address uint64, buf []byte) error {
	data, err := p.cc.ReadMem(address, uint16(len(buf)))
	if err != nil {
		return &GenTlError{Kind: ErrIo, Err: err}
	}
	if len(data) != len(buf) {
		return &GenTlError{Kind: ErrIo, Err: fmt.Errorf("short read: got %d of %d bytes", len(data), len(buf))}
	}
	copy(buf, data)
	return nil
}

// Write writes data to address.
func (p *RemoteDevicePort) Write(address uint64, data []byte) error {
	if err := p.cc.WriteMem(address, data); err != nil {
		return &GenTlError{Kind: ErrIo, Err: err}
	}
	return nil
}

// PortInfo returns this port's static descriptor.
func (p *RemoteDevicePort) PortInfo() (PortInfo, error) {
	return p.info, nil
}

// XMLInfos returns the device's published GenApi XML file descriptors.
func (p *RemoteDevicePort) XMLInfos() ([]XmlInfo, error) {
	return p.xml, nil
}

func (p *RemoteDevicePort) close() error {
	return p.cc.Close()
}
