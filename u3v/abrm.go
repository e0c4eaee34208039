package u3v

import (
	"encoding/binary"
	"fmt"
)

// ABRM register offsets within the device's bootstrap register block,
// following the USB3 Vision Technology-Abstraction-Bootstrap-Register-Map
// layout cameleon-gentl's u3v.rs reads (GenCPVersion, Manufacturer/Model
// name, SerialNumber, ManifestTableAddress, ...). These are the addresses
// issued over the Control channel; they are illustrative fixed offsets,
// not a vendor-specific register map.
const (
	abrmGenCPVersionOffset        = 0x0000
	abrmManufacturerNameOffset    = 0x0004
	abrmManufacturerNameLen       = 64
	abrmModelNameOffset           = 0x0044
	abrmModelNameLen              = 64
	abrmDeviceVersionOffset       = 0x0084
	abrmDeviceVersionLen          = 64
	abrmSerialNumberOffset        = 0x00D8
	abrmSerialNumberLen           = 64
	abrmUserDefinedNameOffset     = 0x0118
	abrmUserDefinedNameLen        = 64
	abrmTimestampIncrementOffset  = 0x015C
	abrmManifestTableAddrOffset   = 0x0164
)

// AbrmInfo is a snapshot of a device's Application-Bootstrap-Register-Map
// fields, read once over its ControlChannel.
type AbrmInfo struct {
	GenCPVersion        uint32
	ManufacturerName    string
	ModelName           string
	DeviceVersion       string
	SerialNumber        string
	UserDefinedName     string
	TimestampIncrement  uint64
	ManifestTableAddress uint64
}

// ReadAbrm reads every documented ABRM field over cc.
func ReadAbrm(cc ControlChannelAPI) (*AbrmInfo, error) {
	readU32 := func(addr uint64) (uint32, error) {
		b, err := cc.ReadMem(addr, 4)
		if err != nil {
			return 0, err
		}
		if len(b) != 4 {
			return 0, fmt.Errorf("u3v: abrm: short read at %#x", addr)
		}
		return binary.LittleEndian.Uint32(b), nil
	}
	readU64 := func(addr uint64) (uint64, error) {
		b, err := cc.ReadMem(addr, 8)
		if err != nil {
			return 0, err
		}
		if len(b) != 8 {
			return 0, fmt.Errorf("u3v: abrm: short read at %#x", addr)
		}
		return binary.LittleEndian.Uint64(b), nil
	}
	readStr := func(addr uint64, length uint16) (string, error) {
		b, err := cc.ReadMem(addr, length)
		if err != nil {
			return "", err
		}
		for i, c := range b {
			if c == 0 {
				return string(b[:i]), nil
			}
		}
		return string(b), nil
	}

	var info AbrmInfo
	var err error

	if info.GenCPVersion, err = readU32(abrmGenCPVersionOffset); err != nil {
		return nil, err
	}
	if info.ManufacturerName, err = readStr(abrmManufacturerNameOffset, abrmManufacturerNameLen); err != nil {
		return nil, err
	}
	if info.ModelName, err = readStr(abrmModelNameOffset, abrmModelNameLen); err != nil {
		return nil, err
	}
	if info.DeviceVersion, err = readStr(abrmDeviceVersionOffset, abrmDeviceVersionLen); err != nil {
		return nil, err
	}
	if info.SerialNumber, err = readStr(abrmSerialNumberOffset, abrmSerialNumberLen); err != nil {
		return nil, err
	}
	if info.UserDefinedName, err = readStr(abrmUserDefinedNameOffset, abrmUserDefinedNameLen); err != nil {
		return nil, err
	}
	if info.TimestampIncrement, err = readU64(abrmTimestampIncrementOffset); err != nil {
		return nil, err
	}
	if info.ManifestTableAddress, err = readU64(abrmManifestTableAddrOffset); err != nil {
		return nil, err
	}
	return &info, nil
}
