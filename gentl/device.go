package gentl

import (
	"errors"
	"log"
	"sync"

	"github.jpl.nasa.gov/bdube/golab/memory"
	"github.jpl.nasa.gov/bdube/golab/u3v"
)

// Device's local register map, spec.md §4.5: "Device wraps memory.Memory
// for its local register map (port info, XML manifest address/size,
// DeviceAccessStatusReg)". DeviceIDReg/VendorNameReg/ModelNameReg mirror
// cameleon-gentl's u3v.rs initialize_vm, which writes the device's static
// identification into its own vm at construction; XmlAddressReg/
// XmlSizeReg are populated once Open reads the camera's ABRM and point at
// its remote manifest table rather than duplicating the XML bytes.
const (
	deviceIDRegLen   = 64
	vendorNameRegLen = 64
	modelNameRegLen  = 64

	deviceIDRegOffset     = 0
	vendorNameRegOffset   = deviceIDRegOffset + deviceIDRegLen
	modelNameRegOffset    = vendorNameRegOffset + vendorNameRegLen
	xmlAddressRegOffset   = modelNameRegOffset + modelNameRegLen
	xmlSizeRegOffset      = xmlAddressRegOffset + 8
	accessStatusRegOffset = xmlSizeRegOffset + 8

	localRegisterMapSize = accessStatusRegOffset + 4
)

var (
	deviceIDReg     = memory.NewStringRegister("DeviceIDReg", deviceIDRegOffset, deviceIDRegLen)
	vendorNameReg   = memory.NewStringRegister("DeviceVendorNameReg", vendorNameRegOffset, vendorNameRegLen)
	modelNameReg    = memory.NewStringRegister("DeviceModelNameReg", modelNameRegOffset, modelNameRegLen)
	xmlAddressReg   = memory.NewUint64Register("DeviceXmlAddressReg", xmlAddressRegOffset)
	xmlSizeReg      = memory.NewUint64Register("DeviceXmlSizeReg", xmlSizeRegOffset)
	accessStatusReg = memory.NewUint32Register("DeviceAccessStatusReg", accessStatusRegOffset)
)

// Device is a single camera exposed as a GenTL Producer device: a local,
// register-backed Port (its own identification and access-status
// registers) plus, once opened, a RemoteDevicePort delegating to the
// camera's control channel. These are two distinct Port roles — Device
// itself never forwards Read/Write to the camera.
//
// A Device's RemoteDevicePort is guarded by mu so the producer side can
// be driven from multiple GenTL consumers, spec.md §5: "The GenTL device
// module wraps its RemoteDevice in a mutual-exclusion primitive."
type Device struct {
	mu sync.Mutex

	dev    u3v.DeviceAPI
	local  *memory.Memory
	status DeviceAccessStatus

	remote *RemoteDevicePort
	abrm   *u3v.AbrmInfo
}

var _ Port = (*Device)(nil)

// NewDevice wraps a discovered u3v.Device. The returned Device's status is
// StatusReadWrite, but its DeviceAccessStatusReg reads StatusUnknown until
// ReflectStatus is called; Open does not reflect the status either.
func NewDevice(dev u3v.DeviceAPI) *Device {
	local := memory.New(localRegisterMapSize)
	local.SetAccessRight(deviceIDReg, memory.RO)
	local.SetAccessRight(vendorNameReg, memory.RO)
	local.SetAccessRight(modelNameReg, memory.RO)
	local.SetAccessRight(xmlAddressReg, memory.RO)
	local.SetAccessRight(xmlSizeReg, memory.RO)
	local.SetAccessRight(accessStatusReg, memory.RW)

	info := dev.Info()
	if err := memory.WriteRegister[string](local, deviceIDReg, info.GUID); err != nil {
		log.Printf("gentl: write DeviceIDReg: %v", err)
	}
	if err := memory.WriteRegister[string](local, vendorNameReg, info.VendorName); err != nil {
		log.Printf("gentl: write DeviceVendorNameReg: %v", err)
	}
	if err := memory.WriteRegister[string](local, modelNameReg, info.ModelName); err != nil {
		log.Printf("gentl: write DeviceModelNameReg: %v", err)
	}

	return &Device{dev: dev, local: local, status: StatusReadWrite}
}

// Read implements Port for the device's own local register map (identity
// and access-status registers), distinct from the RemoteDevicePort
// returned by RemoteDevice. Gated on the device being opened.
func (d *Device) Read(address uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.isOpened() {
		return &GenTlError{Kind: ErrNotInitialized}
	}
	data, err := d.local.ReadRaw(int(address), int(address)+len(buf))
	if err != nil {
		return &GenTlError{Kind: ErrIo, Err: err}
	}
	copy(buf, data)
	return nil
}

// Write implements Port for the device's own local register map. A
// successful write fires handleEvents, mirroring cameleon-gentl's
// U3VDeviceModule::write calling handle_events() after updating its vm.
func (d *Device) Write(address uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.isOpened() {
		return &GenTlError{Kind: ErrNotInitialized}
	}
	if err := d.local.WriteRaw(int(address), data); err != nil {
		return &GenTlError{Kind: ErrIo, Err: err}
	}
	d.handleEvents()
	return nil
}

// handleEvents is the local port's write-triggered event hook. Stream/
// event dispatch isn't implemented (out of scope), matching the
// handle_events TODO in cameleon-gentl's u3v.rs.
func (d *Device) handleEvents() {}

// PortInfo implements Port for the device's own local port. Gated on the
// device being opened.
func (d *Device) PortInfo() (PortInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.isOpened() {
		return PortInfo{}, &GenTlError{Kind: ErrNotInitialized}
	}
	info := d.dev.Info()
	return PortInfo{
		ID:         info.GUID,
		VendorName: info.VendorName,
		ModelName:  info.ModelName,
		TLType:     TLType,
		ModuleType: ModuleDevice,
		Endianness: LittleEndian,
		Access:     AccessRW,
	}, nil
}

// XMLInfos implements Port for the device's own local port: it reports
// where the remote camera's manifest table lives (DeviceXmlAddressReg/
// DeviceXmlSizeReg), not the XML bytes themselves. Use RemoteDevice's
// Port for the per-file entries.
func (d *Device) XMLInfos() ([]XmlInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.isOpened() {
		return nil, &GenTlError{Kind: ErrNotInitialized}
	}
	addr, err := memory.ReadRegister[uint64](d.local, xmlAddressReg)
	if err != nil {
		return nil, &GenTlError{Kind: ErrIo, Err: err}
	}
	size, err := memory.ReadRegister[uint64](d.local, xmlSizeReg)
	if err != nil {
		return nil, &GenTlError{Kind: ErrIo, Err: err}
	}
	return []XmlInfo{{Address: addr, Size: size}}, nil
}

func (d *Device) setStatus(s DeviceAccessStatus) {
	d.status = s
}

// ReflectStatus mirrors the module's current lifecycle state into
// DeviceAccessStatusReg. It is never called automatically — GenTL
// consumers observe a stale snapshot until they call it explicitly.
func (d *Device) ReflectStatus() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return memory.WriteRegister[uint32](d.local, accessStatusReg, uint32(d.status))
}

// AccessStatus always reads DeviceAccessStatusReg, never the module's
// live in-process state: callers must ReflectStatus first to see a fresh
// value.
func (d *Device) AccessStatus() (DeviceAccessStatus, error) {
	v, err := memory.ReadRegister[uint32](d.local, accessStatusReg)
	if err != nil {
		return StatusUnknown, err
	}
	return DeviceAccessStatus(v), nil
}

// IsOpened reports whether the device's current (not reflected) status is
// an open state.
func (d *Device) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status.isOpened()
}

// Open claims exclusive access to the remote device, reads its ABRM and
// manifest table, and constructs the RemoteDevicePort. Only AccessExclusive
// is accepted.
func (d *Device) Open(flag AccessFlag) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if flag != AccessExclusive {
		return &GenTlError{Kind: ErrAccessDenied}
	}
	if d.status.isOpened() {
		return &GenTlError{Kind: ErrResourceInUse}
	}

	cc, err := d.dev.ControlChannel()
	if err != nil {
		if errors.Is(err, u3v.ErrDeviceBusy) {
			d.setStatus(StatusBusy)
			return &GenTlError{Kind: ErrResourceInUse, Err: err}
		}
		d.setStatus(StatusNoAccess)
		return &GenTlError{Kind: ErrIo, Err: err}
	}

	abrm, err := u3v.ReadAbrm(cc)
	if err != nil {
		cc.Close()
		d.setStatus(StatusNoAccess)
		return &GenTlError{Kind: ErrIo, Err: err}
	}

	manifest, err := u3v.ReadManifestTable(cc, abrm.ManifestTableAddress)
	if err != nil {
		cc.Close()
		d.setStatus(StatusNoAccess)
		return &GenTlError{Kind: ErrIo, Err: err}
	}

	info := PortInfo{
		ID:         d.dev.Info().GUID,
		VendorName: d.dev.Info().VendorName,
		ModelName:  d.dev.Info().ModelName,
		TLType:     TLType,
		ModuleType: ModuleDevice,
		Endianness: LittleEndian,
		Access:     AccessRW,
	}

	manifestSize := uint64(8 + len(manifest.Entries)*u3v.ManifestEntryLen)
	if err := memory.WriteRegister[uint64](d.local, xmlAddressReg, abrm.ManifestTableAddress); err != nil {
		cc.Close()
		d.setStatus(StatusNoAccess)
		return &GenTlError{Kind: ErrIo, Err: err}
	}
	if err := memory.WriteRegister[uint64](d.local, xmlSizeReg, manifestSize); err != nil {
		cc.Close()
		d.setStatus(StatusNoAccess)
		return &GenTlError{Kind: ErrIo, Err: err}
	}

	d.remote = newRemoteDevicePort(cc, info, manifest)
	d.abrm = abrm
	d.setStatus(StatusOpenReadWrite)
	return nil
}

// Close drops the RemoteDevicePort and transitions back to ReadWrite.
// Idempotent: closing an already-closed Device is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.remote == nil {
		return nil
	}
	err := d.remote.close()
	d.remote = nil
	d.abrm = nil
	if err != nil {
		d.setStatus(StatusNoAccess)
		return &GenTlError{Kind: ErrIo, Err: err}
	}
	d.setStatus(StatusReadWrite)
	return nil
}

// RemoteDevice returns the Port bound to the camera's control channel.
// Requires the device to be opened.
func (d *Device) RemoteDevice() (Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remote == nil {
		return nil, &GenTlError{Kind: ErrNotInitialized}
	}
	return d.remote, nil
}

// DeviceID returns the opaque enumeration-scoped device id.
func (d *Device) DeviceID() u3v.DeviceID { return d.dev.DeviceID() }

// VendorName returns the device's USB vendor string.
func (d *Device) VendorName() string { return d.dev.Info().VendorName }

// ModelName returns the device's USB model string.
func (d *Device) ModelName() string { return d.dev.Info().ModelName }

// SerialNumber returns the device's USB serial number string.
func (d *Device) SerialNumber() string { return d.dev.Info().SerialNumber }

// DisplayName returns a human-readable vendor/model/serial composite.
func (d *Device) DisplayName() string {
	info := d.dev.Info()
	return info.VendorName + " " + info.ModelName + " (" + info.SerialNumber + ")"
}

// TLType returns the fixed transport-layer type this producer reports.
func (d *Device) TLType() string { return TLType }

// UserDefinedName returns the ABRM user-defined name. Requires the device
// to be opened.
func (d *Device) UserDefinedName() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.abrm == nil {
		return "", &GenTlError{Kind: ErrNotInitialized}
	}
	return d.abrm.UserDefinedName, nil
}

// DeviceVersion returns the ABRM device version string. Requires the
// device to be opened.
func (d *Device) DeviceVersion() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.abrm == nil {
		return "", &GenTlError{Kind: ErrNotInitialized}
	}
	return d.abrm.DeviceVersion, nil
}

// TimestampFrequency returns the ABRM timestamp increment, in Hz.
// Requires the device to be opened.
func (d *Device) TimestampFrequency() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.abrm == nil {
		return 0, &GenTlError{Kind: ErrNotInitialized}
	}
	return d.abrm.TimestampIncrement, nil
}
