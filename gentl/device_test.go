package gentl_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/golab/gencp"
	"github.jpl.nasa.gov/bdube/golab/gentl"
	"github.jpl.nasa.gov/bdube/golab/u3v"
)

// fakeControlChannel is a minimal u3v.ControlChannelAPI backed by a plain
// byte store, for exercising gentl.Device.Open without a real bus.
type fakeControlChannel struct {
	store  []byte
	closed bool
}

func (f *fakeControlChannel) ReadMem(address uint64, length uint16) ([]byte, error) {
	if f.closed {
		return nil, errors.New("closed")
	}
	out := make([]byte, length)
	copy(out, f.store[address:address+uint64(length)])
	return out, nil
}

func (f *fakeControlChannel) WriteMem(address uint64, data []byte) error {
	copy(f.store[address:], data)
	return nil
}

func (f *fakeControlChannel) ReadMemStacked(entries []gencp.ReadMemStackedEntry) ([][]byte, error) {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i], _ = f.ReadMem(e.Address, e.Length)
	}
	return out, nil
}

func (f *fakeControlChannel) WriteMemStacked(entries []gencp.WriteMemStackedEntry) error {
	for _, e := range entries {
		if err := f.WriteMem(e.Address, e.Data); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeControlChannel) Close() error {
	f.closed = true
	return nil
}

// fakeDevice is a minimal u3v.DeviceAPI.
type fakeDevice struct {
	info      u3v.DeviceInfo
	cc        *fakeControlChannel
	openErr   error
	openCount int
}

func (f *fakeDevice) DeviceID() u3v.DeviceID { return 1 }
func (f *fakeDevice) Info() u3v.DeviceInfo   { return f.info }
func (f *fakeDevice) ControlChannel() (u3v.ControlChannelAPI, error) {
	f.openCount++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.cc, nil
}

func newFakeDeviceWithStore() *fakeDevice {
	store := make([]byte, 0x2000)
	binary.LittleEndian.PutUint64(store[0x0164:], 0x1000) // ManifestTableAddress
	binary.LittleEndian.PutUint64(store[0x1000:], 0)       // 0 manifest entries
	return &fakeDevice{
		info: u3v.DeviceInfo{VendorName: "Acme", ModelName: "CamOne", SerialNumber: "SN1", GUID: "g1"},
		cc:   &fakeControlChannel{store: store},
	}
}

// TestOpenCloseStateMachine implements spec.md §8 scenario S7.
func TestOpenCloseStateMachine(t *testing.T) {
	fd := newFakeDeviceWithStore()
	d := gentl.NewDevice(fd)

	require.NoError(t, d.ReflectStatus())
	status, err := d.AccessStatus()
	require.NoError(t, err)
	assert.Equal(t, gentl.StatusReadWrite, status)

	require.NoError(t, d.Open(gentl.AccessExclusive))
	assert.True(t, d.IsOpened())

	err = d.Open(gentl.AccessExclusive)
	require.Error(t, err)
	var gtErr *gentl.GenTlError
	require.True(t, errors.As(err, &gtErr))
	assert.Equal(t, gentl.ErrResourceInUse, gtErr.Kind)

	require.NoError(t, d.Close())
	assert.False(t, d.IsOpened())

	err = d.Open(gentl.AccessReadOnly)
	require.Error(t, err)
	require.True(t, errors.As(err, &gtErr))
	assert.Equal(t, gentl.ErrAccessDenied, gtErr.Kind)
}

func TestAccessStatusIsLazilyReflected(t *testing.T) {
	fd := newFakeDeviceWithStore()
	d := gentl.NewDevice(fd)

	require.NoError(t, d.ReflectStatus())
	status, err := d.AccessStatus()
	require.NoError(t, err)
	assert.Equal(t, gentl.StatusReadWrite, status)

	require.NoError(t, d.Open(gentl.AccessExclusive))
	// Without a ReflectStatus call, AccessStatus must still report the
	// stale snapshot from before Open.
	status, err = d.AccessStatus()
	require.NoError(t, err)
	assert.Equal(t, gentl.StatusReadWrite, status)

	require.NoError(t, d.ReflectStatus())
	status, err = d.AccessStatus()
	require.NoError(t, err)
	assert.Equal(t, gentl.StatusOpenReadWrite, status)
}

func TestPortRequiresOpenDevice(t *testing.T) {
	fd := newFakeDeviceWithStore()
	d := gentl.NewDevice(fd)

	_, err := d.RemoteDevice()
	require.Error(t, err)

	require.NoError(t, d.Open(gentl.AccessExclusive))
	port, err := d.RemoteDevice()
	require.NoError(t, err)

	info, err := port.PortInfo()
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.VendorName)
	assert.Equal(t, gentl.TLType, info.TLType)

	require.NoError(t, port.Write(0x10, []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.NoError(t, port.Read(0x10, buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	xmls, err := port.XMLInfos()
	require.NoError(t, err)
	assert.Len(t, xmls, 0)
}

func TestOpenFailureTransitionsToNoAccess(t *testing.T) {
	fd := newFakeDeviceWithStore()
	fd.openErr = errors.New("bus error")
	d := gentl.NewDevice(fd)

	err := d.Open(gentl.AccessExclusive)
	require.Error(t, err)

	require.NoError(t, d.ReflectStatus())
	status, err := d.AccessStatus()
	require.NoError(t, err)
	assert.Equal(t, gentl.StatusNoAccess, status)
}

// TestDeviceLocalPortRequiresOpenDevice implements spec.md §4.5's device
// module Port: distinct from RemoteDevice's Port, backed by the device's
// own local register map, and gated on the device being opened.
func TestDeviceLocalPortRequiresOpenDevice(t *testing.T) {
	fd := newFakeDeviceWithStore()
	d := gentl.NewDevice(fd)

	buf := make([]byte, 4)
	require.Error(t, d.Read(0, buf))
	require.Error(t, d.Write(0, buf))
	_, err := d.PortInfo()
	require.Error(t, err)
	_, err = d.XMLInfos()
	require.Error(t, err)

	require.NoError(t, d.Open(gentl.AccessExclusive))

	info, err := d.PortInfo()
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.VendorName)
	assert.Equal(t, gentl.ModuleDevice, info.ModuleType)

	xmls, err := d.XMLInfos()
	require.NoError(t, err)
	require.Len(t, xmls, 1)
	assert.Equal(t, uint64(0x1000), xmls[0].Address)
	assert.Equal(t, uint64(8), xmls[0].Size) // 0 manifest entries: header only
}

// TestDeviceLocalPortIsDistinctFromRemoteDevicePort implements spec.md
// §4.5: a write to the device's own local register map must not be
// visible through the camera's control channel.
func TestDeviceLocalPortIsDistinctFromRemoteDevicePort(t *testing.T) {
	fd := newFakeDeviceWithStore()
	d := gentl.NewDevice(fd)
	require.NoError(t, d.Open(gentl.AccessExclusive))

	const accessStatusRegAddress = 208 // deviceID(64) + vendorName(64) + modelName(64) + xmlAddress(8) + xmlSize(8)
	require.NoError(t, d.Write(accessStatusRegAddress, []byte{0xff, 0xff, 0xff, 0xff}))

	remote, err := d.RemoteDevice()
	require.NoError(t, err)
	remoteBuf := make([]byte, 4)
	require.NoError(t, remote.Read(accessStatusRegAddress, remoteBuf))
	assert.NotEqual(t, []byte{0xff, 0xff, 0xff, 0xff}, remoteBuf, "Device's local port must not alias the camera's control-channel memory")
}

// TestOpenFailureOnAccessConflictTransitionsToBusy implements spec.md §3/
// §4.5: an access conflict opening the Control channel (another host
// already holds it) is a distinct outcome from a generic I/O failure.
func TestOpenFailureOnAccessConflictTransitionsToBusy(t *testing.T) {
	fd := newFakeDeviceWithStore()
	fd.openErr = fmt.Errorf("claim control interface: %w", u3v.ErrDeviceBusy)
	d := gentl.NewDevice(fd)

	err := d.Open(gentl.AccessExclusive)
	require.Error(t, err)
	var gtErr *gentl.GenTlError
	require.True(t, errors.As(err, &gtErr))
	assert.Equal(t, gentl.ErrResourceInUse, gtErr.Kind)

	require.NoError(t, d.ReflectStatus())
	status, err := d.AccessStatus()
	require.NoError(t, err)
	assert.Equal(t, gentl.StatusBusy, status)
}
