// Package u3v implements USB3 Vision device discovery, the control/event/
// stream channel layer, and the asynchronous bulk-transfer pool, backed by
// github.com/google/gousb's bulk endpoint support — the same dependency
// golaborate's usbtmc package uses for its USBTMC bulk transport.
package u3v

import (
	"fmt"
	"log"
)

// DeviceID is an opaque per-enumeration device handle, stable only for the
// lifetime of the owning Context's device list.
type DeviceID uint32

// DeviceInfo is an immutable record describing a discovered USB3 Vision
// device, created at enumeration and never mutated thereafter.
type DeviceInfo struct {
	VendorName   string
	ModelName    string
	SerialNumber string
	GUID         string
}

// IfaceKind identifies which of a U3V device's three logical interfaces a
// Channel binds to.
type IfaceKind uint8

const (
	// IfaceControl is the mandatory request/response interface: one
	// bulk-OUT and one bulk-IN endpoint.
	IfaceControl IfaceKind = iota
	// IfaceEvent is an optional bulk-IN-only interface carrying
	// asynchronous device events.
	IfaceEvent
	// IfaceStream is an optional bulk-IN-only interface carrying image
	// stream payloads.
	IfaceStream
)

func (k IfaceKind) String() string {
	switch k {
	case IfaceControl:
		return "Control"
	case IfaceEvent:
		return "Event"
	case IfaceStream:
		return "Stream"
	default:
		return "unknown"
	}
}

// DeviceAPI is the subset of *Device the gentl device module depends on,
// so it can be driven against a test double instead of a real USB device.
type DeviceAPI interface {
	DeviceID() DeviceID
	Info() DeviceInfo
	ControlChannel() (ControlChannelAPI, error)
}

// Device binds a DeviceID and its descriptor to factories for each of the
// three channel kinds. The Control channel is mandatory; Event and Stream
// may be absent on devices that don't expose those interfaces.
type Device struct {
	id   DeviceID
	info DeviceInfo

	bus *bus
}

func newDevice(id DeviceID, info DeviceInfo, bus *bus) *Device {
	d := &Device{id: id, info: info, bus: bus}
	log.Printf("u3v: discovered device %s", d.logName())
	return d
}

// DeviceID returns the opaque enumeration-scoped device id.
func (d *Device) DeviceID() DeviceID { return d.id }

// Info returns the device's immutable descriptor.
func (d *Device) Info() DeviceInfo { return d.info }

// ControlChannel opens the mandatory Control interface's bulk endpoints
// and returns a synchronous request/response channel.
func (d *Device) ControlChannel() (ControlChannelAPI, error) {
	t, err := d.bus.openTransport(d.id, IfaceControl)
	if err != nil {
		return nil, err
	}
	return newControlChannel(t), nil
}

// EventChannel opens the Event interface, if the device exposes one.
// Returns (nil, nil) if it does not.
func (d *Device) EventChannel() (*ReceiveChannel, error) {
	return d.receiveChannel(IfaceEvent)
}

// StreamChannel opens the Stream interface, if the device exposes one.
// Returns (nil, nil) if it does not.
func (d *Device) StreamChannel() (*ReceiveChannel, error) {
	return d.receiveChannel(IfaceStream)
}

func (d *Device) receiveChannel(kind IfaceKind) (*ReceiveChannel, error) {
	t, err := d.bus.openTransport(d.id, kind)
	if err != nil {
		if err == errInterfaceNotPresent {
			return nil, nil
		}
		return nil, err
	}
	return newReceiveChannel(t), nil
}

func (d *Device) logName() string {
	return fmt.Sprintf("%s-%s-%s", d.info.VendorName, d.info.ModelName, d.info.SerialNumber)
}

// Close releases the device's underlying USB handle. Safe to call more
// than once.
func (d *Device) Close() error {
	return d.bus.close()
}
