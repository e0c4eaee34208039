package u3v

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// errInterfaceNotPresent is returned internally by bus.openTransport when a
// device doesn't expose the requested optional interface (Event or
// Stream); Device.EventChannel/StreamChannel translate it to (nil, nil).
var errInterfaceNotPresent = errors.New("u3v: interface not present on device")

// ErrDeviceBusy is returned by Device.ControlChannel when the Control
// interface is already claimed by another host — an access conflict,
// distinct from a generic I/O failure, so gentl.Device.Open can map it to
// DeviceAccessStatus Busy instead of NoAccess.
var ErrDeviceBusy = errors.New("u3v: device interface already claimed by another host")

// Per-interface-kind USB configuration. U3V composite devices expose the
// Control, Event, and Stream interfaces as consecutive alternate
// interfaces of the same configuration, each with its own bulk
// endpoint(s); the exact interface/endpoint numbering is assigned by the
// device's interface association descriptor and varies per vendor. The
// numbers below follow the common convention golaborate's own
// usbtmc.NewUSBDevice hardcodes (DefaultInterface + a fixed endpoint
// number) generalized to three interfaces instead of one.
const (
	controlIfaceNum = 0
	eventIfaceNum   = 1
	streamIfaceNum  = 2

	controlInEP  = 1
	controlOutEP = 1
	eventInEP    = 2
	streamInEP   = 3

	configNum = 1
)

// bus owns the gousb.Device handle shared by up to three channels
// (spec.md §5: "The USB device handle is shared by up to three channels;
// it must outlive them").
type bus struct {
	mu     sync.Mutex
	dev    *gousb.Device
	cfg    *gousb.Config
	closed bool
}

func newBus(dev *gousb.Device) (*bus, error) {
	cfg, err := dev.Config(configNum)
	if err != nil {
		return nil, fmt.Errorf("u3v: claim config %d: %w", configNum, err)
	}
	return &bus{dev: dev, cfg: cfg}, nil
}

func (b *bus) openTransport(id DeviceID, kind IfaceKind) (*usbTransport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ifaceNum, inEP, outEP, mandatory := b.ifaceParams(kind)
	iface, err := b.cfg.Interface(ifaceNum, 0)
	if err != nil {
		if errors.Is(err, gousb.ErrorBusy) {
			return nil, ErrDeviceBusy
		}
		if mandatory {
			return nil, fmt.Errorf("u3v: claim %s interface: %w", kind, err)
		}
		return nil, errInterfaceNotPresent
	}

	in, err := iface.InEndpoint(inEP)
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("u3v: open %s bulk-IN endpoint %d: %w", kind, inEP, err)
	}

	var out *gousb.OutEndpoint
	if kind == IfaceControl {
		out, err = iface.OutEndpoint(outEP)
		if err != nil {
			iface.Close()
			return nil, fmt.Errorf("u3v: open %s bulk-OUT endpoint %d: %w", kind, outEP, err)
		}
	}

	return &usbTransport{iface: iface, in: in, out: out}, nil
}

func (b *bus) ifaceParams(kind IfaceKind) (num, inEP, outEP int, mandatory bool) {
	switch kind {
	case IfaceControl:
		return controlIfaceNum, controlInEP, controlOutEP, true
	case IfaceEvent:
		return eventIfaceNum, eventInEP, 0, false
	case IfaceStream:
		return streamIfaceNum, streamInEP, 0, false
	default:
		return 0, 0, 0, false
	}
}

func (b *bus) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cfg.Close()
	return b.dev.Close()
}

// bulkInEndpoint is the subset of *gousb.InEndpoint that AsyncPool and
// ReceiveChannel depend on, so tests can substitute a fake.
type bulkInEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// bulkOutEndpoint is the subset of *gousb.OutEndpoint ControlChannel
// depends on.
type bulkOutEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// usbTransport bundles the claimed interface and endpoint(s) for one
// channel. out is nil for Event/Stream channels.
type usbTransport struct {
	iface *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
}

func (t *usbTransport) inEndpoint() bulkInEndpoint {
	return t.in
}

func (t *usbTransport) outEndpoint() bulkOutEndpoint {
	return t.out
}

func (t *usbTransport) close() {
	t.iface.Close()
}
