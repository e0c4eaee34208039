package u3v

import (
	"fmt"
	"log"

	"github.com/google/gousb"
)

// u3vDeviceClass is the "Miscellaneous" class (0xEF) that a USB3 Vision
// device advertises through its interface association descriptor; the
// subclass and protocol values are not checked. gousb
// exposes the parsed interface class triple on gousb.InterfaceSetting, but
// a DeviceDesc-level filter only sees the device's top-level class; most
// U3V devices report 0xEF at the device level too, via their IAD, so a
// device-level filter is sufficient for a best-effort default.
const (
	u3vDeviceClass = 0xEF
)

// DefaultFilter accepts any device reporting the USB3 Vision composite
// class at the device descriptor level. Callers with vendor-specific
// enumeration needs (a known VID/PID pair, for instance) should pass their
// own filter to Enumerate instead.
func DefaultFilter(desc *gousb.DeviceDesc) bool {
	return desc.Class == gousb.Class(u3vDeviceClass)
}

// Enumerate opens every device accepted by filter (or by DefaultFilter, if
// filter is nil) and returns a Device handle for each, per spec.md §7
// "Device discovery". The caller owns ctx and is responsible for calling
// ctx.Close() once every returned Device has been closed.
func Enumerate(ctx *gousb.Context, filter func(*gousb.DeviceDesc) bool) ([]*Device, error) {
	if filter == nil {
		filter = DefaultFilter
	}

	devs, err := ctx.OpenDevices(filter)
	if err != nil {
		return nil, fmt.Errorf("u3v: enumerate devices: %w", err)
	}

	out := make([]*Device, 0, len(devs))
	for i, gd := range devs {
		info, err := describeDevice(gd)
		if err != nil {
			log.Printf("u3v: skipping device %v: %v", gd.Desc, err)
			gd.Close()
			continue
		}
		b, err := newBus(gd)
		if err != nil {
			log.Printf("u3v: skipping device %s: %v", info.SerialNumber, err)
			gd.Close()
			continue
		}
		out = append(out, newDevice(DeviceID(i), info, b))
	}
	return out, nil
}

func describeDevice(gd *gousb.Device) (DeviceInfo, error) {
	vendor, err := gd.Manufacturer()
	if err != nil {
		vendor = "unknown-vendor"
	}
	model, err := gd.Product()
	if err != nil {
		model = "unknown-model"
	}
	serial, err := gd.SerialNumber()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("read serial number: %w", err)
	}
	guid := fmt.Sprintf("%04x:%04x-%s", gd.Desc.Vendor, gd.Desc.Product, serial)
	return DeviceInfo{
		VendorName:   vendor,
		ModelName:    model,
		SerialNumber: serial,
		GUID:         guid,
	}, nil
}
