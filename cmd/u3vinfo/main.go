// Command u3vinfo enumerates USB3 Vision devices and prints each one's
// ABRM and manifest table, mirroring golaborate's thin cmd/ entry points
// (one binary per subsystem, minimal flag surface).
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/gousb"

	"github.jpl.nasa.gov/bdube/golab/gentl"
	"github.jpl.nasa.gov/bdube/golab/u3v"
)

func main() {
	vid := flag.Uint("vid", 0, "restrict enumeration to this USB vendor ID (0 = any)")
	pid := flag.Uint("pid", 0, "restrict enumeration to this USB product ID (0 = any)")
	flag.Parse()

	ctx := gousb.NewContext()
	defer ctx.Close()

	filter := u3v.DefaultFilter
	if *vid != 0 || *pid != 0 {
		filter = func(desc *gousb.DeviceDesc) bool {
			if *vid != 0 && uint(desc.Vendor) != *vid {
				return false
			}
			if *pid != 0 && uint(desc.Product) != *pid {
				return false
			}
			return true
		}
	}

	devs, err := u3v.Enumerate(ctx, filter)
	if err != nil {
		log.Fatalf("u3vinfo: enumerate: %v", err)
	}
	if len(devs) == 0 {
		fmt.Println("u3vinfo: no devices found")
		return
	}

	for _, dev := range devs {
		printDevice(dev)
	}
}

func printDevice(dev *u3v.Device) {
	defer dev.Close()

	info := dev.Info()
	fmt.Printf("device %d: %s %s (serial %s)\n", dev.DeviceID(), info.VendorName, info.ModelName, info.SerialNumber)

	d := gentl.NewDevice(dev)
	if err := d.Open(gentl.AccessExclusive); err != nil {
		fmt.Printf("  open failed: %v\n", err)
		return
	}
	defer d.Close()

	if v, err := d.DeviceVersion(); err == nil {
		fmt.Printf("  device version: %s\n", v)
	}
	if n, err := d.UserDefinedName(); err == nil && n != "" {
		fmt.Printf("  user-defined name: %s\n", n)
	}
	if f, err := d.TimestampFrequency(); err == nil {
		fmt.Printf("  timestamp frequency: %d Hz\n", f)
	}

	port, err := d.RemoteDevice()
	if err != nil {
		return
	}
	xmls, err := port.XMLInfos()
	if err != nil {
		return
	}
	fmt.Printf("  manifest entries: %d\n", len(xmls))
	for i, x := range xmls {
		fmt.Printf("    [%d] addr=%#x size=%d schema=%d\n", i, x.Address, x.Size, x.SchemaVersion)
	}
}
