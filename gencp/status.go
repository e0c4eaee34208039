// Package gencp implements the wire codec for the Generic Control Protocol
// (GenCP) command and acknowledge packets used on a USB3 Vision device's
// control channel.
//
// The codec is pure: it performs no I/O and no retry.  Matching a command
// to its acknowledge by request ID, and deciding whether to retry a fatal
// or pending status, is the control channel's job (see package u3v).
package gencp

import "fmt"

// Namespace identifies which status table a Status code was drawn from.
type Namespace uint8

const (
	// NamespaceGenCP is the generic, device-independent status table.
	NamespaceGenCP Namespace = 0b00
	// NamespaceUSB is the USB3 Vision specific status table.
	NamespaceUSB Namespace = 0b01
	// NamespaceDevice is an opaque, vendor/device specific status code.
	NamespaceDevice Namespace = 0b10
)

// GenCPStatus enumerates the well known GenCP namespace status codes.
type GenCPStatus uint16

// GenCP namespace status codes, spec.md §3.
const (
	StatusSuccess          GenCPStatus = 0x0000
	StatusNotImplemented   GenCPStatus = 0x8001
	StatusInvalidParameter GenCPStatus = 0x8002
	StatusInvalidAddress   GenCPStatus = 0x8003
	StatusWriteProtect     GenCPStatus = 0x8004
	StatusBadAlignment     GenCPStatus = 0x8005
	StatusAccessDenied     GenCPStatus = 0x8006
	StatusBusy             GenCPStatus = 0x8007
	StatusTimeout          GenCPStatus = 0x800B
	StatusInvalidHeader    GenCPStatus = 0x800E
	StatusWrongConfig      GenCPStatus = 0x800F
	StatusGenericError     GenCPStatus = 0x8FFF
)

// USBStatus enumerates the USB3 Vision specific status codes.
type USBStatus uint16

// USB-specific namespace status codes, spec.md §3.
const (
	StatusResendNotSupported   USBStatus = 0xA001
	StatusStreamEndpointHalted USBStatus = 0xA002
	StatusPayloadSizeNotAligned USBStatus = 0xA003
	StatusInvalidSiState       USBStatus = 0xA004
	StatusEventEndpointHalted  USBStatus = 0xA005
)

// Status is the parsed form of the u16 status code carried in a GenCP CCD.
//
// Bits 14..13 of the raw code hold a 2-bit namespace and bit 15 is the
// fatal flag; the remaining bits are the namespace's own code space.
type Status struct {
	code      uint16
	namespace Namespace
}

// Code returns the raw u16 status code as it appeared on the wire.
func (s Status) Code() uint16 { return s.code }

// Namespace returns which status table s.Code() belongs to.
func (s Status) Namespace() Namespace { return s.namespace }

// IsSuccess reports whether this status is GenCP Success (0x0000).
func (s Status) IsSuccess() bool {
	return s.namespace == NamespaceGenCP && GenCPStatus(s.code) == StatusSuccess
}

// IsFatal reports whether the fatal bit (bit 15) of the status code is set.
func (s Status) IsFatal() bool {
	return s.code>>15 == 1
}

// GenCP returns the GenCP status code and true iff s is in the GenCP
// namespace.
func (s Status) GenCP() (GenCPStatus, bool) {
	if s.namespace != NamespaceGenCP {
		return 0, false
	}
	return GenCPStatus(s.code), true
}

// USB returns the USB-specific status code and true iff s is in the USB
// namespace.
func (s Status) USB() (USBStatus, bool) {
	if s.namespace != NamespaceUSB {
		return 0, false
	}
	return USBStatus(s.code), true
}

func (s Status) String() string {
	return fmt.Sprintf("Status(code=0x%04X, namespace=%#v, fatal=%t)", s.code, s.namespace, s.IsFatal())
}

// parseStatus decodes the raw status code into a Status, validating the
// namespace and, for the GenCP/USB namespaces, the specific code.
//
// The namespace is `(code >> 13) & 0b11` (the original source masks with
// `& 0x11` instead); namespace 0b11 is always rejected.
func parseStatus(code uint16) (Status, error) {
	namespace := Namespace((code >> 13) & 0b11)
	switch namespace {
	case NamespaceGenCP:
		if !isKnownGenCPStatus(code) {
			return Status{}, &InvalidPacketError{Reason: fmt.Sprintf("invalid gencp status code %#04x", code)}
		}
	case NamespaceUSB:
		if !isKnownUSBStatus(code) {
			return Status{}, &InvalidPacketError{Reason: fmt.Sprintf("invalid usb status code %#04x", code)}
		}
	case NamespaceDevice:
		// opaque, retained as-is
	default:
		return Status{}, &InvalidPacketError{Reason: "invalid ack status code, namespace is set to 0b11"}
	}
	return Status{code: code, namespace: namespace}, nil
}

func isKnownGenCPStatus(code uint16) bool {
	switch GenCPStatus(code) {
	case StatusSuccess, StatusNotImplemented, StatusInvalidParameter, StatusInvalidAddress,
		StatusWriteProtect, StatusBadAlignment, StatusAccessDenied, StatusBusy, StatusTimeout,
		StatusInvalidHeader, StatusWrongConfig, StatusGenericError:
		return true
	default:
		return false
	}
}

func isKnownUSBStatus(code uint16) bool {
	switch USBStatus(code) {
	case StatusResendNotSupported, StatusStreamEndpointHalted, StatusPayloadSizeNotAligned,
		StatusInvalidSiState, StatusEventEndpointHalted:
		return true
	default:
		return false
	}
}
