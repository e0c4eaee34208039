package gencp

import "fmt"

// InvalidPacketError is returned by ParseAck when an ack buffer is
// malformed: a bad prefix, a reserved field that isn't zero, an unknown
// status or SCD kind, or a buffer too short for its declared length.
//
// A malformed packet is never delivered to the caller in partial form; it
// is always the sole return value alongside a nil Ack.
type InvalidPacketError struct {
	Reason string
}

func (e *InvalidPacketError) Error() string {
	return fmt.Sprintf("invalid gencp packet: %s", e.Reason)
}
