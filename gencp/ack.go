package gencp

import (
	"encoding/binary"
	"time"
)

// prefixMagic is the little-endian "U3VC" magic that opens every GenCP
// acknowledge (and command) packet.
const prefixMagic uint32 = 0x43563355

// Ack is a parsed GenCP acknowledge packet. Data-bearing SCD variants
// (ReadMem, ReadMemStacked, Custom) borrow their payload directly from the
// buffer passed to ParseAck: Ack must not outlive that buffer, and the
// caller must not mutate or reuse the buffer while the Ack is alive.
type Ack struct {
	status    Status
	scdKind   ScdKind
	requestID uint16
	scd       *Scd
}

// Scd is the specific command descriptor payload of an Ack. Exactly one of
// the typed accessors below is meaningful, selected by Kind().
type Scd struct {
	kind ScdKind

	// ReadMem / ReadMemStacked / Custom: a view into the caller's buffer.
	data []byte

	// WriteMem
	writeLength uint16

	// WriteMemStacked
	writeLengths []uint16

	// Pending
	timeout time.Duration
}

// Kind returns which SCD shape this descriptor holds.
func (s *Scd) Kind() ScdKind { return s.kind }

// Data returns the payload for ReadMem, ReadMemStacked, and Custom SCDs.
// It is nil for other kinds.
func (s *Scd) Data() []byte { return s.data }

// WriteLength returns the written byte count of a WriteMem SCD.
func (s *Scd) WriteLength() uint16 { return s.writeLength }

// WriteLengths returns the per-entry written byte counts of a
// WriteMemStacked SCD.
func (s *Scd) WriteLengths() []uint16 { return s.writeLengths }

// Timeout returns the retry deadline hint of a Pending SCD.
func (s *Scd) Timeout() time.Duration { return s.timeout }

// Status returns the parsed status of the acknowledge.
func (a *Ack) Status() Status { return a.status }

// RequestID returns the request ID echoed from the originating command.
// The codec does not interpret this value; matching it to a pending
// request is the control channel's job.
func (a *Ack) RequestID() uint16 { return a.requestID }

// Scd returns the specific command descriptor, or nil if Status() is not
// success (spec.md §3: "present only when status==Success").
func (a *Ack) Scd() *Scd { return a.scd }

// CustomCommandID returns (id, true) iff the SCD kind is a vendor-custom
// command.
func (a *Ack) CustomCommandID() (uint16, bool) {
	if a.scd == nil || !a.scd.kind.isCustom() {
		return 0, false
	}
	return uint16(a.scd.kind), true
}

// ParseAck decodes a GenCP acknowledge packet from buf.
//
// buf must remain valid and unmodified for as long as the returned Ack (and
// any Scd.Data() slice taken from it) is in use: data-bearing SCDs are
// zero-copy views into buf, never reallocated.
func ParseAck(buf []byte) (*Ack, error) {
	r := newReader(buf)

	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != prefixMagic {
		return nil, &InvalidPacketError{Reason: "invalid prefix magic"}
	}

	statusCode, err := r.u16()
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(statusCode)
	if err != nil {
		return nil, err
	}

	scdKindRaw, err := r.u16()
	if err != nil {
		return nil, err
	}
	scdKind, err := parseScdKind(scdKindRaw)
	if err != nil {
		return nil, err
	}

	scdLen, err := r.u16()
	if err != nil {
		return nil, err
	}
	requestID, err := r.u16()
	if err != nil {
		return nil, err
	}

	ack := &Ack{
		status:    status,
		scdKind:   scdKind,
		requestID: requestID,
	}

	if !status.IsSuccess() {
		return ack, nil
	}

	scd, err := parseScd(r, scdKind, scdLen)
	if err != nil {
		return nil, err
	}
	ack.scd = scd
	return ack, nil
}

func parseScd(r *reader, kind ScdKind, scdLen uint16) (*Scd, error) {
	switch {
	case kind == ScdReadMem:
		data, err := r.bytes(scdLen)
		if err != nil {
			return nil, err
		}
		return &Scd{kind: kind, data: data}, nil

	case kind == ScdReadMemStacked:
		data, err := r.bytes(scdLen)
		if err != nil {
			return nil, err
		}
		return &Scd{kind: kind, data: data}, nil

	case kind == ScdWriteMem:
		reserved, err := r.u16()
		if err != nil {
			return nil, err
		}
		if reserved != 0 {
			return nil, &InvalidPacketError{Reason: "the first two bytes of WriteMemAck scd must be set to zero"}
		}
		length, err := r.u16()
		if err != nil {
			return nil, err
		}
		return &Scd{kind: kind, writeLength: length}, nil

	case kind == ScdWriteMemStacked:
		lengths, err := parseWriteMemStackedEntries(r, scdLen)
		if err != nil {
			return nil, err
		}
		return &Scd{kind: kind, writeLengths: lengths}, nil

	case kind == ScdPending:
		reserved, err := r.u16()
		if err != nil {
			return nil, err
		}
		if reserved != 0 {
			return nil, &InvalidPacketError{Reason: "the first two bytes of PendingAck scd must be set to zero"}
		}
		timeoutMs, err := r.u16()
		if err != nil {
			return nil, err
		}
		return &Scd{kind: kind, timeout: time.Duration(timeoutMs) * time.Millisecond}, nil

	case kind.isCustom():
		data, err := r.bytes(scdLen)
		if err != nil {
			return nil, err
		}
		return &Scd{kind: kind, data: data}, nil

	default:
		return nil, &InvalidPacketError{Reason: "unreachable scd kind"}
	}
}

// parseWriteMemStackedEntries consumes {reserved=0, length} 4-byte entries
// until the scd_len budget is exhausted.
//
// This follows the original source's lenient, saturating accounting
// (spec.md §9): the remaining budget is decremented by a flat 4 per entry
// using saturating subtraction, so an scd_len not divisible by 4 still
// terminates cleanly after the last whole entry rather than erroring on a
// trailing partial one. This is documented leniency, not a bug.
func parseWriteMemStackedEntries(r *reader, scdLen uint16) ([]uint16, error) {
	var lengths []uint16
	remaining := scdLen
	for remaining > 0 {
		reserved, err := r.u16()
		if err != nil {
			return nil, err
		}
		if reserved != 0 {
			return nil, &InvalidPacketError{Reason: "the first two bytes of each WriteMemStackedAck scd entry must be set to zero"}
		}
		length, err := r.u16()
		if err != nil {
			return nil, err
		}
		lengths = append(lengths, length)
		if remaining < 4 {
			remaining = 0
		} else {
			remaining -= 4
		}
	}
	return lengths, nil
}

// reader is a minimal little-endian cursor over a byte slice, mirroring
// the role of Rust's std::io::Cursor + byteorder::ReadBytesExt in the
// original source.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// bytes returns a zero-copy view of the next n bytes, or InvalidPacketError
// if fewer than n remain.
func (r *reader) bytes(n uint16) ([]byte, error) {
	end := r.pos + int(n)
	if end > len(r.buf) {
		return nil, &InvalidPacketError{Reason: "packet truncated before declared field length"}
	}
	b := r.buf[r.pos:end]
	r.pos = end
	return b, nil
}
