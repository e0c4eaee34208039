package gencp

import (
	"encoding/binary"
	"sync"
)

// Command SCD kind codes mirror the ack SCD kinds (spec.md §4.4: "a
// symmetric command codec... structurally identical: prefix magic, CCD,
// SCD"). cmdCCDLen is the fixed length of that shared header: prefix
// magic u32 + kind u16 + scd_len u16 + request_id u16 + reserved u16.
const (
	cmdCCDLen = 12
)

// Command kind codes as they appear on the wire preceding a command's SCD,
// distinct from (but numerically related to) the ack SCD kind codes: GenCP
// assigns commands the ack kind code minus one (the low bit toggles
// between "...Cmd" and "...Ack").
const (
	cmdReadMem        uint16 = 0x0800
	cmdWriteMem       uint16 = 0x0802
	cmdReadMemStacked uint16 = 0x0806
	cmdWriteMemStacked uint16 = 0x0808
)

// RequestIDGen generates monotonically increasing, wrapping request IDs for
// outgoing commands, the way golaborate's usbtmc.bTagGen generates
// incrementing bTags: a mutex-guarded counter, never returning zero after
// the first call so that zero can be reserved as "no request in flight" by
// callers that want it.
type RequestIDGen struct {
	mu    sync.Mutex
	value uint16
}

// Next returns the next request ID, starting at 1 and wrapping past
// 0xFFFF back to 1 (0 is skipped).
func (g *RequestIDGen) Next() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value++
	if g.value == 0 {
		g.value = 1
	}
	return g.value
}

// EncodeReadMemCmd encodes a ReadMem command requesting length bytes
// starting at address. Its SCD is {address u64, reserved u16, length u16}.
func EncodeReadMemCmd(requestID uint16, address uint64, length uint16) []byte {
	const scdLen = 12
	buf := make([]byte, cmdCCDLen+scdLen)
	encodeCCDHeader(buf, cmdReadMem, scdLen, requestID)
	binary.LittleEndian.PutUint64(buf[cmdCCDLen:cmdCCDLen+8], address)
	binary.LittleEndian.PutUint16(buf[cmdCCDLen+8:cmdCCDLen+10], 0)
	binary.LittleEndian.PutUint16(buf[cmdCCDLen+10:cmdCCDLen+12], length)
	return buf
}

// EncodeWriteMemCmd encodes a WriteMem command writing data at address.
func EncodeWriteMemCmd(requestID uint16, address uint64, data []byte) []byte {
	scdLen := 8 + len(data)
	buf := make([]byte, cmdCCDLen+scdLen)
	encodeCCDHeader(buf, cmdWriteMem, uint16(scdLen), requestID)
	binary.LittleEndian.PutUint64(buf[cmdCCDLen:cmdCCDLen+8], address)
	copy(buf[cmdCCDLen+8:], data)
	return buf
}

// ReadMemStackedEntry is one (address, length) pair of a stacked read.
type ReadMemStackedEntry struct {
	Address uint64
	Length  uint16
}

// EncodeReadMemStackedCmd encodes a ReadMemStacked command, one 12-byte
// {address u64, reserved u16, length u16} entry per requested range.
func EncodeReadMemStackedCmd(requestID uint16, entries []ReadMemStackedEntry) []byte {
	const entryLen = 12
	scdLen := entryLen * len(entries)
	buf := make([]byte, cmdCCDLen+scdLen)
	encodeCCDHeader(buf, cmdReadMemStacked, uint16(scdLen), requestID)
	off := cmdCCDLen
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Address)
		binary.LittleEndian.PutUint16(buf[off+8:off+10], 0)
		binary.LittleEndian.PutUint16(buf[off+10:off+12], e.Length)
		off += entryLen
	}
	return buf
}

// WriteMemStackedEntry is one (address, data) pair of a stacked write.
type WriteMemStackedEntry struct {
	Address uint64
	Data    []byte
}

// EncodeWriteMemStackedCmd encodes a WriteMemStacked command: each entry is
// {address u64, reserved u16, length u16, data...}.
func EncodeWriteMemStackedCmd(requestID uint16, entries []WriteMemStackedEntry) []byte {
	scdLen := 0
	for _, e := range entries {
		scdLen += 12 + len(e.Data)
	}
	buf := make([]byte, cmdCCDLen+scdLen)
	encodeCCDHeader(buf, cmdWriteMemStacked, uint16(scdLen), requestID)
	off := cmdCCDLen
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Address)
		binary.LittleEndian.PutUint16(buf[off+8:off+10], 0)
		binary.LittleEndian.PutUint16(buf[off+10:off+12], uint16(len(e.Data)))
		off += 12
		copy(buf[off:], e.Data)
		off += len(e.Data)
	}
	return buf
}

// encodeCCDHeader writes the shared cmdCCDLen-byte prefix+CCD header all
// GenCP commands begin with: prefix magic, flags/command kind, scd_len,
// request_id.
func encodeCCDHeader(buf []byte, kind uint16, scdLen uint16, requestID uint16) {
	binary.LittleEndian.PutUint32(buf[0:4], prefixMagic)
	binary.LittleEndian.PutUint16(buf[4:6], kind)
	binary.LittleEndian.PutUint16(buf[6:8], scdLen)
	binary.LittleEndian.PutUint16(buf[8:10], requestID)
	// bytes [10:12] are reserved flags, left zero.
}
