package u3v

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControlEndpoint implements both bulkOutEndpoint and bulkInEndpoint,
// serving one queued ack per WriteContext/ReadContext round trip.
type fakeControlEndpoint struct {
	mu     sync.Mutex
	acks   [][]byte
	writes [][]byte
}

func (f *fakeControlEndpoint) WriteContext(ctx context.Context, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.writes = append(f.writes, cp)
	return len(buf), nil
}

func (f *fakeControlEndpoint) ReadContext(ctx context.Context, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acks) == 0 {
		return 0, context.DeadlineExceeded
	}
	ack := f.acks[0]
	f.acks = f.acks[1:]
	n := copy(buf, ack)
	return n, nil
}

const (
	ackKindReadMem  uint16 = 0x0801
	statusSuccess   uint16 = 0x0000
	statusBusy      uint16 = 0x8007
)

func buildReadMemAck(status uint16, requestID uint16, data []byte) []byte {
	scd := data
	buf := make([]byte, 12+len(scd))
	binary.LittleEndian.PutUint32(buf[0:4], 0x43563355)
	binary.LittleEndian.PutUint16(buf[4:6], status)
	binary.LittleEndian.PutUint16(buf[6:8], ackKindReadMem)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(scd)))
	binary.LittleEndian.PutUint16(buf[10:12], requestID)
	copy(buf[12:], scd)
	return buf
}

func buildBusyAck(requestID uint16) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], 0x43563355)
	binary.LittleEndian.PutUint16(buf[4:6], statusBusy)
	binary.LittleEndian.PutUint16(buf[6:8], ackKindReadMem)
	binary.LittleEndian.PutUint16(buf[8:10], 0)
	binary.LittleEndian.PutUint16(buf[10:12], requestID)
	return buf
}

func newTestControlChannel(ep *fakeControlEndpoint) *ControlChannel {
	return &ControlChannel{
		out:     ep,
		in:      ep,
		readBuf: make([]byte, maxAckSize),
		closer:  func() {},
	}
}

func TestControlChannelReadMemRoundTrip(t *testing.T) {
	ep := &fakeControlEndpoint{}
	cc := newTestControlChannel(ep)

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	ep.acks = [][]byte{buildReadMemAck(statusSuccess, 1, want)}

	got, err := cc.ReadMem(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.Len(t, ep.writes, 1)
}

func TestControlChannelRetriesOnBusy(t *testing.T) {
	ep := &fakeControlEndpoint{}
	cc := newTestControlChannel(ep)

	want := []byte{1, 2, 3, 4}
	ep.acks = [][]byte{
		buildBusyAck(1),
		buildBusyAck(1),
		buildReadMemAck(statusSuccess, 1, want),
	}

	got, err := cc.ReadMem(0x2000, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, ep.writes, 3, "two busy retries plus the final successful round trip")
}

func TestControlChannelRequestIDMismatchErrors(t *testing.T) {
	ep := &fakeControlEndpoint{}
	cc := newTestControlChannel(ep)

	ep.acks = [][]byte{buildReadMemAck(statusSuccess, 99, []byte{0})}

	_, err := cc.ReadMem(0x3000, 1)
	require.Error(t, err)
}
