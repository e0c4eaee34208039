package u3v

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.jpl.nasa.gov/bdube/golab/gencp"
)

// maxAckSize bounds the scratch buffer a ControlChannel reads acknowledge
// packets into. GenCP acks carry at most one bulk ReadMem/ReadMemStacked
// payload; 64KiB comfortably covers every bootstrap register and manifest
// read this package issues.
const maxAckSize = 64 * 1024

// maxBusyRetries bounds how many times a Busy acknowledge is retried
// before requestAck gives up.
const maxBusyRetries = 8

// roundTripTimeout bounds a single command/acknowledge exchange.
const roundTripTimeout = 2 * time.Second

// ControlChannelAPI is the subset of *ControlChannel that higher layers
// (Abrm/manifest readers, gentl.RemoteDevicePort) depend on, so they can
// be exercised against a test double instead of a real control channel.
type ControlChannelAPI interface {
	ReadMem(address uint64, length uint16) ([]byte, error)
	WriteMem(address uint64, data []byte) error
	ReadMemStacked(entries []gencp.ReadMemStackedEntry) ([][]byte, error)
	WriteMemStacked(entries []gencp.WriteMemStackedEntry) error
	Close() error
}

// ControlChannel is the synchronous request/response channel over a
// device's mandatory Control interface, per spec.md §4.4. Only one
// request may be in flight at a time; requestAck serializes callers with
// an internal mutex, mirroring the USB3 Vision control protocol's
// single-outstanding-request rule.
type ControlChannel struct {
	mu      sync.Mutex
	out     bulkOutEndpoint
	in      bulkInEndpoint
	reqGen  gencp.RequestIDGen
	readBuf []byte
	closer  func()
}

func newControlChannel(t *usbTransport) *ControlChannel {
	return &ControlChannel{
		out:     t.outEndpoint(),
		in:      t.inEndpoint(),
		readBuf: make([]byte, maxAckSize),
		closer:  t.close,
	}
}

// Close releases the channel's underlying USB interface claim.
func (c *ControlChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closer()
	return nil
}

// roundTrip writes cmd and reads back one acknowledge packet, verifying
// its request ID matches. Callers must hold c.mu.
func (c *ControlChannel) roundTrip(cmd []byte, requestID uint16) (*gencp.Ack, error) {
	ctx, cancel := context.WithTimeout(context.Background(), roundTripTimeout)
	defer cancel()

	if _, err := c.out.WriteContext(ctx, cmd); err != nil {
		return nil, &AsyncError{Kind: ErrIo, Err: err}
	}
	n, err := c.in.ReadContext(ctx, c.readBuf)
	if err != nil {
		return nil, &AsyncError{Kind: ErrIo, Err: err}
	}

	ack, err := gencp.ParseAck(c.readBuf[:n])
	if err != nil {
		return nil, err
	}
	if ack.RequestID() != requestID {
		return nil, fmt.Errorf("u3v: control channel: request id mismatch, sent %d got %d", requestID, ack.RequestID())
	}
	return ack, nil
}

// requestAck drives one logical request to completion, transparently
// retrying Busy acknowledges with exponential backoff and Pending
// acknowledges after sleeping for the device-supplied timeout hint —
// spec.md §4.4's "Busy/Pending retry" behavior.
func (c *ControlChannel) requestAck(cmd []byte, requestID uint16) (*gencp.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ack *gencp.Ack
	op := func() error {
		a, err := c.roundTrip(cmd, requestID)
		if err != nil {
			return backoff.Permanent(err)
		}

		if gcp, ok := a.Status().GenCP(); ok && gcp == gencp.StatusBusy {
			return fmt.Errorf("u3v: control channel busy")
		}
		if a.Status().IsSuccess() && a.Scd() != nil && a.Scd().Kind() == gencp.ScdPending {
			time.Sleep(a.Scd().Timeout())
			return fmt.Errorf("u3v: control channel pending, request %d not yet complete", requestID)
		}
		if !a.Status().IsSuccess() {
			return backoff.Permanent(fmt.Errorf("u3v: control channel: non-success status %v", a.Status()))
		}
		ack = a
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxBusyRetries)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return ack, nil
}

// ReadMem reads length bytes starting at address.
func (c *ControlChannel) ReadMem(address uint64, length uint16) ([]byte, error) {
	requestID := c.reqGen.Next()
	cmd := gencp.EncodeReadMemCmd(requestID, address, length)
	ack, err := c.requestAck(cmd, requestID)
	if err != nil {
		return nil, err
	}
	if ack.Scd() == nil || ack.Scd().Kind() != gencp.ScdReadMem {
		return nil, fmt.Errorf("u3v: control channel: expected ReadMem ack, got %v", ack.Scd())
	}
	// The ack's Data() is a zero-copy view into c.readBuf, which the next
	// round trip will overwrite: copy it out before returning.
	out := make([]byte, len(ack.Scd().Data()))
	copy(out, ack.Scd().Data())
	return out, nil
}

// WriteMem writes data starting at address.
func (c *ControlChannel) WriteMem(address uint64, data []byte) error {
	requestID := c.reqGen.Next()
	cmd := gencp.EncodeWriteMemCmd(requestID, address, data)
	ack, err := c.requestAck(cmd, requestID)
	if err != nil {
		return err
	}
	if ack.Scd() == nil || ack.Scd().Kind() != gencp.ScdWriteMem {
		return fmt.Errorf("u3v: control channel: expected WriteMem ack, got %v", ack.Scd())
	}
	if int(ack.Scd().WriteLength()) != len(data) {
		return fmt.Errorf("u3v: control channel: device wrote %d of %d bytes", ack.Scd().WriteLength(), len(data))
	}
	return nil
}

// ReadMemStacked reads several ranges in one request, returning one slice
// per entry in submission order.
func (c *ControlChannel) ReadMemStacked(entries []gencp.ReadMemStackedEntry) ([][]byte, error) {
	requestID := c.reqGen.Next()
	cmd := gencp.EncodeReadMemStackedCmd(requestID, entries)
	ack, err := c.requestAck(cmd, requestID)
	if err != nil {
		return nil, err
	}
	if ack.Scd() == nil || ack.Scd().Kind() != gencp.ScdReadMemStacked {
		return nil, fmt.Errorf("u3v: control channel: expected ReadMemStacked ack, got %v", ack.Scd())
	}
	data := ack.Scd().Data()
	out := make([][]byte, 0, len(entries))
	off := 0
	for _, e := range entries {
		end := off + int(e.Length)
		if end > len(data) {
			return nil, fmt.Errorf("u3v: control channel: ReadMemStacked ack shorter than requested")
		}
		chunk := make([]byte, e.Length)
		copy(chunk, data[off:end])
		out = append(out, chunk)
		off = end
	}
	return out, nil
}

// WriteMemStacked writes several ranges in one request.
func (c *ControlChannel) WriteMemStacked(entries []gencp.WriteMemStackedEntry) error {
	requestID := c.reqGen.Next()
	cmd := gencp.EncodeWriteMemStackedCmd(requestID, entries)
	ack, err := c.requestAck(cmd, requestID)
	if err != nil {
		return err
	}
	if ack.Scd() == nil || ack.Scd().Kind() != gencp.ScdWriteMemStacked {
		return fmt.Errorf("u3v: control channel: expected WriteMemStacked ack, got %v", ack.Scd())
	}
	lengths := ack.Scd().WriteLengths()
	for i, e := range entries {
		if i >= len(lengths) {
			break
		}
		if int(lengths[i]) != len(e.Data) {
			return fmt.Errorf("u3v: control channel: entry %d: device wrote %d of %d bytes", i, lengths[i], len(e.Data))
		}
	}
	return nil
}
