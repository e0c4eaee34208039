package u3v

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// drainTimeout bounds how long Close waits for an in-flight transfer to
// unwind after being cancelled, per transfer, before giving up on it.
const drainTimeout = 1 * time.Second

// Transfer is a handle to one outstanding asynchronous bulk read. It is
// only ever touched through AsyncPool's methods; done is read with
// acquire/release semantics via sync/atomic so Poll can be a lock-free
// fast path.
type Transfer struct {
	id     uint64
	buf    []byte
	done   atomic.Bool
	n      int
	err    error
	cancel context.CancelFunc
}

// ID returns the transfer's pool-assigned sequence number.
func (t *Transfer) ID() uint64 { return t.id }

// AsyncPool manages a set of concurrently outstanding bulk-IN reads
// against a single endpoint, per spec.md §4.3. Submission order is
// preserved in the internal FIFO queue; CancelAll walks it in reverse so a
// transfer that is about to complete naturally is cancelled last, not
// first, avoiding a race where a late cancel arrives just after a
// transfer already delivered data.
type AsyncPool struct {
	mu      sync.Mutex
	ep      bulkInEndpoint
	pending []*Transfer
	nextID  uint64
	closed  bool
}

// NewAsyncPool builds a pool reading from ep.
func NewAsyncPool(ep bulkInEndpoint) *AsyncPool {
	return &AsyncPool{ep: ep}
}

// Submit starts an asynchronous read into buf and returns a handle to it.
// The read runs on its own goroutine; use Poll to retrieve the result.
func (p *AsyncPool) Submit(buf []byte) (*Transfer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &AsyncError{Kind: ErrDisconnected}
	}
	id := p.nextID
	p.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transfer{id: id, buf: buf, cancel: cancel}
	p.pending = append(p.pending, t)
	p.mu.Unlock()

	go p.run(ctx, t)
	return t, nil
}

func (p *AsyncPool) run(ctx context.Context, t *Transfer) {
	n, err := p.ep.ReadContext(ctx, t.buf)
	if err != nil && ctx.Err() != nil {
		err = &AsyncError{Kind: ErrCancelled, Err: err}
	} else if err != nil {
		err = &AsyncError{Kind: ErrIo, Err: err}
	}
	t.n, t.err = n, err
	t.done.Store(true)
}

// Poll waits up to timeout for the transfer at the head of the FIFO queue
// to complete; it never takes an explicit transfer handle. This matches
// async_read.rs's AsyncPool::poll: completions are always reaped in
// submission order, even if the underlying transport finishes a later
// transfer first, so a caller can never jump the queue by holding onto a
// Transfer returned from Submit. Returns ErrNoTransfersPending if the
// queue is empty, or ErrTimeout if the head transfer hasn't completed by
// the deadline.
func (p *AsyncPool) Poll(timeout time.Duration) (int, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return 0, &AsyncError{Kind: ErrNoTransfersPending}
	}
	head := p.pending[0]
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for !head.done.Load() {
		if !time.Now().Before(deadline) {
			return 0, &AsyncError{Kind: ErrTimeout}
		}
		time.Sleep(time.Millisecond)
	}
	p.remove(head)
	return head.n, head.err
}

// CancelAll cancels every outstanding transfer, walking the FIFO queue in
// reverse submission order.
func (p *AsyncPool) CancelAll() {
	p.mu.Lock()
	toCancel := make([]*Transfer, len(p.pending))
	copy(toCancel, p.pending)
	p.mu.Unlock()

	for i := len(toCancel) - 1; i >= 0; i-- {
		toCancel[i].cancel()
	}
}

// Close cancels every outstanding transfer and drains the FIFO head-first,
// waiting up to drainTimeout per transfer. A transfer that still hasn't
// unwound by its deadline is force-dropped so Close always returns. Safe
// to call more than once.
func (p *AsyncPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.CancelAll()

	for p.Pending() > 0 {
		p.mu.Lock()
		head := p.pending[0]
		p.mu.Unlock()

		if _, err := p.Poll(drainTimeout); err != nil {
			if ae, ok := err.(*AsyncError); ok && ae.Kind == ErrTimeout {
				p.remove(head)
			}
		}
	}
	return nil
}

func (p *AsyncPool) remove(t *Transfer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pt := range p.pending {
		if pt == t {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// Pending reports the number of outstanding transfers.
func (p *AsyncPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
