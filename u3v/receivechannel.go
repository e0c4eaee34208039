package u3v

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ReceiveChannel is the asynchronous bulk-IN-only channel backing a
// device's Event or Stream interface: repeated fixed-size reads fed
// through an AsyncPool, per spec.md §4.3/§4.4.
type ReceiveChannel struct {
	pool    *AsyncPool
	closer  func()
	limiter *rate.Limiter
}

func newReceiveChannel(t *usbTransport) *ReceiveChannel {
	return &ReceiveChannel{
		pool:   NewAsyncPool(t.inEndpoint()),
		closer: t.close,
	}
}

// pollSlice bounds how long a single Wait iteration blocks in the pool
// before re-checking ctx, so cancellation is observed promptly even
// though the underlying pool poll is a plain timeout, not a context.
const pollSlice = 20 * time.Millisecond

// Submit starts an asynchronous read into buf.
func (r *ReceiveChannel) Submit(buf []byte) (*Transfer, error) {
	t, err := r.pool.Submit(buf)
	if err != nil {
		return nil, liftAsyncError(err)
	}
	return t, nil
}

// Poll waits up to timeout for the oldest outstanding transfer to
// complete, per AsyncPool's head-only FIFO contract.
func (r *ReceiveChannel) Poll(timeout time.Duration) (int, error) {
	n, err := r.pool.Poll(timeout)
	if err != nil {
		return n, liftAsyncError(err)
	}
	return n, nil
}

// Wait blocks until the oldest outstanding transfer completes or ctx is
// done, whichever comes first.
func (r *ReceiveChannel) Wait(ctx context.Context) (int, error) {
	for {
		n, err := r.pool.Poll(pollSlice)
		if ae, ok := err.(*AsyncError); ok && ae.Kind == ErrTimeout {
			select {
			case <-ctx.Done():
				return 0, liftAsyncError(ctx.Err())
			default:
				continue
			}
		}
		if err != nil {
			return n, liftAsyncError(err)
		}
		return n, nil
	}
}

// Read is a convenience wrapper submitting a single transfer into buf and
// waiting up to timeout for it to complete, cancelling it otherwise.
func (r *ReceiveChannel) Read(buf []byte, timeout time.Duration) (int, error) {
	if _, err := r.Submit(buf); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := r.Wait(ctx)
	if err != nil {
		r.pool.CancelAll()
	}
	return n, err
}

// SetResubmitRate caps how fast RunContinuous resubmits a new transfer
// after the previous one completes, so a stream of small event packets
// can't busy-loop the bulk-IN endpoint.
func (r *ReceiveChannel) SetResubmitRate(eventsPerSecond float64, burst int) {
	r.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
}

// RunContinuous repeatedly submits bufSize-sized reads, invoking onData
// with each completed transfer's data until ctx is cancelled or onData
// returns a non-nil error. If SetResubmitRate was called, resubmission is
// throttled to that rate.
func (r *ReceiveChannel) RunContinuous(ctx context.Context, bufSize int, onData func([]byte) error) error {
	for {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return liftAsyncError(err)
			}
		}

		buf := make([]byte, bufSize)
		if _, err := r.Submit(buf); err != nil {
			return err
		}
		n, err := r.Wait(ctx)
		if err != nil {
			return err
		}
		if err := onData(buf[:n]); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return liftAsyncError(ctx.Err())
		default:
		}
	}
}

// Close cancels every outstanding transfer, drains them, and releases the
// channel's underlying USB interface claim.
func (r *ReceiveChannel) Close() error {
	err := r.pool.Close()
	r.closer()
	return err
}
