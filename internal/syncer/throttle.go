package syncer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const maxBurst = 1 << 20

func newLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, maxBurst))
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// throttledReader waits on a shared limiter for every chunk it returns,
// so concurrent transfers split the configured bandwidth.
type throttledReader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *rate.Limiter
}

func (e *Engine) throttle(ctx context.Context, r io.Reader) io.Reader {
	if e.limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, reader: r, limiter: e.limiter}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.reader.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
