package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// minBurst keeps small limits from degenerating into byte-at-a-time reads
const minBurst = 32 * 1024

// Limiter caps the throughput of readers it wraps, in bytes per second
type Limiter struct {
	limiter *rate.Limiter
	burst   int
}

// NewLimiter creates a limiter for bytesPerSec. A non-positive value disables limiting.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}

	burst := int(bytesPerSec)
	if burst < minBurst {
		burst = minBurst
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		burst:   burst,
	}
}

// Enabled reports whether the limiter throttles at all
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Reader wraps r so every Read waits for enough tokens
func (l *Limiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if !l.Enabled() {
		return r
	}
	return &reader{ctx: ctx, r: r, l: l}
}

type reader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

func (tr *reader) Read(p []byte) (int, error) {
	if len(p) > tr.l.burst {
		p = p[:tr.l.burst]
	}

	n, err := tr.r.Read(p)
	if n > 0 {
		if werr := tr.l.limiter.WaitN(tr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
