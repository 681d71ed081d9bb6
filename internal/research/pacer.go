package research

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// CallKind names a class of outbound call that is spaced independently.
type CallKind string

const (
	CallPageFetch CallKind = "page_fetch"
	CallClassify  CallKind = "classify"
	CallSource    CallKind = "source"
)

// Intervals is the minimum spacing between two calls of the same kind.
type Intervals struct {
	PageFetch time.Duration
	Classify  time.Duration
	Source    time.Duration
}

// DefaultIntervals are the crawl-etiquette delays used in production.
func DefaultIntervals() Intervals {
	return Intervals{
		PageFetch: 2 * time.Second,
		Classify:  1 * time.Second,
		Source:    3 * time.Second,
	}
}

// Pacer enforces a minimum inter-request interval per call kind. Each kind
// gets a single-token bucket, so at most one call is admitted per interval.
type Pacer struct {
	limiters map[CallKind]*rate.Limiter
}

// NewPacer builds a pacer; zero intervals disable waiting for that kind.
func NewPacer(iv Intervals) *Pacer {
	p := &Pacer{limiters: map[CallKind]*rate.Limiter{}}
	p.set(CallPageFetch, iv.PageFetch)
	p.set(CallClassify, iv.Classify)
	p.set(CallSource, iv.Source)
	return p
}

func (p *Pacer) set(kind CallKind, every time.Duration) {
	if every <= 0 {
		return
	}
	p.limiters[kind] = rate.NewLimiter(rate.Every(every), 1)
}

// Wait blocks until a call of the given kind may proceed.
func (p *Pacer) Wait(ctx context.Context, kind CallKind) error {
	if p == nil {
		return ctx.Err()
	}
	limiter, ok := p.limiters[kind]
	if !ok {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// Mark records a call of the given kind as just finished, so the next Wait
// for that kind is spaced from now rather than from when the call began.
func (p *Pacer) Mark(kind CallKind) {
	if p == nil {
		return
	}
	if limiter, ok := p.limiters[kind]; ok {
		limiter.Reserve()
	}
}
