package ingest

import (
	"context"
	"time"
)

// Pacer spaces reads to a target frame rate so file playback runs at wall-clock speed.
type Pacer struct {
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewPacer returns nil for a non-positive fps; a nil Pacer never waits.
func NewPacer(fps float64) *Pacer {
	if fps <= 0 {
		return nil
	}
	return &Pacer{interval: time.Duration(float64(time.Second) / fps), now: time.Now}
}

// Wait blocks until the next frame slot. It returns false if ctx ends first.
func (p *Pacer) Wait(ctx context.Context) bool {
	if p == nil {
		return ctx.Err() == nil
	}
	now := p.now()
	if p.next.IsZero() || now.Sub(p.next) > p.interval {
		// First frame, or far behind after a slow detector call: restart the schedule.
		p.next = now.Add(p.interval)
		return ctx.Err() == nil
	}
	d := p.next.Sub(now)
	p.next = p.next.Add(p.interval)
	if d <= 0 {
		return ctx.Err() == nil
	}
	return BackoffSleep(ctx, d)
}

func (p *Pacer) Reset() {
	if p != nil {
		p.next = time.Time{}
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
