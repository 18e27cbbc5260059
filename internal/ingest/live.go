package ingest

import (
	"strings"
	"time"
)

const (
	defaultBackoffMin = 500 * time.Millisecond
	defaultBackoffMax = 30 * time.Second
)

// IsLive reports whether source names a network stream (rtsp://, http://, ...) rather
// than a file. Live sources are reconnected when they drop instead of being rewound.
func IsLive(source string) bool {
	i := strings.Index(source, "://")
	if i <= 0 {
		return false
	}
	return !strings.EqualFold(source[:i], "file")
}

// Backoff doubles a retry delay from Min up to Max. The zero value uses 500ms..30s.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	cur time.Duration
}

func (b *Backoff) Next() time.Duration {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = defaultBackoffMin
	}
	if hi < lo {
		hi = defaultBackoffMax
		if hi < lo {
			hi = lo
		}
	}
	switch {
	case b.cur < lo:
		b.cur = lo
	default:
		b.cur *= 2
		if b.cur > hi {
			b.cur = hi
		}
	}
	return b.cur
}

func (b *Backoff) Reset() {
	b.cur = 0
}
