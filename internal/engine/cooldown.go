package engine

import (
	"strconv"
	"sync"
	"time"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

const globalKey = "*"

// Gate spaces emissions at least cooldown apart per key. With the global scope every
// camera and class shares one slot.
type Gate struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	scope    string
}

func NewGate(cooldown time.Duration, scope string) *Gate {
	if scope == "" {
		scope = config.ScopeGlobal
	}
	return &Gate{last: make(map[string]time.Time), cooldown: cooldown, scope: scope}
}

func (g *Gate) Scope() string {
	return g.scope
}

func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// Key maps a candidate onto the gate slot it competes for.
func (g *Gate) Key(cameraID string, class model.ClassID) string {
	switch g.scope {
	case config.ScopeCamera:
		return cameraID
	case config.ScopeCameraClass:
		return cameraID + "|" + strconv.Itoa(int(class))
	}
	return globalKey
}

// TryEmit claims the slot for key when the cooldown since its last emission has elapsed.
func (g *Gate) TryEmit(key string, now time.Time) bool {
	if g.cooldown <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, ok := g.last[key]; ok {
		if now.Sub(ts) < g.cooldown {
			return false
		}
	}
	g.last[key] = now
	return true
}

func (g *Gate) LastEmitted(key string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.last[key]
	return ts, ok
}

func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = make(map[string]time.Time)
	g.mu.Unlock()
}
