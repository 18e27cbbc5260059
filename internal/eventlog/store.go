package eventlog

import (
	"sync"

	"dresswatch/internal/model"
)

// Store is a bounded in-memory log of the most recently written events.
type Store struct {
	mu    sync.RWMutex
	buf   []model.DetectionEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(ev model.DetectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

// List returns up to limit events, newest first.
func (s *Store) List(limit int) []model.DetectionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.DetectionEvent, 0, limit)
	for i := len(s.buf) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Latest() (model.DetectionEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buf) == 0 {
		return model.DetectionEvent{}, false
	}
	return s.buf[len(s.buf)-1], true
}

func (s *Store) ByCamera(cameraID string, limit int) []model.DetectionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DetectionEvent, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].CameraID != cameraID {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
