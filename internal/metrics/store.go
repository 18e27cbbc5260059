package metrics

import (
	"sort"
	"sync"
	"time"

	"dresswatch/internal/model"
)

// Store keeps the latest status of every camera stream for the API.
type Store struct {
	mu        sync.RWMutex
	byCamera  map[string]*model.CameraStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 256
	}
	return &Store{
		byCamera:  make(map[string]*model.CameraStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

// Update applies fn to the camera's stats under the store lock.
func (s *Store) Update(cameraID string, fn func(*model.CameraStats)) {
	if s == nil || cameraID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byCamera[cameraID]
	if !ok {
		st = &model.CameraStats{CameraID: cameraID}
		s.byCamera[cameraID] = st
	}
	fn(st)
	s.updatedAt[cameraID] = time.Now().UTC()
	if len(s.byCamera) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(cameraID string) (model.CameraStats, time.Time, bool) {
	if s == nil {
		return model.CameraStats{}, time.Time{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byCamera[cameraID]
	if !ok {
		return model.CameraStats{}, time.Time{}, false
	}
	return copyStats(st), s.updatedAt[cameraID], true
}

// GetAll returns every camera's stats ordered by camera id.
func (s *Store) GetAll() []model.CameraStats {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CameraStats, 0, len(s.byCamera))
	for _, st := range s.byCamera {
		out = append(out, copyStats(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

func copyStats(st *model.CameraStats) model.CameraStats {
	out := *st
	if st.Tracks != nil {
		out.Tracks = append([]model.TrackState(nil), st.Tracks...)
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestCamera string
	var oldest time.Time
	for camera, ts := range s.updatedAt {
		if s.byCamera[camera].Running {
			continue
		}
		if oldestCamera == "" || ts.Before(oldest) {
			oldestCamera = camera
			oldest = ts
		}
	}
	if oldestCamera != "" {
		delete(s.byCamera, oldestCamera)
		delete(s.updatedAt, oldestCamera)
	}
}

// Clear drops stopped cameras and zeroes the counters of running ones. A running
// camera keeps its entry so it is not reported as stopped until its next frame.
func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for camera, st := range s.byCamera {
		if !st.Running {
			delete(s.byCamera, camera)
			delete(s.updatedAt, camera)
			continue
		}
		s.byCamera[camera] = &model.CameraStats{CameraID: camera, Running: true}
		s.updatedAt[camera] = now
	}
}
