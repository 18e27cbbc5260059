package api

import (
	"sync"

	"github.com/hybridgroup/mjpeg"
)

// LiveHub keeps one MJPEG stream per camera, fed with the frames the engine reads.
type LiveHub struct {
	mu      sync.RWMutex
	streams map[string]*mjpeg.Stream
}

// NewLiveHub pre-creates streams for ids so clients can connect before the first frame.
func NewLiveHub(ids ...string) *LiveHub {
	h := &LiveHub{streams: make(map[string]*mjpeg.Stream, len(ids))}
	for _, id := range ids {
		h.streams[id] = mjpeg.NewStream()
	}
	return h
}

func (h *LiveHub) Publish(cameraID string, jpeg []byte) {
	if h == nil || len(jpeg) == 0 {
		return
	}
	h.mu.RLock()
	s, ok := h.streams[cameraID]
	h.mu.RUnlock()
	if !ok {
		h.mu.Lock()
		if s, ok = h.streams[cameraID]; !ok {
			s = mjpeg.NewStream()
			h.streams[cameraID] = s
		}
		h.mu.Unlock()
	}
	s.UpdateJPEG(jpeg)
}

func (h *LiveHub) Stream(cameraID string) *mjpeg.Stream {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.streams[cameraID]
}
