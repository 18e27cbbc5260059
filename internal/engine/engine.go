package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dresswatch/internal/config"
)

var (
	ErrUnknownCamera  = errors.New("unknown camera")
	ErrAlreadyRunning = errors.New("camera already running")
)

type running struct {
	stream *Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine supervises one Stream per configured camera.
type Engine struct {
	deps    Deps
	cameras map[string]config.CameraConfig
	det     config.DetectionConfig

	mu      sync.Mutex
	base    context.Context
	streams map[string]*running
	wg      sync.WaitGroup
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		deps:    deps,
		cameras: make(map[string]config.CameraConfig, len(cfg.Cameras)),
		det:     cfg.Detection,
		base:    context.Background(),
		streams: make(map[string]*running),
	}
	for _, cam := range cfg.Cameras {
		e.cameras[cam.ID] = cam
	}
	return e
}

// StartAll starts every enabled camera. ctx also parents cameras restarted later.
func (e *Engine) StartAll(ctx context.Context) {
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()
	for _, id := range e.CameraIDs() {
		if !e.cameras[id].Enabled {
			continue
		}
		if err := e.Start(ctx, id); err != nil && e.deps.Logger != nil {
			e.deps.Logger.Warn("camera start failed", "camera_id", id, "err", err)
		}
	}
}

func (e *Engine) Start(ctx context.Context, cameraID string) error {
	cam, ok := e.cameras[cameraID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.streams[cameraID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, cameraID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &running{stream: NewStream(cam, e.det, e.deps), cancel: cancel, done: make(chan struct{})}
	e.streams[cameraID] = r
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(r.done)
		defer cancel()
		err := r.stream.Run(runCtx)
		if err != nil && e.deps.Logger != nil {
			e.deps.Logger.Error("camera stream ended", "camera_id", cameraID, "err", err)
		}
		e.mu.Lock()
		if e.streams[cameraID] == r {
			delete(e.streams, cameraID)
		}
		e.mu.Unlock()
	}()
	return nil
}

// Stop cancels one camera and waits for its loop to release the source.
func (e *Engine) Stop(cameraID string) {
	e.mu.Lock()
	r, ok := e.streams[cameraID]
	if ok {
		delete(e.streams, cameraID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

func (e *Engine) Restart(cameraID string) error {
	e.Stop(cameraID)
	e.mu.Lock()
	ctx := e.base
	e.mu.Unlock()
	return e.Start(ctx, cameraID)
}

func (e *Engine) StopAll() {
	for _, id := range e.Running() {
		e.Stop(id)
	}
	e.wg.Wait()
}

// Reset clears the emission gate and every camera's tracked classes.
func (e *Engine) Reset() {
	if e.deps.Gate != nil {
		e.deps.Gate.Reset()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.streams {
		r.stream.RequestReset()
	}
}

func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.streams))
	for id := range e.streams {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) CameraIDs() []string {
	out := make([]string, 0, len(e.cameras))
	for id := range e.cameras {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Wait() {
	e.wg.Wait()
}
