package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"dresswatch/internal/config"
	"dresswatch/internal/ingest"
	"dresswatch/internal/metrics"
	"dresswatch/internal/model"
	"dresswatch/internal/profile"
)

var ErrSourceUnavailable = errors.New("video source unavailable")

type Detector interface {
	Detect(ctx context.Context, frame model.Frame, allowed []model.ClassID, minConfidence float64) ([]model.Detection, error)
}

// Source yields frames in read order. Read returns false when the source is exhausted.
type Source interface {
	Read() (model.Frame, bool)
	Rewind() error
	Close() error
}

// OpenFunc opens a camera's source. ctx bounds the source's lifetime, including any pacing waits.
type OpenFunc func(ctx context.Context, cam config.CameraConfig) (Source, error)

type Dispatcher interface {
	Submit(c model.Confirmation) bool
}

type Exemptions interface {
	IsExempt(class model.ClassID, now time.Time) bool
}

type LiveView interface {
	Publish(cameraID string, jpeg []byte)
}

type Deps struct {
	Registry   *profile.Registry
	Gate       *Gate
	Detector   Detector
	Open       OpenFunc
	Dispatcher Dispatcher
	Exemptions Exemptions
	Live       LiveView
	// Placeholder renders the image shown in place of a camera that could not be opened.
	Placeholder func(msg string) []byte
	Status      *metrics.Store
	Metrics     *metrics.Collectors
	Logger      *slog.Logger
	Clock       func() time.Time
	// Reconnect paces reopening a dropped live stream. Each stream keeps its own copy.
	Reconnect ingest.Backoff
}

// Stream runs one camera: read, detect, aggregate, hand confirmations to the dispatcher.
type Stream struct {
	cam      config.CameraConfig
	profile  model.CameraProfile
	agg      *Aggregator
	deps     Deps
	minConf  float64
	resetReq atomic.Bool
}

func NewStream(cam config.CameraConfig, det config.DetectionConfig, deps Deps) *Stream {
	prof := deps.Registry.Lookup(cam.ID)
	return &Stream{
		cam:     cam,
		profile: prof,
		agg:     NewAggregator(prof, deps.Registry.Label, det.FrameThreshold, det.MinConfidence, deps.Gate),
		deps:    deps,
		minConf: det.MinConfidence,
	}
}

func (s *Stream) CameraID() string {
	return s.cam.ID
}

// RequestReset clears the aggregator before the next frame. Safe from any goroutine.
func (s *Stream) RequestReset() {
	s.resetReq.Store(true)
}

// Run loops until ctx is cancelled. A source that cannot be opened, or a file that yields
// nothing after a rewind, ends the stream with ErrSourceUnavailable. A live stream URL that
// drops after opening is reopened with backoff until it serves again.
func (s *Stream) Run(ctx context.Context) error {
	if s.deps.Open == nil {
		return fmt.Errorf("%w: camera %s has no opener", ErrSourceUnavailable, s.cam.ID)
	}
	live := ingest.IsLive(s.cam.Source)
	backoff := s.deps.Reconnect
	defer s.deps.Status.Update(s.cam.ID, func(st *model.CameraStats) { st.Running = false })

	opened := false
	for {
		src, err := s.deps.Open(ctx, s.cam)
		switch {
		case err == nil:
			opened = true
			err = s.consume(ctx, src, live, &backoff)
			src.Close()
			if err != nil {
				return err
			}
		case ctx.Err() != nil:
		default:
			s.unavailable(err)
			if !live || !opened {
				return fmt.Errorf("%w: camera %s: %v", ErrSourceUnavailable, s.cam.ID, err)
			}
		}
		if ctx.Err() != nil {
			break
		}
		delay := backoff.Next()
		if s.deps.Logger != nil {
			s.deps.Logger.Info("reconnecting camera stream", "camera_id", s.cam.ID, "delay", delay.String())
		}
		if !ingest.BackoffSleep(ctx, delay) {
			break
		}
	}
	if s.deps.Logger != nil {
		s.deps.Logger.Info("camera stream stopped", "camera_id", s.cam.ID)
	}
	return nil
}

// consume reads src until ctx ends or the source gives out. A nil return while ctx is
// still live means a live stream dropped and should be reopened.
func (s *Stream) consume(ctx context.Context, src Source, live bool, backoff *ingest.Backoff) error {
	s.deps.Status.Update(s.cam.ID, func(st *model.CameraStats) {
		st.Running = true
		st.LastError = ""
	})
	if s.deps.Logger != nil {
		s.deps.Logger.Info("camera stream started", "camera_id", s.cam.ID, "source", s.cam.Source)
	}

	rewound := false
	for ctx.Err() == nil {
		frame, ok := src.Read()
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			if live {
				s.unavailable(fmt.Errorf("camera %s stream dropped", s.cam.ID))
				return nil
			}
			if rewound {
				err := fmt.Errorf("%w: camera %s yields no frames", ErrSourceUnavailable, s.cam.ID)
				s.unavailable(err)
				return err
			}
			if err := src.Rewind(); err != nil {
				s.unavailable(err)
				return fmt.Errorf("%w: rewind camera %s: %v", ErrSourceUnavailable, s.cam.ID, err)
			}
			rewound = true
			continue
		}
		rewound = false
		backoff.Reset()
		s.Process(ctx, frame)
	}
	return nil
}

// Process runs one frame through detection and aggregation and returns what was confirmed.
func (s *Stream) Process(ctx context.Context, frame model.Frame) []model.Confirmation {
	if s.resetReq.Swap(false) {
		s.agg.Reset()
	}
	now := frame.CapturedAt
	if now.IsZero() {
		now = s.clock()
	}
	exempt := func(class model.ClassID) bool {
		return s.deps.Exemptions != nil && s.deps.Exemptions.IsExempt(class, now)
	}

	var detections []model.Detection
	var detErr error
	allowed := s.deps.Registry.Allowed(s.profile, exempt)
	if len(allowed) > 0 && s.deps.Detector != nil {
		start := time.Now()
		detections, detErr = s.deps.Detector.Detect(ctx, frame, allowed, s.minConf)
		s.deps.Metrics.ObserveDetector(s.cam.ID, time.Since(start), detErr)
		if detErr != nil {
			detections = nil
			if s.deps.Logger != nil {
				s.deps.Logger.Warn("detector error", "camera_id", s.cam.ID, "seq", frame.Seq, "err", detErr)
			}
		}
	}

	confirmations := s.agg.Observe(now, frame, detections, exempt)
	for _, c := range confirmations {
		s.deps.Metrics.ObserveConfirmation(c.CameraID, string(c.Kind))
		if s.deps.Logger != nil {
			s.deps.Logger.Info("class confirmed",
				"camera_id", c.CameraID,
				"class_id", int(c.Class),
				"label", c.Label,
				"kind", string(c.Kind),
				"confidence", c.Confidence,
			)
		}
		if s.deps.Dispatcher != nil && !s.deps.Dispatcher.Submit(c) && s.deps.Logger != nil {
			s.deps.Logger.Warn("confirmation dropped", "camera_id", c.CameraID, "class_id", int(c.Class))
		}
	}

	if s.deps.Live != nil && len(frame.JPEG) > 0 {
		s.deps.Live.Publish(s.cam.ID, frame.JPEG)
	}
	s.deps.Metrics.ObserveFrame(s.cam.ID)
	tracks := s.agg.Snapshot()
	s.deps.Status.Update(s.cam.ID, func(st *model.CameraStats) {
		st.FramesRead++
		st.LastFrameAt = now
		st.Confirmations += int64(len(confirmations))
		if detErr != nil {
			st.DetectorErrors++
			st.LastError = detErr.Error()
		}
		st.Tracks = tracks
	})
	return confirmations
}

func (s *Stream) unavailable(err error) {
	if s.deps.Logger != nil {
		s.deps.Logger.Error("video source unavailable", "camera_id", s.cam.ID, "source", s.cam.Source, "err", err)
	}
	s.deps.Status.Update(s.cam.ID, func(st *model.CameraStats) {
		st.Running = false
		st.LastError = err.Error()
	})
	if s.deps.Live != nil && s.deps.Placeholder != nil {
		if img := s.deps.Placeholder("camera " + s.cam.ID + " unavailable"); len(img) > 0 {
			s.deps.Live.Publish(s.cam.ID, img)
		}
	}
}

func (s *Stream) clock() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock()
	}
	return time.Now()
}
