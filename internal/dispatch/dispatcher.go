package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dresswatch/internal/metrics"
	"dresswatch/internal/model"
	"dresswatch/internal/storage"
)

var ErrClosed = errors.New("dispatcher closed")

type RecordStore interface {
	UpsertEvent(ctx context.Context, collection string, ev model.DetectionEvent) error
}

type BlobStore interface {
	Save(ctx context.Context, data []byte, name string) (string, error)
}

type EventLog interface {
	Add(ev model.DetectionEvent)
}

type Publisher interface {
	Publish(ctx context.Context, ev model.DetectionEvent) error
}

type Options struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	JPEGQuality  int
	// Location is the zone event dates and times are written in.
	Location  *time.Location
	Recent    EventLog
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Collectors
}

type job struct {
	id   uuid.UUID
	conf model.Confirmation
}

// Dispatcher writes confirmations on a bounded worker pool. Submit never blocks;
// a full queue drops the confirmation.
type Dispatcher struct {
	records RecordStore
	blobs   BlobStore
	opts    Options

	queue  chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	dropped   atomic.Int64
	processed atomic.Int64
}

func New(records RecordStore, blobs BlobStore, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 60
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	d := &Dispatcher{
		records: records,
		blobs:   blobs,
		opts:    opts,
		queue:   make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Submit(c model.Confirmation) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		if d.opts.Logger != nil {
			d.opts.Logger.Warn("confirmation rejected", "camera_id", c.CameraID, "err", ErrClosed)
		}
		return false
	}
	j := job{id: uuid.New(), conf: c}
	select {
	case d.queue <- j:
		d.opts.Metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.dropped.Add(1)
		d.opts.Metrics.ObserveDrop()
		if d.opts.Logger != nil {
			d.opts.Logger.Warn("dispatch queue full, dropping confirmation",
				"camera_id", c.CameraID,
				"class_id", int(c.Class),
				"queue_size", cap(d.queue),
			)
		}
		return false
	}
}

// Close stops intake and waits for queued confirmations to be written.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) Processed() int64 {
	return d.processed.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.opts.Metrics.SetQueueDepth(len(d.queue))
		d.process(j)
		d.processed.Add(1)
	}
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()

	c := j.conf
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.In(d.opts.Location)
	id := NewEventID(c.Kind, at)
	logger := d.opts.Logger
	if logger != nil {
		logger = logger.With("job_id", j.id.String(), "event_id", id, "camera_id", c.CameraID)
	}

	frameURL := d.saveSnapshot(ctx, logger, id, at, c.Frame)

	ev := model.DetectionEvent{
		ID:            id,
		CameraID:      c.CameraID,
		Date:          at.Format("2006-01-02"),
		Time:          at.Format("15:04:05"),
		ClassLabel:    c.Label,
		Kind:          c.Kind,
		ConfidencePct: ConfidencePct(c.Confidence),
		FrameURL:      frameURL,
		Status:        c.Kind.Status(),
	}
	collection := storage.CollectionFor(c.Kind)
	if d.records != nil {
		start := time.Now()
		err := d.records.UpsertEvent(ctx, collection, ev)
		d.opts.Metrics.ObserveStep("record", time.Since(start))
		d.opts.Metrics.ObserveWrite(collection, err)
		if err != nil {
			if logger != nil {
				logger.Error("event write failed", "collection", collection, "err", err)
			}
		} else if logger != nil {
			logger.Info("event written",
				"collection", collection,
				"class_label", ev.ClassLabel,
				"confidence_pct", ev.ConfidencePct,
				"frame_url", ev.FrameURL,
			)
		}
	}
	if d.opts.Recent != nil {
		d.opts.Recent.Add(ev)
	}
	if d.opts.Publisher != nil {
		// Publisher failures are logged and counted by the publisher itself.
		_ = d.opts.Publisher.Publish(ctx, ev)
	}
}

func (d *Dispatcher) saveSnapshot(ctx context.Context, logger *slog.Logger, id string, at time.Time, frame model.Frame) string {
	if d.blobs == nil || len(frame.JPEG) == 0 {
		return ""
	}
	start := time.Now()
	data, err := Recompress(frame.JPEG, d.opts.JPEGQuality)
	if err != nil {
		if logger != nil {
			logger.Warn("snapshot re-encode failed, storing original", "err", err)
		}
		data = frame.JPEG
	}
	url, err := d.blobs.Save(ctx, data, id+"_"+at.Format("150405")+".jpg")
	d.opts.Metrics.ObserveStep("snapshot", time.Since(start))
	if err != nil {
		if logger != nil {
			logger.Error("snapshot save failed", "err", err)
		}
		return ""
	}
	return url
}

// ConfidencePct converts a 0-1 confidence to a percentage rounded to two decimals.
func ConfidencePct(conf float64) float64 {
	return math.Round(conf*100*100) / 100
}
