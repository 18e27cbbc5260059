package engine

import (
	"sort"
	"time"

	"dresswatch/internal/model"
)

type entry struct {
	streak      int
	firstSeenAt time.Time
	current     float64
	best        float64
	bestFrame   model.Frame
}

// Aggregator turns per-frame detections for one camera into confirmations.
// It is owned by a single goroutine and does no locking.
type Aggregator struct {
	cameraID  string
	profile   model.CameraProfile
	label     func(model.ClassID) string
	threshold int
	minConf   float64
	gate      *Gate
	entries   map[model.ClassID]*entry
}

func NewAggregator(profile model.CameraProfile, label func(model.ClassID) string, threshold int, minConfidence float64, gate *Gate) *Aggregator {
	if threshold <= 0 {
		threshold = 1
	}
	return &Aggregator{
		cameraID:  profile.CameraID,
		profile:   profile,
		label:     label,
		threshold: threshold,
		minConf:   minConfidence,
		gate:      gate,
		entries:   make(map[model.ClassID]*entry),
	}
}

// Observe advances the per-class streaks with one frame's detections. Frames are
// treated as immutable, so the best frame is retained by reference.
func (a *Aggregator) Observe(now time.Time, frame model.Frame, detections []model.Detection, exempt func(model.ClassID) bool) []model.Confirmation {
	seen := make(map[model.ClassID]float64, len(detections))
	for _, d := range detections {
		if d.Confidence < a.minConf || !a.profile.Watches(d.Class) {
			continue
		}
		if exempt != nil && exempt(d.Class) {
			continue
		}
		if prev, ok := seen[d.Class]; !ok || d.Confidence > prev {
			seen[d.Class] = d.Confidence
		}
	}

	classes := make([]model.ClassID, 0, len(seen))
	for class := range seen {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	var out []model.Confirmation
	for _, class := range classes {
		conf := seen[class]
		e, ok := a.entries[class]
		if !ok {
			e = &entry{streak: 1, firstSeenAt: now, current: conf, best: conf, bestFrame: frame}
			a.entries[class] = e
		} else {
			e.streak++
			e.current = conf
			if conf > e.best {
				e.best = conf
				e.bestFrame = frame
			}
		}
		if e.streak < a.threshold {
			continue
		}
		kind, ok := a.profile.Kind(class)
		if !ok {
			continue
		}
		if a.gate != nil && !a.gate.TryEmit(a.gate.Key(a.cameraID, class), now) {
			continue
		}
		out = append(out, model.Confirmation{
			CameraID:   a.cameraID,
			Class:      class,
			Label:      a.labelFor(class),
			Kind:       kind,
			Confidence: e.best,
			Frame:      e.bestFrame,
			At:         now,
		})
		*e = entry{streak: 0, firstSeenAt: now, current: conf, best: conf, bestFrame: frame}
	}

	for class, e := range a.entries {
		if _, ok := seen[class]; ok {
			continue
		}
		if exempt != nil && exempt(class) {
			delete(a.entries, class)
			continue
		}
		if e.streak < a.threshold {
			delete(a.entries, class)
			continue
		}
		e.streak = 0
	}
	return out
}

func (a *Aggregator) labelFor(class model.ClassID) string {
	if a.label != nil {
		return a.label(class)
	}
	return a.profile.Detect[class]
}

// Snapshot copies the tracked classes, ordered by class id.
func (a *Aggregator) Snapshot() []model.TrackState {
	out := make([]model.TrackState, 0, len(a.entries))
	for class, e := range a.entries {
		out = append(out, model.TrackState{
			Class:          class,
			Streak:         e.streak,
			FirstSeenAt:    e.firstSeenAt,
			BestConfidence: e.best,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

func (a *Aggregator) Tracking(class model.ClassID) (model.TrackState, bool) {
	e, ok := a.entries[class]
	if !ok {
		return model.TrackState{}, false
	}
	return model.TrackState{Class: class, Streak: e.streak, FirstSeenAt: e.firstSeenAt, BestConfidence: e.best}, true
}

func (a *Aggregator) Reset() {
	a.entries = make(map[model.ClassID]*entry)
}
