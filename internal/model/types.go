package model

import "time"

type ClassID int

type Kind string

const (
	KindViolation    Kind = "violation"
	KindNonViolation Kind = "non_violation"
)

const (
	StatusPending  = "Pending"
	StatusDetected = "Detected"
)

// Status is the initial review status written with an event of this kind.
func (k Kind) Status() string {
	if k == KindViolation {
		return StatusPending
	}
	return StatusDetected
}

// Prefix is the three letter event id prefix for this kind.
func (k Kind) Prefix() string {
	if k == KindViolation {
		return "VIO"
	}
	return "DET"
}

type CameraProfile struct {
	CameraID      string             `json:"camera_id"`
	Detect        map[ClassID]string `json:"detect"`
	Violations    map[ClassID]string `json:"violations"`
	NonViolations map[ClassID]string `json:"non_violations"`
}

func (p CameraProfile) Kind(class ClassID) (Kind, bool) {
	if _, ok := p.Violations[class]; ok {
		return KindViolation, true
	}
	if _, ok := p.NonViolations[class]; ok {
		return KindNonViolation, true
	}
	return "", false
}

func (p CameraProfile) Watches(class ClassID) bool {
	_, ok := p.Detect[class]
	return ok
}

type ExemptionDoc struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	DressCode string `json:"dress_code"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type ExemptionEntry struct {
	ClassID ClassID   `json:"class_id"`
	Label   string    `json:"label"`
	Start   time.Time `json:"start_date"`
	End     time.Time `json:"end_date"`
}

// Active reports whether now falls on a calendar day inside [Start, End].
// Start and End are midnight of their day in the schedule's location.
func (e ExemptionEntry) Active(now time.Time) bool {
	loc := e.Start.Location()
	n := now.In(loc)
	day := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return !day.Before(e.Start) && !day.After(e.End)
}

type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Detection struct {
	Class      ClassID `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Frame is one decoded video frame, carried JPEG-encoded.
type Frame struct {
	Seq        int64     `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	JPEG       []byte    `json:"-"`
}

type Confirmation struct {
	CameraID   string
	Class      ClassID
	Label      string
	Kind       Kind
	Confidence float64
	Frame      Frame
	At         time.Time
}

type DetectionEvent struct {
	ID            string  `json:"event_id"`
	CameraID      string  `json:"camera_id"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	ClassLabel    string  `json:"class_label"`
	Kind          Kind    `json:"kind"`
	ConfidencePct float64 `json:"confidence_pct"`
	FrameURL      string  `json:"frame_url"`
	Status        string  `json:"status"`
}

type TrackState struct {
	Class          ClassID   `json:"class"`
	Streak         int       `json:"streak"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	BestConfidence float64   `json:"best_confidence"`
}

type CameraStats struct {
	CameraID       string       `json:"camera_id"`
	Running        bool         `json:"running"`
	FramesRead     int64        `json:"frames_read"`
	DetectorErrors int64        `json:"detector_errors"`
	Confirmations  int64        `json:"confirmations"`
	LastFrameAt    time.Time    `json:"last_frame_at"`
	LastError      string       `json:"last_error,omitempty"`
	Tracks         []TrackState `json:"tracks"`
}
