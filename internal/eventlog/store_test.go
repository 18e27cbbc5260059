package eventlog

import (
	"testing"

	"dresswatch/internal/model"
)

func TestRingKeepsNewest(t *testing.T) {
	s := NewStore(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Add(model.DetectionEvent{ID: id, CameraID: "camera1"})
	}
	if s.Len() != 3 {
		t.Fatalf("len: %d", s.Len())
	}
	got := s.List(0)
	if got[0].ID != "d" || got[2].ID != "b" {
		t.Fatalf("order: %+v", got)
	}
	latest, ok := s.Latest()
	if !ok || latest.ID != "d" {
		t.Fatalf("latest: %+v %v", latest, ok)
	}
}

func TestByCamera(t *testing.T) {
	s := NewStore(10)
	s.Add(model.DetectionEvent{ID: "1", CameraID: "camera1"})
	s.Add(model.DetectionEvent{ID: "2", CameraID: "camera2"})
	s.Add(model.DetectionEvent{ID: "3", CameraID: "camera1"})
	got := s.ByCamera("camera1", 1)
	if len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("by camera: %+v", got)
	}
	s.Clear()
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected empty after clear")
	}
}
