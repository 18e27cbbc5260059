package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dresswatch/internal/model"
)

func TestStoreUpdateAndCopy(t *testing.T) {
	s := NewStore(10)
	s.Update("camera1", func(st *model.CameraStats) {
		st.Running = true
		st.FramesRead++
		st.Tracks = []model.TrackState{{Class: 8, Streak: 3}}
	})
	s.Update("camera1", func(st *model.CameraStats) { st.FramesRead++ })

	got, updated, ok := s.Get("camera1")
	require.True(t, ok)
	assert.False(t, updated.IsZero())
	assert.Equal(t, int64(2), got.FramesRead)
	got.Tracks[0].Streak = 99

	again, _, _ := s.Get("camera1")
	assert.Equal(t, 3, again.Tracks[0].Streak)
}

func TestStoreEvictsStoppedCameras(t *testing.T) {
	s := NewStore(1)
	s.Update("a", func(st *model.CameraStats) { st.Running = true })
	s.Update("b", func(st *model.CameraStats) {})
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].CameraID)
}

func TestStoreClearKeepsRunningCameras(t *testing.T) {
	s := NewStore(10)
	s.Update("camera1", func(st *model.CameraStats) {
		st.Running = true
		st.FramesRead = 40
		st.Confirmations = 2
	})
	s.Update("camera2", func(st *model.CameraStats) { st.FramesRead = 9 })

	s.Clear()

	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "camera1", all[0].CameraID)
	assert.True(t, all[0].Running)
	assert.Zero(t, all[0].FramesRead)
	assert.Zero(t, all[0].Confirmations)

	s.Update("camera1", func(st *model.CameraStats) { st.FramesRead++ })
	got, _, ok := s.Get("camera1")
	require.True(t, ok)
	assert.True(t, got.Running)
	assert.Equal(t, int64(1), got.FramesRead)
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewCollectors(reg)
	require.NoError(t, err)

	m.ObserveFrame("camera1")
	m.ObserveFrame("camera1")
	m.ObserveDetector("camera1", 10*time.Millisecond, errors.New("boom"))
	m.ObserveDrop()
	m.SetQueueDepth(3)
	m.ObserveExemptionRefresh(2, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("camera1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectorErrorsTotal.WithLabelValues("camera1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dispatchQueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.exemptionsActive))
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var m *Collectors
	m.ObserveFrame("x")
	m.ObserveDrop()
	m.ObserveWrite("reviewlogs", nil)
}
