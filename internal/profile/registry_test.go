package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

func TestLookupDefaults(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())

	cam1 := r.Lookup("camera1")
	kind, ok := cam1.Kind(8)
	require.True(t, ok)
	assert.Equal(t, model.KindViolation, kind)
	assert.True(t, cam1.Watches(9))
	assert.False(t, cam1.Watches(7))

	cam3 := r.Lookup("camera3")
	kind, ok = cam3.Kind(0)
	require.True(t, ok)
	assert.Equal(t, model.KindNonViolation, kind)
	assert.Len(t, cam3.Detect, 1)
}

func TestLookupUnknownFallsBackToDefault(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	p := r.Lookup("lobby")
	assert.Equal(t, "lobby", p.CameraID)
	assert.True(t, p.Watches(8))
	assert.True(t, p.Watches(9))
	assert.False(t, r.Known("lobby"))
}

func TestAllowedRemovesExempt(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	p := r.Lookup("camera1")
	assert.Equal(t, []model.ClassID{8, 9}, r.Allowed(p, nil))
	got := r.Allowed(p, func(c model.ClassID) bool { return c == 8 })
	assert.Equal(t, []model.ClassID{9}, got)
}

func TestCatalogLabel(t *testing.T) {
	r := NewRegistry(config.DefaultConfig())
	assert.Equal(t, "cap", r.Label(8))
	assert.Equal(t, "no_sleeves", r.Label(7))
	assert.Equal(t, "class_42", r.Label(42))
}
