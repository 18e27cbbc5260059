package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
log_level: debug
cameras:
  - id: camera1
    source: videos/cam1.mp4
    enabled: true
    realtime: true
  - id: camera3
    source: dir:frames/cam3
    enabled: true
    width: 640
    height: 360
detection:
  frame_threshold: 30
  cooldown: 2s
  cooldown_scope: camera
detector:
  driver: remote
  remote_addr: 127.0.0.1:9100
exemptions:
  refresh_interval: 15s
  timezone: UTC
`

func TestParseYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Detection.FrameThreshold != 30 || cfg.Detection.Cooldown != 2*time.Second {
		t.Fatalf("detection: %+v", cfg.Detection)
	}
	if cfg.Detection.MinConfidence != 0.7 {
		t.Fatalf("min confidence default: %v", cfg.Detection.MinConfidence)
	}
	if cfg.Cameras[0].Width != 854 || cfg.Cameras[0].Height != 480 {
		t.Fatalf("camera default size: %+v", cfg.Cameras[0])
	}
	if cfg.Cameras[1].Width != 640 {
		t.Fatalf("camera explicit size overwritten: %+v", cfg.Cameras[1])
	}
	if len(cfg.Profiles) != 6 || cfg.Classes[8] != "cap" {
		t.Fatalf("default profiles/classes not applied: %d %v", len(cfg.Profiles), cfg.Classes)
	}
	if cfg.Exemptions.Labels["Sleeveless"] != 7 {
		t.Fatalf("labels: %v", cfg.Exemptions.Labels)
	}
	if cfg.Exemptions.Location() != time.UTC {
		t.Fatalf("location: %v", cfg.Exemptions.Location())
	}
	if cfg.Dispatch.Workers != 2 || cfg.Dispatch.QueueSize != 64 {
		t.Fatalf("dispatch defaults: %+v", cfg.Dispatch)
	}
}

func TestParseReplacesProfiles(t *testing.T) {
	doc := `{
  "detector": {"driver": "none"},
  "profiles": [{"camera_id": "gate", "violations": {"9": "Shorts"}}],
  "default_camera": "gate"
}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].CameraID != "gate" {
		t.Fatalf("profiles: %+v", cfg.Profiles)
	}
	if cfg.Profiles[0].Violations[9] != "Shorts" {
		t.Fatalf("violations: %v", cfg.Profiles[0].Violations)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"empty":             "   ",
		"dnn without model": "detector:\n  driver: dnn\n",
		"remote no addr":    "detector:\n  driver: remote\n",
		"bad driver":        "detector:\n  driver: tflite\n",
		"bad scope":         "detector:\n  driver: none\ndetection:\n  cooldown_scope: site\n",
		"confidence":        "detector:\n  driver: none\ndetection:\n  min_confidence: 1.5\n",
		"dup camera":        "detector:\n  driver: none\ncameras:\n  - id: a\n    source: x\n  - id: a\n    source: y\n",
		"no source":         "detector:\n  driver: none\ncameras:\n  - id: a\n    enabled: true\n",
		"kafka":             "detector:\n  driver: none\npublish:\n  kafka:\n    enabled: true\n",
		"overlap":           "detector:\n  driver: none\nprofiles:\n  - camera_id: c\n    violations: {8: Cap}\n    non_violations: {8: cap}\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSaveAndManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dresswatch.yaml")
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Detector.RemoteAddr != "127.0.0.1:9100" {
		t.Fatalf("round trip: %+v", m.Get().Detector)
	}
	if needs, err := m.NeedsReload(); err != nil || needs {
		t.Fatalf("needs reload right after load: %v %v", needs, err)
	}

	updated := strings.Replace(sampleYAML, "frame_threshold: 30", "frame_threshold: 45", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if needs, _ := m.NeedsReload(); !needs {
		t.Fatalf("expected reload after modification")
	}
	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Detection.FrameThreshold != 45 || m.Get().Detection.FrameThreshold != 45 {
		t.Fatalf("reload threshold: %d", reloaded.Detection.FrameThreshold)
	}
}

func TestStaticManager(t *testing.T) {
	cfg := DefaultConfig()
	m := NewStaticManager(cfg)
	if m.Get() != cfg || m.Path() != "" {
		t.Fatalf("static manager")
	}
	if got, err := m.Reload(); err != nil || got != cfg {
		t.Fatalf("static reload: %v", err)
	}
}

func TestStarterSavesLoadableConfig(t *testing.T) {
	for _, name := range []string{"dresswatch.yaml", "dresswatch.json"} {
		path := filepath.Join(t.TempDir(), name)
		if err := Save(path, Starter()); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if len(cfg.Cameras) != len(DefaultProfiles()) {
			t.Fatalf("%s: cameras = %d", name, len(cfg.Cameras))
		}
		if cfg.Detector.Driver != "none" || cfg.Detection.Cooldown != 5*time.Second {
			t.Fatalf("%s: unexpected round trip: %+v %+v", name, cfg.Detector, cfg.Detection)
		}
	}
}
