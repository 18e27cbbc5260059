package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string           `json:"log_level" yaml:"log_level"`
	LogFormat     string           `json:"log_format" yaml:"log_format"`
	Cameras       []CameraConfig   `json:"cameras" yaml:"cameras"`
	DefaultCamera string           `json:"default_camera" yaml:"default_camera"`
	Classes       map[int]string   `json:"classes" yaml:"classes"`
	Profiles      []ProfileConfig  `json:"profiles" yaml:"profiles"`
	Detection     DetectionConfig  `json:"detection" yaml:"detection"`
	Detector      DetectorConfig   `json:"detector" yaml:"detector"`
	Exemptions    ExemptionsConfig `json:"exemptions" yaml:"exemptions"`
	Dispatch      DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Storage       StorageConfig    `json:"storage" yaml:"storage"`
	Blob          BlobConfig       `json:"blob" yaml:"blob"`
	Publish       PublishConfig    `json:"publish" yaml:"publish"`
	API           APIConfig        `json:"api" yaml:"api"`
	Metrics       MetricsConfig    `json:"metrics" yaml:"metrics"`
	Events        EventsConfig     `json:"events" yaml:"events"`
}

type CameraConfig struct {
	ID       string `json:"id" yaml:"id"`
	Source   string `json:"source" yaml:"source"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Realtime bool   `json:"realtime" yaml:"realtime"`
	Width    int    `json:"width" yaml:"width"`
	Height   int    `json:"height" yaml:"height"`
}

type ProfileConfig struct {
	CameraID      string         `json:"camera_id" yaml:"camera_id"`
	Violations    map[int]string `json:"violations" yaml:"violations"`
	NonViolations map[int]string `json:"non_violations" yaml:"non_violations"`
}

type DetectionConfig struct {
	FrameThreshold int           `json:"frame_threshold" yaml:"frame_threshold"`
	MinConfidence  float64       `json:"min_confidence" yaml:"min_confidence"`
	Cooldown       time.Duration `json:"cooldown" yaml:"cooldown"`
	CooldownScope  string        `json:"cooldown_scope" yaml:"cooldown_scope"`
}

type DetectorConfig struct {
	Driver      string        `json:"driver" yaml:"driver"`
	ModelPath   string        `json:"model_path" yaml:"model_path"`
	ConfigPath  string        `json:"config_path" yaml:"config_path"`
	Backend     string        `json:"backend" yaml:"backend"`
	InputSize   int           `json:"input_size" yaml:"input_size"`
	RemoteAddr  string        `json:"remote_addr" yaml:"remote_addr"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

type ExemptionsConfig struct {
	RefreshInterval time.Duration  `json:"refresh_interval" yaml:"refresh_interval"`
	Timezone        string         `json:"timezone" yaml:"timezone"`
	Labels          map[string]int `json:"labels" yaml:"labels"`
}

type DispatchConfig struct {
	Workers      int           `json:"workers" yaml:"workers"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type BlobConfig struct {
	Dir         string `json:"dir" yaml:"dir"`
	URLPrefix   string `json:"url_prefix" yaml:"url_prefix"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

type PublishConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
	MQTT  MQTTConfig  `json:"mqtt" yaml:"mqtt"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type MetricsConfig struct {
	Prometheus bool `json:"prometheus" yaml:"prometheus"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	ScopeGlobal      = "global"
	ScopeCamera      = "camera"
	ScopeCameraClass = "camera_class"
)

func DefaultClasses() map[int]string {
	return map[int]string{
		0: "reg_unif_m",
		1: "reg_unif_f",
		2: "pe_unif_m",
		3: "pe_unif_f",
		4: "bag",
		5: "jacket",
		6: "mask",
		7: "no_sleeves",
		8: "cap",
		9: "shorts",
	}
}

func DefaultProfiles() []ProfileConfig {
	return []ProfileConfig{
		{CameraID: "camera1", Violations: map[int]string{8: "Cap", 9: "Shorts"}},
		{CameraID: "camera2", Violations: map[int]string{7: "Sleeveless"}},
		{CameraID: "camera3", NonViolations: map[int]string{0: "reg_unif_m"}},
		{CameraID: "camera4", NonViolations: map[int]string{2: "pe_unif_m"}},
		{CameraID: "camera5", NonViolations: map[int]string{3: "pe_unif_f"}},
		{CameraID: "camera6", NonViolations: map[int]string{1: "reg_unif_f"}},
	}
}

func DefaultExemptionLabels() map[string]int {
	return map[string]int{"Cap": 8, "Sleeveless": 7, "Shorts": 9}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "json",
		DefaultCamera: "camera1",
		Classes:       DefaultClasses(),
		Profiles:      DefaultProfiles(),
		Detection: DetectionConfig{
			FrameThreshold: 60,
			MinConfidence:  0.7,
			Cooldown:       5 * time.Second,
			CooldownScope:  ScopeGlobal,
		},
		Detector: DetectorConfig{
			Driver:      "dnn",
			Backend:     "cpu",
			InputSize:   640,
			DialTimeout: 5 * time.Second,
		},
		Exemptions: ExemptionsConfig{
			RefreshInterval: 10 * time.Second,
			Timezone:        "Local",
			Labels:          DefaultExemptionLabels(),
		},
		Dispatch: DispatchConfig{Workers: 2, QueueSize: 64, WriteTimeout: 10 * time.Second},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:dresswatch.db?_pragma=busy_timeout(5000)"},
		Blob:     BlobConfig{Dir: "frames", URLPrefix: "/frames", JPEGQuality: 60},
		Publish: PublishConfig{
			Kafka: KafkaConfig{Enabled: false, Topic: "dresswatch.events"},
			MQTT:  MQTTConfig{Enabled: false, ClientID: "dresswatch", TopicPrefix: "dresswatch"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8000"},
		Metrics: MetricsConfig{Prometheus: true},
		Events:  EventsConfig{StoreLimit: 500},
	}
}

// Starter is the config written by "dresswatch init": the default deployment with
// one sample source per profiled camera and detection off until a model is set.
func Starter() *Config {
	cfg := DefaultConfig()
	cfg.Detector.Driver = "none"
	for _, p := range cfg.Profiles {
		cfg.Cameras = append(cfg.Cameras, CameraConfig{
			ID:       p.CameraID,
			Source:   filepath.Join("videos", p.CameraID+".mp4"),
			Enabled:  true,
			Realtime: true,
			Width:    854,
			Height:   480,
		})
	}
	return cfg
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes a JSON or YAML document on top of the defaults.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	// Decoding into the defaults would merge profile lists and maps; start them empty
	// so a file that sets them replaces the built-in deployment.
	cfg.Profiles = nil
	cfg.Classes = nil
	cfg.Exemptions.Labels = nil
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if len(cfg.Classes) == 0 {
		cfg.Classes = DefaultClasses()
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = DefaultProfiles()
	}
	if len(cfg.Exemptions.Labels) == 0 {
		cfg.Exemptions.Labels = DefaultExemptionLabels()
	}
	if cfg.DefaultCamera == "" {
		cfg.DefaultCamera = "camera1"
	}
	if cfg.Detection.FrameThreshold <= 0 {
		cfg.Detection.FrameThreshold = 60
	}
	if cfg.Detection.MinConfidence <= 0 {
		cfg.Detection.MinConfidence = 0.7
	}
	if cfg.Detection.CooldownScope == "" {
		cfg.Detection.CooldownScope = ScopeGlobal
	}
	if cfg.Detector.Driver == "" {
		cfg.Detector.Driver = "dnn"
	}
	if cfg.Detector.InputSize <= 0 {
		cfg.Detector.InputSize = 640
	}
	if cfg.Detector.DialTimeout <= 0 {
		cfg.Detector.DialTimeout = 5 * time.Second
	}
	if cfg.Exemptions.RefreshInterval <= 0 {
		cfg.Exemptions.RefreshInterval = 10 * time.Second
	}
	if cfg.Exemptions.Timezone == "" {
		cfg.Exemptions.Timezone = "Local"
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 2
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 64
	}
	if cfg.Dispatch.WriteTimeout <= 0 {
		cfg.Dispatch.WriteTimeout = 10 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = "frames"
	}
	if cfg.Blob.URLPrefix == "" {
		cfg.Blob.URLPrefix = "/frames"
	}
	if cfg.Blob.JPEGQuality <= 0 || cfg.Blob.JPEGQuality > 100 {
		cfg.Blob.JPEGQuality = 60
	}
	if cfg.Publish.MQTT.TopicPrefix == "" {
		cfg.Publish.MQTT.TopicPrefix = "dresswatch"
	}
	if cfg.Publish.MQTT.ClientID == "" {
		cfg.Publish.MQTT.ClientID = "dresswatch"
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 500
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].Width <= 0 || cfg.Cameras[i].Height <= 0 {
			cfg.Cameras[i].Width = 854
			cfg.Cameras[i].Height = 480
		}
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Detection.MinConfidence > 1 {
		return errors.New("detection.min_confidence must be <= 1")
	}
	if cfg.Detection.Cooldown < 0 {
		return errors.New("detection.cooldown must be >= 0")
	}
	switch cfg.Detection.CooldownScope {
	case ScopeGlobal, ScopeCamera, ScopeCameraClass:
	default:
		return fmt.Errorf("detection.cooldown_scope must be one of global, camera, camera_class: %q", cfg.Detection.CooldownScope)
	}
	switch cfg.Detector.Driver {
	case "dnn":
		if cfg.Detector.ModelPath == "" {
			return errors.New("detector.model_path required for dnn driver")
		}
	case "remote":
		if cfg.Detector.RemoteAddr == "" {
			return errors.New("detector.remote_addr required for remote driver")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported detector driver: %q", cfg.Detector.Driver)
	}
	seen := make(map[string]struct{}, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		if strings.TrimSpace(cam.ID) == "" {
			return errors.New("cameras[].id required")
		}
		if _, dup := seen[cam.ID]; dup {
			return fmt.Errorf("duplicate camera id: %s", cam.ID)
		}
		seen[cam.ID] = struct{}{}
		if cam.Enabled && cam.Source == "" {
			return fmt.Errorf("cameras[%s].source required when enabled", cam.ID)
		}
	}
	for _, p := range cfg.Profiles {
		if p.CameraID == "" {
			return errors.New("profiles[].camera_id required")
		}
		for class := range p.Violations {
			if _, ok := p.NonViolations[class]; ok {
				return fmt.Errorf("profile %s lists class %d as both violation and non-violation", p.CameraID, class)
			}
		}
	}
	if cfg.Publish.Kafka.Enabled {
		if len(cfg.Publish.Kafka.Brokers) == 0 || cfg.Publish.Kafka.Topic == "" {
			return errors.New("publish.kafka requires brokers and topic")
		}
	}
	if cfg.Publish.MQTT.Enabled && cfg.Publish.MQTT.Broker == "" {
		return errors.New("publish.mqtt.broker required when publish.mqtt.enabled is true")
	}
	return nil
}

// Location resolves the exemption timezone, falling back to the process local zone.
func (c ExemptionsConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an already loaded config that has no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
