package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dresswatch/internal/blob"
	"dresswatch/internal/config"
	"dresswatch/internal/eventlog"
	"dresswatch/internal/metrics"
	"dresswatch/internal/model"
	"dresswatch/internal/storage"
)

type EngineControl interface {
	Reset()
	Restart(cameraID string) error
	Running() []string
}

type Queue interface {
	QueueDepth() int
	Dropped() int64
	Processed() int64
}

type ExemptionView interface {
	Active(now time.Time) []model.ExemptionEntry
	FetchedAt() time.Time
}

type Records interface {
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, collection string, limit int) ([]model.DetectionEvent, error)
}

type Frames interface {
	Open(name string) (*os.File, error)
	Save(ctx context.Context, data []byte, name string) (string, error)
	Delete(name string) error
}

type Deps struct {
	Config     *config.Manager
	Status     *metrics.Store
	Events     *eventlog.Store
	Records    Records
	Exemptions ExemptionView
	Queue      Queue
	Engine     EngineControl
	Live       *LiveHub
	Frames     Frames
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	Version    string
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

type statusResponse struct {
	Status     string           `json:"status"`
	Time       string           `json:"time"`
	Version    string           `json:"version"`
	ConfigPath string           `json:"config_path"`
	Store      storeStatus      `json:"store"`
	Detector   detectorStatus   `json:"detector"`
	Detection  detectionStatus  `json:"detection"`
	Exemptions exemptionsStatus `json:"exemptions"`
	Dispatch   dispatchStatus   `json:"dispatch"`
	Cameras    []cameraStatus   `json:"cameras"`
}

type storeStatus struct {
	Driver string `json:"driver"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type detectorStatus struct {
	Driver string `json:"driver"`
}

type detectionStatus struct {
	FrameThreshold int     `json:"frame_threshold"`
	MinConfidence  float64 `json:"min_confidence"`
	Cooldown       string  `json:"cooldown"`
	CooldownScope  string  `json:"cooldown_scope"`
}

type exemptionsStatus struct {
	Active    []model.ExemptionEntry `json:"active"`
	FetchedAt string                 `json:"fetched_at,omitempty"`
}

type dispatchStatus struct {
	QueueDepth int   `json:"queue_depth"`
	Dropped    int64 `json:"dropped"`
	Processed  int64 `json:"processed"`
}

type cameraStatus struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/api/detection", s.handleDetection)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/exemptions", s.handleExemptions)
	s.mux.HandleFunc("/api/cameras", s.handleCameras)
	s.mux.HandleFunc("/api/cameras/", s.handleCameras)
	s.mux.HandleFunc("/api/stream/", s.handleStream)
	s.mux.HandleFunc("/frames/", s.handleFrame)
	s.mux.HandleFunc("/upload-frame/", s.handleUploadFrame)
	s.mux.HandleFunc("/admin/clear", s.handleClear)
	s.mux.HandleFunc("/admin/restart", s.handleRestart)
	if deps.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the API until ctx is cancelled. It returns nil when the API is disabled.
func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	logger := deps.Logger
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.config()
	now := time.Now()
	resp := statusResponse{
		Status:   "ok",
		Time:     now.UTC().Format(time.RFC3339Nano),
		Version:  s.deps.Version,
		Store:    storeStatus{Driver: cfg.Storage.Driver},
		Detector: detectorStatus{Driver: cfg.Detector.Driver},
		Detection: detectionStatus{
			FrameThreshold: cfg.Detection.FrameThreshold,
			MinConfidence:  cfg.Detection.MinConfidence,
			Cooldown:       cfg.Detection.Cooldown.String(),
			CooldownScope:  cfg.Detection.CooldownScope,
		},
		Exemptions: exemptionsStatus{Active: []model.ExemptionEntry{}},
	}
	if s.deps.Config != nil {
		resp.ConfigPath = s.deps.Config.Path()
	}
	if s.deps.Records != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.deps.Records.Ping(ctx)
		cancel()
		resp.Store.OK = err == nil
		if err != nil {
			resp.Store.Error = err.Error()
			resp.Status = "degraded"
		}
	}
	if s.deps.Exemptions != nil {
		resp.Exemptions.Active = s.deps.Exemptions.Active(now)
		if ts := s.deps.Exemptions.FetchedAt(); !ts.IsZero() {
			resp.Exemptions.FetchedAt = ts.UTC().Format(time.RFC3339Nano)
		}
	}
	if s.deps.Queue != nil {
		resp.Dispatch = dispatchStatus{
			QueueDepth: s.deps.Queue.QueueDepth(),
			Dropped:    s.deps.Queue.Dropped(),
			Processed:  s.deps.Queue.Processed(),
		}
	}
	running := map[string]bool{}
	if s.deps.Engine != nil {
		for _, id := range s.deps.Engine.Running() {
			running[id] = true
		}
	}
	resp.Cameras = make([]cameraStatus, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		resp.Cameras = append(resp.Cameras, cameraStatus{
			ID:      cam.ID,
			Source:  cam.Source,
			Enabled: cam.Enabled,
			Running: running[cam.ID],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Events != nil {
		if ev, ok := s.deps.Events.Latest(); ok {
			writeJSON(w, http.StatusOK, ev)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "no detection"})
}

// handleEvents serves the in-memory recent log, or a stored collection when ?collection= is set.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	var list []model.DetectionEvent
	if collection := q.Get("collection"); collection != "" {
		if s.deps.Records == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		stored, err := s.deps.Records.ListEvents(r.Context(), collection, limit)
		if errors.Is(err, storage.ErrUnknownCollection) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err != nil {
			if s.deps.Logger != nil {
				s.deps.Logger.Error("list events failed", "collection", collection, "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		list = stored
	} else if s.deps.Events != nil {
		if camera := q.Get("camera"); camera != "" {
			list = s.deps.Events.ByCamera(camera, limit)
		} else {
			list = s.deps.Events.List(limit)
		}
	}
	if list == nil {
		list = []model.DetectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleExemptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	active := []model.ExemptionEntry{}
	if s.deps.Exemptions != nil {
		active = s.deps.Exemptions.Active(time.Now())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exemptions": active,
		"count":      len(active),
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/cameras")
	id = strings.TrimPrefix(id, "/")
	if id != "" {
		stats, updated, ok := s.deps.Status.Get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"camera_id":  id,
			"updated_at": updated.Format(time.RFC3339Nano),
			"stats":      stats,
		})
		return
	}
	all := s.deps.Status.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": all,
		"count":   len(all),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	stream := s.deps.Live.Stream(id)
	if stream == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	stream.ServeHTTP(w, r)
}

const maxUploadBytes = 16 << 20

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Frames == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/frames/")
	if r.Method == http.MethodDelete {
		s.deleteFrame(w, name)
		return
	}
	f, err := s.deps.Frames.Open(name)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) deleteFrame(w http.ResponseWriter, name string) {
	err := s.deps.Frames.Delete(name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": name})
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, blob.ErrInvalidName):
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "error": "frame not found"})
	default:
		if s.deps.Logger != nil {
			s.deps.Logger.Error("delete frame failed", "name", name, "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
	}
}

// handleUploadFrame stores the multipart "file" field as capture_<unix>_<filename>.
func (s *Server) handleUploadFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Frames == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": "multipart field \"file\" required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	base := filepath.Base(header.Filename)
	if base == "." || base == string(filepath.Separator) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": "upload filename required"})
		return
	}
	name := fmt.Sprintf("capture_%d_%s", time.Now().Unix(), base)
	url, err := s.deps.Frames.Save(r.Context(), data, name)
	if errors.Is(err, blob.ErrInvalidName) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	if err != nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Error("upload frame failed", "name", name, "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.deps.Status.Clear()
		if s.deps.Events != nil {
			s.deps.Events.Clear()
		}
	case "events", "logs":
		if s.deps.Events != nil {
			s.deps.Events.Clear()
		}
	case "cameras", "status":
		s.deps.Status.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleRestart restarts one camera when {"camera": id} is posted, otherwise resets all tracking.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Camera string `json:"camera"`
	}
	_ = json.Unmarshal(body, &req)
	if s.deps.Engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if camera := strings.TrimSpace(req.Camera); camera != "" {
		if err := s.deps.Engine.Restart(camera); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "camera": camera})
		return
	}
	s.deps.Engine.Reset()
	s.deps.Status.Clear()
	if s.deps.Events != nil {
		s.deps.Events.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) config() *config.Config {
	if s.deps.Config == nil {
		return config.DefaultConfig()
	}
	return s.deps.Config.Get()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
