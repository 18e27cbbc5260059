package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"dresswatch/internal/api"
	"dresswatch/internal/blob"
	"dresswatch/internal/config"
	"dresswatch/internal/detector"
	"dresswatch/internal/detector/dnn"
	"dresswatch/internal/dispatch"
	"dresswatch/internal/engine"
	"dresswatch/internal/eventlog"
	"dresswatch/internal/exemption"
	"dresswatch/internal/ingest/video"
	"dresswatch/internal/logging"
	"dresswatch/internal/metrics"
	"dresswatch/internal/profile"
	"dresswatch/internal/publish"
	"dresswatch/internal/storage"
)

func setupServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run camera streams, detection, dispatch and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), manager)
		},
	}
}

type closingDetector interface {
	engine.Detector
	Close() error
}

func newDetector(cfg config.DetectorConfig) (closingDetector, error) {
	switch cfg.Driver {
	case "dnn":
		d, err := dnn.New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "remote":
		return detector.NewRemote(cfg), nil
	case "none":
		return detector.None{}, nil
	}
	return nil, fmt.Errorf("unsupported detector driver: %q", cfg.Driver)
}

func newPublishers(cfg config.PublishConfig, logger *slog.Logger, m *metrics.Collectors) (*publish.Multi, error) {
	var pubs []publish.Publisher
	if cfg.Kafka.Enabled {
		pubs = append(pubs, publish.NewKafka(cfg.Kafka))
	}
	if cfg.MQTT.Enabled {
		mq, err := publish.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			for _, p := range pubs {
				_ = p.Close()
			}
			return nil, err
		}
		pubs = append(pubs, mq)
	}
	return publish.NewMulti(logger, m.ObservePublishError, pubs...), nil
}

func runServe(ctx context.Context, manager *config.Manager) error {
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("dresswatch starting", "version", version, "config", manager.Path())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("init %s store: %w", cfg.Storage.Driver, err)
	}

	blobs, err := blob.NewFS(cfg.Blob.Dir, cfg.Blob.URLPrefix)
	if err != nil {
		return fmt.Errorf("blob dir: %w", err)
	}

	registry := prometheus.NewRegistry()
	var collectorSet *metrics.Collectors
	if cfg.Metrics.Prometheus {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collectorSet, err = metrics.NewCollectors(registry)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	det, err := newDetector(cfg.Detector)
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	defer det.Close()

	pubs, err := newPublishers(cfg.Publish, logger, collectorSet)
	if err != nil {
		return fmt.Errorf("publishers: %w", err)
	}
	defer pubs.Close()
	var publisher dispatch.Publisher
	if pubs.Len() > 0 {
		publisher = pubs
	}

	loc := cfg.Exemptions.Location()
	cache := exemption.NewCache(store, exemption.Options{
		Labels:    cfg.Exemptions.Labels,
		Location:  loc,
		Interval:  cfg.Exemptions.RefreshInterval,
		Logger:    logger,
		OnRefresh: collectorSet.ObserveExemptionRefresh,
	})
	cacheCtx, stopCache := context.WithCancel(ctx)
	cacheDone := make(chan struct{})
	go func() {
		defer close(cacheDone)
		cache.Run(cacheCtx)
	}()

	recent := eventlog.NewStore(cfg.Events.StoreLimit)
	disp := dispatch.New(store, blobs, dispatch.Options{
		Workers:      cfg.Dispatch.Workers,
		QueueSize:    cfg.Dispatch.QueueSize,
		WriteTimeout: cfg.Dispatch.WriteTimeout,
		JPEGQuality:  cfg.Blob.JPEGQuality,
		Location:     loc,
		Recent:       recent,
		Publisher:    publisher,
		Logger:       logger,
		Metrics:      collectorSet,
	})

	registryProfiles := profile.NewRegistry(cfg)
	status := metrics.NewStore(0)
	cameraIDs := make([]string, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		cameraIDs = append(cameraIDs, cam.ID)
	}
	live := api.NewLiveHub(cameraIDs...)
	gate := engine.NewGate(cfg.Detection.Cooldown, cfg.Detection.CooldownScope)
	logger.Info("detection configured",
		"frame_threshold", cfg.Detection.FrameThreshold,
		"min_confidence", cfg.Detection.MinConfidence,
		"cooldown", gate.Cooldown().String(),
		"cooldown_scope", gate.Scope(),
		"detector", cfg.Detector.Driver,
	)
	eng := engine.NewEngine(cfg, engine.Deps{
		Registry:    registryProfiles,
		Gate:        gate,
		Detector:    det,
		Open:        video.Open,
		Dispatcher:  disp,
		Exemptions:  cache,
		Live:        live,
		Placeholder: video.Placeholder,
		Status:      status,
		Metrics:     collectorSet,
		Logger:      logger,
	})
	eng.StartAll(ctx)

	api.Start(ctx, api.Deps{
		Config:     manager,
		Status:     status,
		Events:     recent,
		Records:    store,
		Exemptions: cache,
		Queue:      disp,
		Engine:     eng,
		Live:       live,
		Frames:     blobs,
		Gatherer:   registry,
		Logger:     logger,
		Version:    version,
	})

	go manager.Watch(3*time.Second, func(next *config.Config) {
		logger.Warn("config file changed; camera, detector and store settings apply on restart",
			"path", manager.Path(),
			"cameras", len(next.Cameras),
		)
	}, func(err error) {
		logger.Error("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	eng.StopAll()
	stopCache()
	<-cacheDone

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := disp.Close(shutdownCtx); err != nil {
		logger.Warn("dispatch drain incomplete", "err", err, "queue_depth", disp.QueueDepth())
	}
	logger.Info("dresswatch stopped", "events_written", disp.Processed(), "events_dropped", disp.Dropped())
	return nil
}
