package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yegors/co-scribe/internal/api"
	"github.com/yegors/co-scribe/internal/batch"
	"github.com/yegors/co-scribe/internal/config"
	"github.com/yegors/co-scribe/internal/dictation"
	"github.com/yegors/co-scribe/internal/metrics"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/internal/streaming"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// app holds the wired service graph
type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	db       *sql.DB
	outcomes *sqlite.OutcomeStorage
	pruner   *sqlite.Pruner
	service  *dictation.Service
}

// newApp builds every component. withHistory opens the outcome store; the
// one-shot CLI runs without it.
func newApp(cfg *config.Config, log *logger.Logger, withHistory bool) (*app, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)

	observers := transcription.Observers{a.metrics}
	if withHistory {
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.db = db

		a.outcomes, err = sqlite.NewOutcomeStorage(db, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		observers = append(observers, a.outcomes)
		a.pruner = sqlite.NewPruner(a.outcomes, cfg.Storage.GetRetention(), cfg.Storage.GetPruneInterval(), log)
	}

	router, err := newBatchRouter(cfg, catalog, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	factory := &transcription.Factory{
		Batch:   router,
		Catalog: catalog,
		Options: transcription.StreamingOptions{
			ConnectTimeout:  cfg.Streaming.GetConnectTimeout(),
			FinalizeTimeout: cfg.Streaming.GetFinalizeTimeout(),
		},
		Logger:   log,
		Observer: observers,
	}

	if cfg.Streaming.Enabled && cfg.OpenAI.APIKey != "" {
		streamConfig := streaming.Config{
			URL:              cfg.OpenAI.RealtimeURL,
			APIKey:           cfg.OpenAI.APIKey,
			HandshakeTimeout: cfg.Streaming.GetHandshakeTimeout(),
			BufferChunks:     cfg.Streaming.BufferChunks,
			NoiseReduction:   cfg.Streaming.NoiseReduction,
		}
		factory.NewStreamer = func() transcription.StreamingTranscriber {
			return streaming.NewClient(streamConfig, log)
		}
	} else if cfg.Streaming.Enabled {
		log.Warn("Streaming is enabled but no OpenAI API key is set, using batch transcription only")
	}

	a.service, err = dictation.NewService(dictation.Config{
		SampleRate:     cfg.Audio.SampleRate,
		ChunkMs:        cfg.Audio.ChunkMs,
		RecordingsDir:  cfg.Audio.RecordingsDir,
		KeepRecordings: cfg.Audio.KeepRecordings,
	}, factory, catalog, a.metrics, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info("Transcription service initialized",
		logger.String("default_model", catalog.Default().ID),
		logger.Int("models", len(catalog.List())),
		logger.Bool("streaming", factory.StreamingEnabled()),
		logger.Int("sample_rate", cfg.Audio.SampleRate))

	return a, nil
}

// newBatchRouter registers a transcriber for every provider the catalog uses
func newBatchRouter(cfg *config.Config, catalog *models.Catalog, log *logger.Logger) (*batch.Router, error) {
	router := batch.NewRouter(log)

	for _, provider := range catalog.Providers() {
		switch provider {
		case models.ProviderOpenAI:
			router.Register(provider, batch.NewOpenAITranscriber(batch.OpenAIConfig{
				APIKey:     cfg.OpenAI.APIKey,
				BaseURL:    cfg.OpenAI.BaseURL,
				Timeout:    config.Seconds(cfg.OpenAI.TimeoutSeconds),
				MaxRetries: cfg.OpenAI.MaxRetries,
			}, log))

		case models.ProviderGemini:
			router.Register(provider, batch.NewGeminiTranscriber(batch.GeminiConfig{
				APIKey:      cfg.Gemini.APIKey,
				BaseURL:     cfg.Gemini.BaseURL,
				Instruction: cfg.Gemini.Instruction,
				Timeout:     config.Seconds(cfg.Gemini.TimeoutSeconds),
			}, log))

		case models.ProviderWhisper:
			t, err := batch.NewHTTPTranscriber(batch.HTTPConfig{
				Endpoint:     cfg.Whisper.Endpoint,
				APIKey:       cfg.Whisper.APIKey,
				Timeout:      config.Seconds(cfg.Whisper.TimeoutSeconds),
				MaxRetries:   cfg.Whisper.MaxRetries,
				RetryBackoff: cfg.Whisper.GetRetryBackoff(),
			}, log)
			if err != nil {
				return nil, fmt.Errorf("whisper transcriber: %w", err)
			}
			router.Register(provider, t)
		}
	}

	return router, nil
}

// Serve runs the HTTP server and the pruner until ctx is cancelled
func (a *app) Serve(ctx context.Context) error {
	var outcomes api.OutcomeStore
	if a.outcomes != nil {
		outcomes = a.outcomes
	}

	router := api.NewRouter(a.service, outcomes, api.Options{
		CORSAllowedOrigins: a.cfg.Server.CORSAllowedOrigins,
		MaxUploadBytes:     int64(a.cfg.Server.MaxUploadMB) << 20,
		StreamingEnabled:   a.cfg.Streaming.Enabled && a.cfg.OpenAI.APIKey != "",
		Metrics:            a.metrics,
		MetricsHandler:     promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}, a.logger)

	server := api.NewServer(a.cfg.Server.Address, router.Routes(),
		a.cfg.Server.MaxConnections, a.cfg.Server.GetReadTimeout(), a.logger)
	server.RegisterOnShutdown(router.CloseDictations)

	if a.pruner != nil {
		a.pruner.Start()
		defer a.pruner.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	a.logger.Info("Service started", logger.String("address", a.cfg.Server.Address))

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("Service stopped")
	return nil
}

// Close releases the database
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database", logger.Error(err))
		}
	}
}
