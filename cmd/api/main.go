package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"adstudio/internal/http/handlers"
	httpapi "adstudio/internal/http/httpapi"
	"adstudio/internal/infra"
	"adstudio/internal/metrics"
	"adstudio/internal/pipeline"
	"adstudio/internal/providers/gemini"
	"adstudio/internal/providers/replicate"
	"adstudio/internal/storage"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load(".env", ".env.local")

	// Konfigurasi & logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Bucket untuk input, output & manifest
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.StorageBucketURL, cfg.StoragePublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage bucket")
	}
	defer store.Close()

	// Client Replicate (inpaint, caption, refine)
	jobs, err := replicate.NewClient(replicate.Options{
		APIToken: cfg.ReplicateAPIToken,
		BaseURL:  cfg.ReplicateBaseURL,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build replicate client")
	}

	// Captioner: model Replicate atau Gemini
	var captioner pipeline.Captioner = pipeline.NewModelCaptioner(jobs, cfg.CaptionModelVersion)
	if cfg.CaptionProvider == "gemini" {
		captioner, err = gemini.NewCaptioner(ctx, gemini.Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Fetcher: jobs,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build gemini captioner")
		}
	}

	// Metrics Prometheus
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.New(reg)

	// Orkestrator pipeline
	pipe, err := pipeline.New(pipeline.Options{
		Jobs:                jobs,
		Captioner:           captioner,
		Fetcher:             jobs,
		Stager:              store,
		InpaintModelVersion: cfg.InpaintModelVersion,
		RefineModelVersion:  cfg.RefineModelVersion,
		CaptionPrefix:       cfg.CaptionPrefix,
		InpaintImageNum:     cfg.InpaintImageNum,
		RefineConcurrency:   cfg.RefineConcurrency,
		PollInterval:        cfg.PollInterval,
		PollMaxAttempts:     cfg.PollMaxAttempts,
		JobTimeout:          cfg.JobTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		Logger:              &logger,
		Metrics:             collectorSet,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	// App container & router
	app := handlers.NewApp(pipe, &logger)
	app.ImageLimits = pipeline.ImageLimits{MaxSide: cfg.MaxImageSide, MaxPixels: cfg.MaxImagePixels}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		Gatherer:        reg,
	})

	// HTTP server wrapper dari infra
	server := infra.NewHTTPServer(cfg, router)

	// Start async
	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("caption_provider", cfg.CaptionProvider).
			Int("refine_concurrency", cfg.RefineConcurrency).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Request yang masih berjalan diberi waktu terbatas untuk selesai.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
