// Package main wires together the quiz solver service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsapi "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quizbot/quizsolver/internal/api"
	"github.com/quizbot/quizsolver/internal/clock/system"
	"github.com/quizbot/quizsolver/internal/config"
	"github.com/quizbot/quizsolver/internal/dispatcher"
	"github.com/quizbot/quizsolver/internal/extract"
	collyfetcher "github.com/quizbot/quizsolver/internal/fetcher/colly"
	headlessfetcher "github.com/quizbot/quizsolver/internal/fetcher/headless"
	"github.com/quizbot/quizsolver/internal/hash/sha256"
	"github.com/quizbot/quizsolver/internal/headless/detector"
	"github.com/quizbot/quizsolver/internal/id/uuid"
	"github.com/quizbot/quizsolver/internal/logging"
	"github.com/quizbot/quizsolver/internal/metrics"
	"github.com/quizbot/quizsolver/internal/progress"
	"github.com/quizbot/quizsolver/internal/progress/sinks"
	memorypublisher "github.com/quizbot/quizsolver/internal/publisher/memory"
	pubsubpublisher "github.com/quizbot/quizsolver/internal/publisher/pubsub"
	"github.com/quizbot/quizsolver/internal/queue/memory"
	"github.com/quizbot/quizsolver/internal/quiz"
	"github.com/quizbot/quizsolver/internal/solver"
	gcsstorage "github.com/quizbot/quizsolver/internal/storage/gcs"
	localstorage "github.com/quizbot/quizsolver/internal/storage/local"
	memorystorage "github.com/quizbot/quizsolver/internal/storage/memory"
	"github.com/quizbot/quizsolver/internal/storage/postgres"
	"github.com/quizbot/quizsolver/internal/submit"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, err := buildJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	queue := memory.NewQueue(cfg.Solver.QueueDepth)
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()
	detect := detector.NewHeuristic(cfg.Headless.PromotionThresh)
	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	// The noop fetcher keeps promoted fetches failing gracefully (the
	// worker falls back to the probe body) when chromedp is unavailable.
	var headless quiz.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		headlessFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, continuing without rendering", zap.Error(err))
		} else {
			headless = headlessFetcher
			defer headlessFetcher.Close()
		}
	}

	extractors := []quiz.Extractor{
		extract.NewBase64JSON(),
		extract.NewTableSum(""),
		extract.NewFileDownload(probeFetcher, logger.Named("files")),
	}
	if cfg.LLM.Token != "" {
		extractors = append(extractors, extract.NewLLM(extract.LLMConfig{
			Endpoint: cfg.LLM.Endpoint,
			Token:    cfg.LLM.Token,
			Model:    cfg.LLM.Model,
		}))
	}
	extractors = append(extractors, extract.NewRegexNumber())
	pipeline := extract.NewPipeline(logger.Named("extract"), extractors...)

	submitter := submit.New(submit.Config{
		Timeout:   cfg.HTTPTimeout(),
		UserAgent: cfg.HTTP.UserAgent,
		HostQPS:   float64(cfg.HTTP.SubmitHostQPS),
		Retry:     submit.NewExponentialRetryPolicy(),
	})

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("progress sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		promSink,
		sinks.NewLogSink(logger.Named("progress")),
	)

	workerCfg := solver.Config{
		ContentType:    cfg.Storage.ContentType,
		BlobPrefix:     cfg.Storage.Prefix,
		Topic:          cfg.PubSub.TopicName,
		GlobalBudget:   cfg.GlobalBudget(),
		QuestionWindow: cfg.QuestionWindow(),
		MaxQuestions:   cfg.Solver.MaxQuestions,
	}
	deps := solver.Deps{
		Queue:     queue,
		Jobs:      jobStore,
		Blobs:     blobStore,
		Publisher: publisher,
		Hasher:    hasher,
		Clock:     clock,
		Probe:     probeFetcher,
		Headless:  headless,
		Detector:  detect,
		Pipeline:  pipeline,
		Submitter: submitter,
		Progress:  hub,
	}

	var workers []*solver.Worker
	for i := 0; i < cfg.Solver.Workers; i++ {
		workers = append(workers, solver.New(
			deps,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers, logger.Named("dispatcher"))

	apiServer := api.NewServer(jobStore, dispatch, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Solver.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildJobStore(ctx context.Context, cfg config.Config) (quiz.JobStore, error) {
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, fmt.Errorf("postgres job store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate job store: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewJobStore(), nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (quiz.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (quiz.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	return pub, nil
}
