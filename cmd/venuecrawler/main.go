// Package main wires together the venue crawler service.
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

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/actor"
	"github.com/artatlas/venue-crawler/internal/api"
	"github.com/artatlas/venue-crawler/internal/clock/system"
	"github.com/artatlas/venue-crawler/internal/config"
	"github.com/artatlas/venue-crawler/internal/core"
	collyfetcher "github.com/artatlas/venue-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/artatlas/venue-crawler/internal/fetcher/headless"
	"github.com/artatlas/venue-crawler/internal/gateway/openai"
	"github.com/artatlas/venue-crawler/internal/id/uuid"
	"github.com/artatlas/venue-crawler/internal/logging"
	"github.com/artatlas/venue-crawler/internal/policy/recrawl"
	memorypublisher "github.com/artatlas/venue-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/artatlas/venue-crawler/internal/publisher/pubsub"
	"github.com/artatlas/venue-crawler/internal/queue"
	queuememory "github.com/artatlas/venue-crawler/internal/queue/memory"
	"github.com/artatlas/venue-crawler/internal/runlog"
	"github.com/artatlas/venue-crawler/internal/similarity"
	"github.com/artatlas/venue-crawler/internal/stages"
	memorystorage "github.com/artatlas/venue-crawler/internal/storage/memory"
	"github.com/artatlas/venue-crawler/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store  core.Store
		runLog runlog.Log
	)
	if cfg.DB.DSN != "" {
		pg, pool, err := postgres.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()
		store, runLog = pg, pg
	} else {
		mem := memorystorage.NewStore()
		store, runLog = mem, mem
		logger.Warn("db.dsn empty, using in-memory store")
	}

	jobQueue := queuememory.NewQueue(cfg.Crawler.QueueDepth)

	var publisher core.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client failed", zap.Error(err))
		}
		defer client.Close()
		pub := pubsubpublisher.New(client)
		defer pub.Stop()
		publisher = pub
	} else {
		pub := memorypublisher.New()
		pub.AttachQueue(jobQueue)
		publisher = pub
	}

	clock := system.New()
	idGen := uuid.New()

	overrides := make(map[core.Classification]time.Duration, len(cfg.Recrawl.OverridesHours))
	for class, hours := range cfg.Recrawl.OverridesHours {
		overrides[core.Classification(class)] = time.Duration(hours) * time.Hour
	}
	policy := recrawl.New(overrides)

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	var (
		headless core.Fetcher
		detector core.HeadlessDetector
	)
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer hf.Close()
			headless = hf
			detector = headlessfetcher.NewDetector(cfg.Headless.PromotionThresh)
		}
	}

	gateway := openai.New(openai.Config{
		APIKey:     cfg.Extraction.APIKey,
		BaseURL:    cfg.Extraction.BaseURL,
		Model:      cfg.Extraction.Model,
		EmbedModel: cfg.Extraction.EmbedModel,
	})

	runner := runlog.NewRunner(runLog, clock, runlog.Config{
		StepTimeout:    cfg.StepTimeout(),
		MaxRetries:     cfg.Pipeline.MaxRetries,
		BackoffInitial: time.Duration(cfg.Pipeline.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Pipeline.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("runlog"))

	pipeline := stages.New(
		store,
		gateway,
		probe,
		headless,
		detector,
		runner,
		policy,
		idGen,
		clock,
		publisher,
		stages.Config{
			DiscoverLimit:        cfg.Pipeline.DiscoverLimit,
			BatchConcurrency:     cfg.Pipeline.BatchConcurrency,
			DefaultEventDuration: time.Duration(cfg.Pipeline.DefaultEventDuration) * time.Minute,
			SimilarityTopic:      cfg.PubSub.SimilarityTopic,
		},
		logger.Named("stages"),
	)

	coordinator := actor.NewCoordinator(store, policy, clock, idGen, pipeline.Run, logger.Named("actor"))
	defer coordinator.Stop()

	engine := similarity.NewEngine(store, clock, similarity.Config{
		EntityThreshold: cfg.Similarity.EntityThreshold,
		EventThreshold:  cfg.Similarity.EventThreshold,
	}, logger.Named("similarity"))

	dispatcher := queue.NewDispatcher(jobQueue, logger.Named("dispatch"))
	queue.RegisterHandlers(dispatcher, coordinator, pipeline, engine, store)

	apiServer := api.NewServer(store, coordinator, pipeline, engine, idGen, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started")
		dispatcher.Run(ctx)
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
	jobQueue.Close()
	logger.Info("shutdown complete")
}
