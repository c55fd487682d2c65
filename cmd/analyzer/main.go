package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forum-alpha/internal/analyst"
	"forum-alpha/internal/bot"
	"forum-alpha/internal/cache"
	"forum-alpha/internal/config"
	"forum-alpha/internal/handler"
	"forum-alpha/internal/harvester"
	"forum-alpha/internal/job"
	"forum-alpha/internal/matcher"
	"forum-alpha/internal/provider"
	"forum-alpha/internal/service"
	"forum-alpha/internal/store"
	"forum-alpha/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc     = godotenv.Load
	loadConfigFunc  = config.Load
	initRedisFunc   = cache.InitRedis
	initTracerFunc  = tracing.InitTracer
	openStoreFunc   = store.Open
	newLLMFunc      = analyst.NewOpenAIClient
	startPollerFunc = func(p *job.Poller, ctx context.Context) { go p.Start(ctx) }
	startTelegramBotFunc = func(token string, chatID int64, analyses bot.AnalysisReader) service.Notifier {
		if n := bot.StartTelegramBot(token, chatID, analyses); n != nil {
			return n
		}
		return nil
	}
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Redis is optional; without it cycles just lose the snapshot fallback.
	if cfg.RedisURL != "" {
		initRedisFunc(ctx, cfg.RedisURL)
	}

	db, err := openStoreFunc(cfg.DBPath, tracer)
	if err != nil {
		log.Fatalf("failed to open store at %s: %v", cfg.DBPath, err)
	}
	defer db.Close()

	pipeline := buildPipeline(tracer, cfg, db)

	poller := job.NewPoller(tracer, pipeline, time.Duration(cfg.PollIntervalSecs)*time.Second)
	pipeline.OnPhase(func(phase service.Phase) { poller.SetPhase(string(phase)) })
	startPollerFunc(poller, ctx)

	h := handler.New(tracer, db, poller)
	r := newRouterFunc()
	r.Use(otelgin.Middleware("forum-alpha"))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func buildPipeline(tracer trace.Tracer, cfg *config.Config, db *store.Store) *service.Pipeline {
	kalshi := provider.NewKalshiProvider(tracer, cfg.KalshiAPIBase, cfg.KalshiAPIKey)
	reddit := provider.NewRedditProvider(tracer, cfg.RedditUserAgent)

	h := harvester.New(tracer, reddit, db, harvester.Config{
		MaxItemsPerCommunity: cfg.MaxItemsPerCommunity,
		MaxCorpusChars:       cfg.MaxCorpusChars,
	})
	a := analyst.New(tracer, newLLMFunc(cfg.OpenAIAPIKey), cfg.OpenAIModel, cfg.MaxCorpusChars)

	var redisClient service.RedisClient
	if cache.Client != nil {
		redisClient = cache.Client
	}
	notifier := startTelegramBotFunc(cfg.TelegramBotToken, cfg.TelegramChatID, db)

	return service.NewPipeline(
		tracer,
		kalshi,
		matcher.New(matcher.DefaultProfiles()),
		h,
		a,
		db,
		redisClient,
		notifier,
		service.Config{
			DryRun:               cfg.DryRun,
			MinDelta:             cfg.MinDelta,
			ConfidenceThreshold:  cfg.ConfidenceThreshold,
			MaxContractsPerTrade: cfg.MaxContractsPerTrade,
			MarketFetchLimit:     cfg.MarketFetchLimit,
		},
	)
}
