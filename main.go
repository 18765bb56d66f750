package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"leadbase/features/intake"
	"leadbase/features/leads"
	gemadapter "leadbase/internal/adapter/gemini"
	sfadapter "leadbase/internal/adapter/salesforce"
	windex "leadbase/internal/adapter/weaviate"
	"leadbase/internal/config"
	"leadbase/internal/dedup"
	"leadbase/internal/lead"
	"leadbase/internal/logger"
	"leadbase/internal/middleware"
	"leadbase/internal/pipeline"
	"leadbase/internal/ratelimit"
	"leadbase/internal/vector"
	"leadbase/internal/worker"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/generative-ai-go/genai"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/api/option"
)

func main() {
	// Initialize structured logger with correlation id support
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// 1. Database Connection
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening db connection: %w", err)
	}
	defer db.Close()

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Retry connection
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("pinging db after retries: %w", err)
	}

	// 2. Run Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations applied successfully")

	// 3. Weaviate Connection & Schema
	wClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		return fmt.Errorf("creating weaviate client: %w", err)
	}

	wAdapter := vector.NewWeaviateClientAdapter(wClient)

	// Retry Weaviate Schema Ensure
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := vector.EnsureSchema(ctx, wAdapter); err == nil {
			slog.Info("weaviate schema ensured")
			break
		}
		slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		time.Sleep(retryDelay)
	}
	if err := vector.EnsureSchema(ctx, wAdapter); err != nil {
		return fmt.Errorf("ensuring weaviate schema after retries: %w", err)
	}

	// 4. Gemini Client (embeddings + analysis)
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}
	defer genaiClient.Close()

	embedder := gemadapter.NewEmbedder(genaiClient, cfg.GeminiEmbedModel)
	analyzer := gemadapter.NewAnalyzer(genaiClient, cfg.GeminiAnalysisModel)

	embedTimeout := time.Duration(cfg.EmbedTimeoutSeconds) * time.Second
	idx := windex.NewIndex(wClient, embedder, cfg.GeminiEmbedModel, embedTimeout)

	// 5. Lead Store & Decision Engine
	repo := lead.NewPostgresRepo(db)

	scorer := dedup.NewSimilarity(embedder, embedTimeout)
	engine := dedup.NewEngine(dedup.Config{
		SuspiciousWindowMinutes: cfg.SuspiciousWindowMinutes,
		SuspiciousThreshold:     cfg.SuspiciousThreshold,
		LinkWindowHours:         cfg.LinkWindowHours,
		LinkThreshold:           cfg.LinkThreshold,
		FlagSuspicious:          cfg.FlagSuspiciousDuplicates,
		AutoLink:                cfg.AutoLinkRelatedLeads,
	}, scorer)

	// 6. CRM Sync (optional)
	var syncer pipeline.Syncer
	var crmCheck intake.HealthChecker
	if cfg.SalesforceConfigured() {
		sf, err := sfadapter.New(sfadapter.Config{
			Domain:      cfg.SalesforceDomain,
			Username:    cfg.SalesforceUsername,
			ConsumerKey: cfg.SalesforceConsumerKey,
			KeyPath:     cfg.SalesforceKeyPath,
			Object:      cfg.SalesforceObject,
			RPS:         cfg.SalesforceRPS,
		})
		if err != nil {
			return fmt.Errorf("initialising salesforce sync: %w", err)
		}
		syncer = sf
		crmCheck = sf
		slog.Info("crm sync enabled", "object", cfg.SalesforceObject)
	} else {
		slog.Info("crm sync disabled, missing salesforce configuration")
	}

	// 7. Pipeline
	svc := pipeline.NewService(repo, idx, engine, analyzer, syncer, pipeline.Options{
		SimilarityThreshold:     cfg.SimilarityThreshold,
		MaxSimilarLeads:         cfg.MaxSimilarLeads,
		ContactHistoryThreshold: cfg.ContactHistoryThreshold,
		ContactHistoryLimit:     cfg.ContactHistoryLimit,
		AnalysisTimeout:         time.Duration(cfg.AnalysisTimeoutSeconds) * time.Second,
		SyncTimeout:             time.Duration(cfg.SyncTimeoutSeconds) * time.Second,
	})

	// 8. NSQ Producer
	nsqProducer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("creating NSQ producer: %w", err)
	}
	defer nsqProducer.Stop()

	// Pre-create the intake topic so consumers querying lookupd don't 404
	// before the first publish. nsqd HTTP API lives on 4151.
	topicHost := cfg.NSQDHost
	if host, _, err := net.SplitHostPort(cfg.NSQDHost); err == nil && host != "" {
		topicHost = host
	}
	topicURL := fmt.Sprintf("http://%s:4151/topic/create?topic=%s", topicHost, worker.TopicIntake)
	go func() {
		time.Sleep(2 * time.Second)
		resp, err := http.Post(topicURL, "application/json", nil)
		if err != nil {
			slog.Warn("failed to pre-create intake topic", "error", err, "url", topicURL)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode == 200 {
			slog.Info("intake topic pre-created successfully")
		}
	}()

	// 9. Rate Limiter (optional)
	var limiter intake.RateLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.RateLimitPerMinute, time.Minute)
		slog.Info("intake rate limiting enabled", "limit_per_minute", cfg.RateLimitPerMinute)
	} else {
		slog.Info("intake rate limiting disabled, no REDIS_ADDR configured")
	}

	// Feature: Intake
	intakeHandler := intake.NewHandler(repo, idx, svc, nsqProducer, limiter, analyzer, crmCheck, intake.Options{
		Async:          cfg.EnableAsyncIntake,
		BatchParallel:  cfg.IntakeConcurrency,
		CheckThreshold: cfg.SimilarityThreshold,
	})

	// Feature: Leads
	leadsHandler := leads.NewHandler(repo, idx)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/intake", middleware.CorrelationID(enableCORS(intakeHandler.Submit)))
	mux.Handle("POST /api/v1/intake/batch", middleware.CorrelationID(enableCORS(intakeHandler.SubmitBatch)))
	mux.Handle("POST /api/v1/intake/check-similar", middleware.CorrelationID(enableCORS(intakeHandler.CheckSimilar)))
	mux.Handle("GET /api/v1/intake/health", middleware.CorrelationID(enableCORS(intakeHandler.Health)))

	mux.Handle("GET /api/v1/leads", middleware.CorrelationID(enableCORS(leadsHandler.List)))
	mux.Handle("GET /api/v1/leads/stats", middleware.CorrelationID(enableCORS(leadsHandler.Stats)))
	mux.Handle("GET /api/v1/leads/{id}", middleware.CorrelationID(enableCORS(leadsHandler.Get)))
	mux.Handle("GET /api/v1/leads/{id}/similar", middleware.CorrelationID(enableCORS(leadsHandler.Similar)))
	mux.Handle("PUT /api/v1/leads/{id}", middleware.CorrelationID(enableCORS(leadsHandler.Update)))
	mux.Handle("DELETE /api/v1/leads/{id}", middleware.CorrelationID(enableCORS(leadsHandler.Delete)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (Intake Consumer)
	intakeConsumer := worker.NewIntakeConsumer(svc, 2*time.Minute)

	consumer, err := nsq.NewConsumer(worker.TopicIntake, "backend", nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer for intake", "error", err)
	} else {
		consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
			return intakeConsumer.HandleMessage(m)
		}), cfg.IntakeConcurrency)

		var connErr error
		if cfg.NSQLookupd != "" {
			connErr = consumer.ConnectToNSQLookupd(cfg.NSQLookupd)
		} else {
			connErr = consumer.ConnectToNSQD(cfg.NSQDHost)
		}
		if connErr != nil {
			slog.Error("failed to connect NSQ intake consumer", "error", connErr)
		} else {
			slog.Info("NSQ Intake Consumer connected", "concurrency", cfg.IntakeConcurrency)
		}
		defer consumer.Stop()
	}

	// 10. Start Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "port", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
