// cmd/api/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visualizer-backend/internal/adapters"
	"visualizer-backend/internal/config"
	"visualizer-backend/internal/handler"
	"visualizer-backend/internal/logger"
	"visualizer-backend/internal/middleware"
	"visualizer-backend/internal/models"
	"visualizer-backend/internal/pipeline"
	"visualizer-backend/internal/service"
	"visualizer-backend/internal/storage"
	"visualizer-backend/internal/store"
	"visualizer-backend/internal/worker"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	log := logger.App()

	// ── Record store (swappable: postgres / mongo / memory) ───────────────────
	recordStore, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("record store unavailable")
	}
	defer closeStore()

	// ── Artifact storage (LocalStorage in dev, S3 when STORAGE_TYPE=s3) ───────
	var artifacts storage.Storage
	if cfg.StorageType == "s3" {
		s3, err := storage.NewS3Storage(context.Background(), cfg.AWSBucket, cfg.AWSRegion)
		if err != nil {
			log.WithError(err).Fatal("S3 storage")
		}
		artifacts = s3
		log.WithField("bucket", cfg.AWSBucket).Info("Using S3 storage")
	} else {
		local, err := storage.NewLocalStorage(cfg.ArtifactDir, cfg.BaseURL)
		if err != nil {
			log.WithError(err).Fatal("local storage")
		}
		artifacts = local
		log.WithField("dir", cfg.ArtifactDir).Info("Using local storage")
	}

	// ── Adapters ──────────────────────────────────────────────────────────────
	p := cfg.Pipeline
	scriptWriter, err := adapters.NewScriptWriter(context.Background(), p.GeminiAPIKey, p.ScriptModel)
	if err != nil {
		log.WithError(err).Fatal("script adapter")
	}
	defer scriptWriter.Close()

	codeGenerator, err := adapters.NewCodeGenerator(p.CodeAPIKey, p.CodeBaseURL, p.CodeModel, p.CodeTimeout)
	if err != nil {
		log.WithError(err).Fatal("code adapter")
	}

	stageAdapters := service.Adapters{
		Script: scriptWriter,
		Speech: &adapters.SpeechSynthesizer{
			BaseURL:        p.ElevenLabsBaseURL,
			APIKey:         p.ElevenLabsAPIKey,
			Model:          p.SpeechModel,
			DefaultVoice:   p.DefaultVoice,
			WordsPerMinute: p.WordsPerMinute,
			Storage:        artifacts,
		},
		Code:    codeGenerator,
		Render:  &adapters.Renderer{BaseURL: p.RenderURL, Token: p.RenderToken},
		Combine: &adapters.Combiner{FFmpegPath: p.FFmpegPath, Storage: artifacts},
	}
	timeouts := service.Timeouts{
		Script:     p.ScriptTimeout,
		Audio:      p.AudioTimeout,
		Code:       p.CodeTimeout,
		Render:     p.RenderTimeout,
		Combine:    p.CombineTimeout,
		LeaseGrace: p.LeaseGrace,
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	// Stages hand off through the dispatcher instead of calling each other's
	// routes. Anything the queue drops is picked up by the resume worker.
	vizService := service.NewVisualizationService(recordStore, stageAdapters, timeouts, p.DefaultAudioDurationSeconds, logger.Pipeline())
	dispatcher := pipeline.NewDispatcher(p.Workers, p.QueueSize, vizService.HandleJob)
	vizService.Dispatcher = dispatcher

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	resumer := worker.NewResumeWorker(vizService, p.ResumeInterval, p.ResumeStaleAfter, p.ResumeBatchSize, logger.Pipeline())
	go resumer.Start(workerCtx)

	// ── Router ────────────────────────────────────────────────────────────────
	r := mux.NewRouter()

	// Health check for load balancers and liveness probes
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := recordStore.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use((&middleware.Auth{Secret: []byte(cfg.JWTSecret), Log: logger.HTTP()}).Middleware)
	vizHandler := &handler.VisualizationHandler{Service: vizService, Log: logger.HTTP()}
	vizHandler.Routes(api)

	// Local artifacts; with S3 the returned URLs point at the bucket instead.
	if cfg.StorageType == "local" {
		r.PathPrefix("/artifacts/").Handler(
			http.StripPrefix("/artifacts/", http.FileServer(http.Dir(cfg.ArtifactDir))),
		)
	}

	if cfg.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET not set, trusting X-User-ID header")
	}

	// ── CORS ──────────────────────────────────────────────────────────────────
	// Dev:        ALLOWED_ORIGINS=http://localhost:5173
	// Production: ALLOWED_ORIGINS=https://yourproduct.com,https://app.yourproduct.com
	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.Origins()),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-User-ID", "Authorization"}),
	)
	httpLog := logger.HTTP().Writer()
	defer httpLog.Close()
	root := handlers.CombinedLoggingHandler(httpLog, handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.HTTP()),
		handlers.PrintRecoveryStack(!cfg.IsProduction()),
	)(cors(r)))

	// ── HTTP Server with timeouts ──────────────────────────────────────────────
	// Stage triggers run synchronously, so writes may take as long as the
	// slowest stage.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: slowestStage(timeouts) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── Graceful Shutdown ──────────────────────────────────────────────────────
	// SIGTERM stops accepting requests, lets in-flight stages finish and only
	// then closes the store. Stages cut off by the deadline keep their status
	// and are resumed by the next instance.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("Visualizer service running on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	<-quit
	log.Info("Shutdown signal received, draining requests and stages")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
	stopWorkers()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Stages interrupted")
	}
	log.Info("Server stopped cleanly")
}

// openStore connects the record store selected by STORE_TYPE and returns a
// function releasing it.
func openStore(cfg *config.Config, log *logrus.Logger) (store.Store, func(), error) {
	switch cfg.StoreType {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}

		// Connection pool, sized for the API plus the pipeline workers
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Fail fast rather than accepting traffic
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres ping: %w", err)
		}

		var dbName string
		db.QueryRowContext(ctx, "SELECT current_database()").Scan(&dbName)
		log.WithField("database", dbName).Info("Connected to postgres")
		return store.NewPostgresStore(db, cfg.StoreTimeout), func() { db.Close() }, nil

	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(ctx)
		}
		if err := client.Ping(ctx, nil); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}

		ms := store.NewMongoStore(client.Database(cfg.MongoDatabase).Collection("visualizations"), cfg.StoreTimeout)
		if err := ms.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		log.WithField("database", cfg.MongoDatabase).Info("Connected to mongo")
		return ms, disconnect, nil

	case "memory":
		log.Warn("Using in-memory record store, records are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_TYPE %q", cfg.StoreType)
}

func slowestStage(t service.Timeouts) time.Duration {
	longest := t.For(models.StageScript)
	for _, stage := range models.Stages {
		if d := t.For(stage); d > longest {
			longest = d
		}
	}
	return longest
}
