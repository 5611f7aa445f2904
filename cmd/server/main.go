package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/indexops/recalc/internal/api"
	"github.com/indexops/recalc/internal/batch"
	"github.com/indexops/recalc/internal/config"
	"github.com/indexops/recalc/internal/history"
	"github.com/indexops/recalc/internal/job"
	"github.com/indexops/recalc/internal/jobs"
	"github.com/indexops/recalc/internal/manager"
	"github.com/indexops/recalc/internal/middleware"
	"github.com/indexops/recalc/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	st, err := newStore(cfg)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if closer, ok := st.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("failed to close task store: %v", err)
			}
		}
	}()

	recorder, err := newRecorder(cfg)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := recorder.Close(); err != nil {
			log.Printf("failed to close history recorder: %v", err)
		}
	}()

	registry := job.NewRegistry()
	registry.Register("index_review", newReviewJob(cfg))
	if cfg.Email.APIKey != "" {
		registry.Register("send_email", jobs.NewEmailJob(cfg.Email.FromName, cfg.Email.FromAddress, cfg.Email.APIKey))
	}

	m := manager.New(st, registry, recorder, manager.Config{
		MaxConcurrent: cfg.Tasks.MaxConcurrent,
		TaskTimeout:   cfg.Tasks.Timeout,
	})

	if err := m.Reconcile(); err != nil {
		log.Fatal(err)
	}

	runner := batch.NewRunner(m)
	runner.SetPollInterval(cfg.Tasks.BatchPollInterval)
	if cfg.Email.APIKey != "" && len(cfg.Email.BatchRecipients) > 0 {
		runner.SetNotifier(jobs.NewBatchMailer(
			cfg.Email.FromName, cfg.Email.FromAddress, cfg.Email.APIKey, cfg.Email.BatchRecipients))
	}

	go startMetricsCollector(m)
	go startCleanupLoop(m, cfg.Tasks.CleanupMaxAge)

	apiHandler := api.NewAPI(m, runner)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.MetricsMiddleware(apiHandler),
	}

	go func() {
		log.Printf("Server starting on :%d (store: %s, max concurrent: %d)",
			cfg.Server.Port, cfg.Store.Backend, cfg.Tasks.MaxConcurrent)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("failed to shut down server: %v", err)
	}
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(cfg.Store.RedisAddr)
	default:
		return store.NewFileStore(cfg.Store.Dir)
	}
}

func newRecorder(cfg *config.Config) (history.Recorder, error) {
	if cfg.History.PostgresDSN == "" {
		return history.NopRecorder{}, nil
	}
	return history.NewPostgresRecorder(cfg.History.PostgresDSN)
}

func newReviewJob(cfg *config.Config) *jobs.ReviewJob {
	j := jobs.NewReviewJob(cfg.Review.Indexes, cfg.Review.RunnerCommand)
	j.SetTailLines(cfg.Review.TailLines)
	return j
}

func startCleanupLoop(m *manager.TaskManager, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		removed, err := m.Cleanup(maxAge)
		if err != nil {
			log.Printf("Failed to clean up old tasks: %v", err)
			continue
		}
		if removed > 0 {
			log.Printf("Cleaned up %d old tasks", removed)
		}
	}
}
