// Package main is the entry point for the feedplane daemon.
// One process serves the admin API, ticks the feed scheduler and runs queued jobs.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"feedplane/internal/config"
	"feedplane/internal/logger"
	"feedplane/internal/observability"
	"feedplane/internal/scheduler"

	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: feedplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := scheduler.ValidateSchedule(cfg.FeedSchedule); err != nil {
		log.Fatalf("Invalid FEED_SCHEDULE %q: %v", cfg.FeedSchedule, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "feedplane", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "feedplane")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	instruments, err := observability.NewInstruments(otel.Meter("feedplane"))
	if err != nil {
		log.Fatalf("Failed to create instruments: %v", err)
	}

	appLog := logger.New(cfg.LogLevel)
	a, err := build(ctx, cfg, appLog, instruments, metricsHandler, *migrateFlag)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Scheduler stopped: %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		log.Printf("Feedplane listening on :%d (store: %s)", cfg.HTTPPort, cfg.StoreDriver)
		if err := a.server.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()
	go a.agent.Run(ctx)

	<-ctx.Done()
	log.Println("Shutting down feedplane...")

	<-a.agent.Done()
	wg.Wait()
	log.Println("Feedplane exited properly")
}
