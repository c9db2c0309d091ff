// Package main is the entry point for spoold, the call dispatch daemon.
// It watches the pending bin, claims due jobs, and drives origination
// attempts through the retry policy.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"callspool/internal/config"
	"callspool/internal/dispatch"
	"callspool/internal/dispatch/originate"
	"callspool/internal/logger"
	"callspool/internal/observability"
	"callspool/internal/retry"
	"callspool/internal/spool"
	"callspool/internal/spool/watch"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: callspool.yaml in current directory)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing is optional; without a collector the daemon runs fine.
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "callspool-spoold", cfg.OTELEndpoint)
		if err != nil {
			log.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	dispatchMetrics, err := observability.NewDispatchMetrics()
	if err != nil {
		log.Error("failed to create dispatch metrics", "error", err)
		os.Exit(1)
	}

	manager, err := spool.NewManager(cfg.SpoolRoot, log)
	if err != nil {
		// The only unrecoverable storage failure: no spool root.
		log.Error("failed to open spool", "root", cfg.SpoolRoot, "error", err)
		os.Exit(1)
	}

	wake := watch.New(manager.Dir(spool.BinPending), cfg.PollInterval, log)
	defer wake.Close()

	dialer := originate.NewExecOriginator(cfg.OriginateCommand, cfg.AttemptTimeout)

	scheduler := dispatch.New(manager, dialer, wake, dispatch.Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		PollInterval:   cfg.PollInterval,
		OriginateRate:  cfg.OriginateRate,
		OriginateBurst: cfg.OriginateBurst,
		Policy:         retry.Policy{ExemptSuccessFromBudget: cfg.ExemptSuccessFromBudget},
	}, log, dispatchMetrics)

	go scheduler.Run(ctx)
	log.Info("spoold started",
		"spool_root", cfg.SpoolRoot,
		"max_concurrent", cfg.MaxConcurrent,
		"originate_command", cfg.OriginateCommand)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		log.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down, draining in-flight attempts")
	cancel()
	<-scheduler.Done()
}
