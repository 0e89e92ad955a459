// Command driftwatch runs the Environment Drift Comparison Service: a REST
// gateway that probes two HTTP endpoints, computes a structured diff, asks a
// generative model to explain it, and persists the result for async polling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/config"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/explain"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/gateway"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/logging"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/orchestrator"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/probe"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/store"
)

func main() {
	fmt.Println("driftwatch starting...")

	configFlag := flag.String("config", "", "Path to the YAML/JSON configuration file. If not set, searches default locations.")
	configFlagAlias := flag.String("c", "", "Alias for -config")
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config file if set)")
	addrFlagAlias := flag.String("a", "", "Alias for -addr")
	flag.Parse()

	if *configFlag == "" && *configFlagAlias != "" {
		*configFlag = *configFlagAlias
	}
	if *addrFlag == "" && *addrFlagAlias != "" {
		*addrFlag = *addrFlagAlias
	}

	log.Println("[INFO] Main: Attempting to load configuration...")
	cfg, err := config.LoadGlobalConfig(*configFlag, zerolog.Nop())
	if err != nil {
		log.Fatalf("[FATAL] Main: Could not load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.GatewayConfig.Addr = *addrFlag
	}

	zLogger, err := logging.New(logging.Config{
		Level:      cfg.LogConfig.Level,
		Format:     cfg.LogConfig.Format,
		FilePath:   cfg.LogConfig.FilePath,
		MaxSizeMB:  cfg.LogConfig.MaxSizeMB,
		MaxBackups: cfg.LogConfig.MaxBackups,
	})
	if err != nil {
		log.Fatalf("[FATAL] Main: Could not initialize logger: %v", err)
	}
	zLogger.Info().Msg("Logger initialized successfully.")

	if err := config.ValidateConfig(cfg); err != nil {
		zLogger.Fatal().Err(err).Msg("Configuration validation failed")
	}
	zLogger.Info().Msg("Configuration validated successfully.")

	stores := store.NewManagerWithOptions(cfg.StoreConfig.BaseDir, store.Options{
		RingBufferSize: cfg.StoreConfig.RingBufferSize,
		StaleAfter:     time.Duration(cfg.StoreConfig.StaleAfterMinutes) * time.Minute,
	}, zLogger)
	defer func() {
		if err := stores.Close(); err != nil {
			zLogger.Error().Err(err).Msg("error closing pair stores")
		}
	}()

	prober := probe.New(probe.Config{
		TotalBudget:        cfg.ProbeConfig.Budget(),
		MaxRedirectHops:    cfg.ProbeConfig.MaxRedirectHops,
		InsecureSkipVerify: cfg.ProbeConfig.InsecureSkipVerify,
		EnableHTTP2:        cfg.ProbeConfig.EnableHTTP2,
		UserAgent:          cfg.ProbeConfig.UserAgent,
		AllowLoopback:      cfg.ProbeConfig.AllowLoopback,
	}, zLogger)

	explainer := explain.New(cfg.ExplainConfig)
	orch := orchestrator.New(prober, stores, explainer, zLogger)
	gw := gateway.New(cfg.GatewayConfig, stores, orch, zLogger)

	srv := &http.Server{
		Addr:    cfg.GatewayConfig.Addr,
		Handler: gw.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		zLogger.Info().Str("signal", sig.String()).Msg("Received interrupt signal, initiating graceful shutdown...")
		cancel()

		grace := time.Duration(cfg.GatewayConfig.ShutdownGraceSeconds) * time.Second
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zLogger.Error().Err(err).Msg("graceful shutdown did not complete within grace period")
		}
	}()

	zLogger.Info().Str("addr", cfg.GatewayConfig.Addr).Msg("Gateway listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zLogger.Fatal().Err(err).Msg("Gateway server error")
	}

	if ctx.Err() == context.Canceled {
		zLogger.Info().Msg("Application shutting down due to context cancellation.")
	} else {
		zLogger.Info().Msg("Application finished.")
	}
}
