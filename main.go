// ephemerai - An ephemeral browser front end for local LLM chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jeranaias/ephemerai/internal/budget"
	"github.com/jeranaias/ephemerai/internal/config"
	"github.com/jeranaias/ephemerai/internal/export"
	"github.com/jeranaias/ephemerai/internal/ingest"
	"github.com/jeranaias/ephemerai/internal/llm"
	"github.com/jeranaias/ephemerai/internal/logging"
	"github.com/jeranaias/ephemerai/internal/ollama"
	"github.com/jeranaias/ephemerai/internal/server"
	"github.com/jeranaias/ephemerai/internal/session"
	"github.com/jeranaias/ephemerai/internal/tika"
	"github.com/jeranaias/ephemerai/internal/tokens"
	"github.com/jeranaias/ephemerai/internal/vision"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.ephemerai/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ephemerai %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	// A .env next to the binary mirrors the container deployment; absence
	// is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

// run wires the collaborators together and serves until interrupted.
func run(cfg *config.Config, logger *zap.Logger) error {
	requestTimeout := time.Duration(cfg.LLM.RequestTimeoutS) * time.Second

	// Model backend: the native API for metadata and tokenization probes,
	// the OpenAI-compatible surface for chat.
	ollamaClient := ollama.NewClient(cfg.LLM.NativeURL, requestTimeout)
	inspector := ollama.NewInspector(ollamaClient, logger)
	chatter := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, logger)

	// Document parser with its session-scoped extraction cache.
	tikaClient := tika.NewClient(cfg.Tika.URL, time.Duration(cfg.Tika.TimeoutS)*time.Second)
	parser := tika.NewParser(tikaClient, logger)

	estimator := tokens.NewEstimator(ollamaClient, cfg.LLM.Model, logger)
	detector := vision.NewDetector(cfg.LLM.VisionSupport, inspector, logger)

	normalizer := ingest.NewNormalizer(parser, ingest.Options{
		MaxCharsPerDoc:  cfg.Documents.MaxCharsPerDoc,
		MaxContextChars: cfg.Documents.MaxContextChars,
		ImageWarnBytes:  cfg.Documents.ImageWarnBytes,
	}, logger)

	enforcer := budget.NewEnforcer(estimator, cfg.Budget.Enabled, logger)

	prompts := config.NewPromptStore(cfg.LLM.SystemPromptPath, logger)
	if cfg.LLM.SystemPromptPath != "" {
		if err := prompts.Watch(); err != nil {
			logger.Warn("system prompt hot-reload unavailable", zap.Error(err))
		}
		defer prompts.Close()
	}

	location := time.Local
	if cfg.LLM.Timezone != "" {
		loc, err := time.LoadLocation(cfg.LLM.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.LLM.Timezone, err)
		}
		location = loc
	}

	sess := session.New(session.Config{
		ModelName:             cfg.LLM.Model,
		DefaultUploadPrompt:   cfg.Documents.DefaultUploadPrompt,
		FallbackContextTokens: cfg.Budget.FallbackContextTokens,
		ImageTokenCost:        cfg.Budget.ImageTokenCost,
		Location:              location,
		Debug:                 cfg.Debug,
	}, normalizer, enforcer, estimator, inspector, detector, chatter, prompts, parser, logger)

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		SubmitPerMinute: cfg.Server.SubmitPerMinute,
		ModelName:       cfg.LLM.Model,
	}, sess, export.NewCache(), inspector, parser, logger)

	// Startup reachability report. Both collaborators are optional at
	// boot; the health endpoint keeps reporting while they come up.
	probeCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	if err := ollamaClient.CheckRunning(probeCtx); err != nil {
		logger.Warn("model backend unreachable at startup", zap.Error(err))
	}
	if err := parser.CheckRunning(probeCtx); err != nil {
		logger.Warn("document parser unreachable at startup", zap.Error(err))
	}
	cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
