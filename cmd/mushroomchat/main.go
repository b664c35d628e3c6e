package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/config"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/adapters"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/logging"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/memory"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./config.yaml, etc/mycochat, .config/mycochat)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.New(logging.Config{}).Fatal().Err(err).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("mycochat stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := adapters.NewOpenAIProvider(adapters.OpenAISettings{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return err
	}
	logger.Info().
		Str("base_url", cfg.LLM.BaseURL).
		Str("text_model", cfg.LLM.TextModel).
		Str("vision_model", cfg.LLM.VisionModel).
		Msg("model provider ready")

	instructions, err := harness.LoadInstruction(cfg.Harness.SystemPromptPath, logger)
	if err != nil {
		return err
	}
	if cfg.Harness.WatchSystemPrompt {
		if err := instructions.Watch(ctx); err != nil {
			return err
		}
	}

	var gatherer prometheus.Gatherer
	var registerer prometheus.Registerer
	if cfg.Harness.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gatherer, registerer = reg, reg
	}

	pipeline, err := harness.NewFactory(cfg, provider, registerer, logger).CreatePipeline(instructions)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg.Server, pipeline, memory.NewRegistry(), gatherer, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("mycochat stopped")
	return nil
}
