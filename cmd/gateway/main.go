// Command gateway runs the agent LLM gateway.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/gateway"
	"github.com/sentinelgate/agent-gateway/internal/monitoring"
	"github.com/sentinelgate/agent-gateway/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		listenAddr = flag.String("listen", "", "listen address (overrides config)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Optional .env for provider keys during local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		monitoring.SetupLogging(false, os.Stderr)
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	cfg.Debug = cfg.Debug || *debug

	monitoring.SetupLogging(cfg.Debug, os.Stderr)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open store")
	}
	defer st.Close()

	gw, err := gateway.New(cfg, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("gateway stopped")
}
