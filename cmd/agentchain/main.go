// agentchain server: hosts event-sourced conversational agents behind an
// HTTP/SSE/WebSocket API. With -send it runs as a one-shot client against a
// local store instead, printing the triggered turn's events as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentchain-dev/agentchain/pkg/agent"
	"github.com/agentchain-dev/agentchain/pkg/api"
	"github.com/agentchain-dev/agentchain/pkg/config"
	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/registry"
	"github.com/agentchain-dev/agentchain/pkg/store"
	"github.com/agentchain-dev/agentchain/pkg/store/fsstore"
	"github.com/agentchain-dev/agentchain/pkg/store/memstore"
	"github.com/agentchain-dev/agentchain/pkg/store/pgstore"
	"github.com/agentchain-dev/agentchain/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("AGENTCHAIN_CONFIG", ""),
		"Path to YAML configuration file (optional)")
	sendMsg := flag.String("send", "", "One-shot mode: send a message and stream the turn, then exit")
	agentName := flag.String("agent", "default", "Agent name for -send mode")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open event store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	debounce, _ := cfg.ParseDebounceWindow()
	turnTimeout, _ := cfg.ParseTurnTimeout()

	reg := registry.New(st, &agent.EchoExecutor{}, agent.Config{
		DebounceWindow:   debounce,
		TurnTimeout:      turnTimeout,
		SubscriberBuffer: cfg.SubscriberBuffer,
	}, registry.Bootstrap{
		SystemPrompt: cfg.SystemPrompt,
		LLMConfig:    cfg.LLM,
	}, slog.Default())

	if *sendMsg != "" {
		if err := runSend(ctx, reg, *agentName, *sendMsg); err != nil {
			slog.Error("Send failed", "error", err)
			os.Exit(1)
		}
		return
	}

	httpServer := api.NewServer(reg, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		slog.Info("HTTP server listening", "addr", addr, "version", version.Full())
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	reg.ShutdownAll(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (store.EventStore, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memstore.New(), func() {}, nil
	case config.StorePostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		fs, err := fsstore.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

// runSend appends one user message and prints every event of the resulting
// turn to stdout, one JSON object per line.
func runSend(ctx context.Context, reg *registry.Registry, name, content string) error {
	a, err := reg.GetOrCreate(ctx, name)
	if err != nil {
		return err
	}
	defer reg.ShutdownAll(ctx)

	sub := a.Subscribe()
	defer sub.Close()

	a.AddEvent(event.NewUserMessage(content, nil))

	enc := json.NewEncoder(os.Stdout)
	sawMessage := false
	turnNumber := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			if !sawMessage {
				if ev.Tag != event.TagUserMessage || ev.Content != content {
					continue
				}
				sawMessage = true
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
			switch ev.Tag {
			case event.TagAgentTurnStarted:
				if turnNumber == 0 {
					turnNumber = ev.TurnNumber
				}
			case event.TagAgentTurnCompleted, event.TagAgentTurnFailed, event.TagAgentTurnInterrupted:
				if turnNumber != 0 && ev.TurnNumber == turnNumber {
					return nil
				}
			case event.TagSessionEnded:
				return nil
			}
		}
	}
}
