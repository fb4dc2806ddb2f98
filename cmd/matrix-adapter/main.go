// ABOUTME: Entry point for the matrix adapter
// ABOUTME: Wires the session pool, adapter service and HTTP API together

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/adapter"
	"github.com/alkem-io/matrix-adapter/internal/api"
	"github.com/alkem-io/matrix-adapter/internal/breaker"
	"github.com/alkem-io/matrix-adapter/internal/config"
	"github.com/alkem-io/matrix-adapter/internal/direct"
	"github.com/alkem-io/matrix-adapter/internal/session"
	"github.com/alkem-io/matrix-adapter/internal/timeline"
)

const banner = `
    ╭──────────────────────────────────────╮
    │                                      │
    │   ┏┳┓┏━┓╺┳╸┏━┓╻╻ ╻                   │
    │   ┃┃┃┣━┫ ┃ ┣┳┛┃┏╋┛                   │
    │   ╹ ╹╹ ╹ ╹ ╹┗╸╹╹ ╹                   │
    │                                      │
    │           matrix adapter             │
    │                                      │
    ╰──────────────────────────────────────╯
`

// getConfigPath returns the path to the adapter config file.
// Priority: MATRIX_ADAPTER_CONFIG env var > XDG_CONFIG_HOME/matrix-adapter/config.toml > ~/.config/matrix-adapter/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("MATRIX_ADAPTER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "matrix-adapter", "config.toml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Server:     %s\n", cfg.Matrix.ServerName)
	green.Print("    ▶ ")
	fmt.Printf("API:        %s\n", cfg.API.Addr)
	fmt.Println()

	adminID, err := session.IdentityFromEmail(cfg.Matrix.AdminEmail, cfg.Matrix.ServerName)
	if err != nil {
		return fmt.Errorf("deriving admin identity: %w", err)
	}

	resolver := direct.NewResolver(logger)
	opener := session.NewOpener(session.OpenerConfig{
		HomeserverURL:  cfg.Matrix.Homeserver,
		PasswordSecret: []byte(cfg.Matrix.PasswordSecret),
		Options: session.Options{
			OnDirectInvite: func(ctx context.Context, sess *session.Session, counterpart id.UserID, roomID id.RoomID) {
				if err := resolver.Record(ctx, sess, counterpart, roomID); err != nil {
					logger.Warn("recording direct room failed",
						"identity", sess.Identity().String(),
						"room", roomID.String(),
						"error", err)
				}
			},
			OnLeave: func(ctx context.Context, sess *session.Session, roomID id.RoomID) {
				if err := resolver.Forget(ctx, sess, roomID); err != nil {
					logger.Warn("forgetting direct room failed",
						"identity", sess.Identity().String(),
						"room", roomID.String(),
						"error", err)
				}
			},
		},
		Logger: logger,
	})

	pool, err := session.NewPool(session.PoolConfig{
		Capacity:      cfg.Pool.Capacity,
		TTL:           cfg.Pool.TTL,
		SweepInterval: cfg.Pool.SweepInterval,
		Open:          opener,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating session pool: %w", err)
	}
	defer pool.Close()

	elevated := session.NewElevated(func(ctx context.Context) (*session.Session, error) {
		sess, err := opener(ctx, adminID)
		if err != nil {
			return nil, err
		}
		sess.Start()
		return sess, nil
	})
	defer elevated.Close()

	svc := adapter.New(adapter.Config{
		Pool:     pool,
		Elevated: elevated,
		Peek: breaker.New(breaker.Config{
			FailureThreshold:    cfg.Breaker.FailureThreshold,
			InitialResetTimeout: cfg.Breaker.InitialResetTimeout,
			MaxResetTimeout:     cfg.Breaker.MaxResetTimeout,
			Logger:              logger,
		}),
		Converter:         timeline.NewConverter(cfg.Timeline.BatchSize, logger),
		Direct:            resolver,
		AllowRegistration: cfg.Matrix.AllowRegistration,
		Logger:            logger,
	})

	server := api.New(api.Config{
		Addr:       cfg.API.Addr,
		ServerName: cfg.Matrix.ServerName,
		JWTSecret:  cfg.API.JWTSecret,
		Logger:     logger,
	}, svc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting adapter", "admin", adminID.String())
	return server.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
