package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shineum/smtp-queue-lite/internal/capture"
	"github.com/shineum/smtp-queue-lite/internal/config"
	"github.com/shineum/smtp-queue-lite/internal/dispatch"
	"github.com/shineum/smtp-queue-lite/internal/logging"
	"github.com/shineum/smtp-queue-lite/internal/provider"
	"github.com/shineum/smtp-queue-lite/internal/provider/graph"
	"github.com/shineum/smtp-queue-lite/internal/provider/relay"
	"github.com/shineum/smtp-queue-lite/internal/provider/ses"
	"github.com/shineum/smtp-queue-lite/internal/provider/stdout"
	"github.com/shineum/smtp-queue-lite/internal/queue"
)

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      queue.Store
	transport  provider.Provider
	guard      *capture.Guard
	dispatcher *dispatch.Dispatcher
	cleaner    *dispatch.Cleaner

	logCloser io.Closer
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.Setup(logging.Options{
		Level:     cfg.Logging.Level,
		Debug:     cfg.Queue.Debug,
		DebugFile: cfg.Logging.DebugFile,
	})
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		closer.Close()
		return nil, err
	}

	transport, err := selectProvider(ctx, cfg, logger)
	if err != nil {
		store.Close()
		closer.Close()
		return nil, err
	}

	enabled := func() bool { return cfg.Queue.Enabled }
	guard := capture.NewGuard(capture.GuardConfig{
		Next:    transport,
		Store:   store,
		Enabled: enabled,
		Logger:  logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		transport: transport,
		guard:     guard,
		dispatcher: dispatch.New(store, guard, dispatch.Config{
			Enabled:      enabled,
			SendingLimit: cfg.Queue.SendingLimit,
		}, logger),
		cleaner: dispatch.NewCleaner(store, dispatch.CleanerConfig{
			Enabled:        enabled,
			SentAfterDays:  cfg.Queue.ClearSuccessAfterDays,
			ErrorAfterDays: cfg.Queue.ClearErrorsAfterDays,
		}, logger),
		logCloser: closer,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
	a.logCloser.Close()
}

// loadConfig loads configuration from a YAML file if a path is given,
// otherwise from environment variables only.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (queue.Store, error) {
	if cfg.Driver == "memory" {
		return queue.NewMemoryStore(), nil
	}
	store, err := queue.OpenSQL(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

var errProviderConfig = errors.New("provider is not fully configured")

// selectProvider chooses the delivery backend. An explicit PROVIDER wins;
// otherwise Graph, SES and relay are tried in that order before falling
// back to stdout.
func selectProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	name := cfg.Provider
	if name == "" {
		switch {
		case cfg.GraphConfigured():
			name = "graph"
		case cfg.SESConfigured():
			name = "ses"
		case cfg.RelayConfigured():
			name = "relay"
		default:
			name = "stdout"
		}
		logger.Info("provider auto-detected", "provider", name)
	}

	switch name {
	case "graph":
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("%w: graph needs GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER", errProviderConfig)
		}
		logger.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("%w: ses needs SES_REGION and SES_SENDER", errProviderConfig)
		}
		logger.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("creating SES provider: %w", err)
		}
		return p, nil

	case "relay":
		if !cfg.RelayConfigured() {
			return nil, fmt.Errorf("%w: relay needs RELAY_ADDR", errProviderConfig)
		}
		logger.Info("using SMTP relay provider", "addr", cfg.Relay.Addr)
		return relay.New(relay.Config{
			Addr:     cfg.Relay.Addr,
			Username: cfg.Relay.Username,
			Password: cfg.Relay.Password,
		}), nil

	case "stdout":
		logger.Info("using stdout provider")
		return stdout.New(), nil

	case "mime":
		logger.Info("using stdout provider in MIME mode")
		return stdout.NewMIME(os.Stdout), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
