package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/smtp-queue-lite/internal/admin"
	"github.com/shineum/smtp-queue-lite/internal/smtp"
	smtptls "github.com/shineum/smtp-queue-lite/internal/tls"
)

func newServeCmd(configPath *string) *cobra.Command {
	var noTLS bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture listener, admin API and background dispatch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath, noTLS)
		},
	}
	cmd.Flags().BoolVar(&noTLS, "no-tls", false, "disable STARTTLS on the capture listener")
	return cmd
}

func serve(ctx context.Context, configPath string, noTLS bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	serverCfg := smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Provider:       a.guard,
		AuthUsername:   cfg.SMTP.Username,
		AuthPassword:   cfg.SMTP.Password,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		Logger:         a.logger,
	}
	tlsMode := "disabled"
	if !noTLS {
		tlsConfig, err := smtptls.Config(smtptls.Options{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
			Hosts:    []string{cfg.SMTP.Hostname},
		})
		if err != nil {
			return fmt.Errorf("setting up TLS: %w", err)
		}
		serverCfg.TLSConfig = tlsConfig
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" {
			tlsMode = "file"
		}
	}

	a.logger.Info("starting smtp-queue-lite",
		"smtp_addr", cfg.SMTP.Listen,
		"admin_addr", cfg.Admin.Listen,
		"provider", a.transport.Name(),
		"store", cfg.Store.Driver,
		"queue_enabled", cfg.Queue.Enabled,
		"sending_limit", cfg.Queue.SendingLimit,
		"send_interval", cfg.Queue.SendInterval,
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return smtp.New(serverCfg).ListenAndServe(ctx)
	})
	if cfg.Admin.Listen != "" {
		handler := admin.New(a.store, a.dispatcher, a.cleaner, a.logger).Routes()
		g.Go(func() error {
			return admin.ListenAndServe(ctx, cfg.Admin.Listen, handler, a.logger)
		})
	}
	g.Go(func() error {
		a.dispatcher.Run(ctx, cfg.Queue.SendInterval)
		return nil
	})
	g.Go(func() error {
		a.cleaner.Run(ctx, cfg.Queue.ClearInterval)
		return nil
	})

	err = g.Wait()
	if err != nil {
		a.logger.Error("server error", "error", err)
		return err
	}
	a.logger.Info("smtp-queue-lite stopped")
	return nil
}

