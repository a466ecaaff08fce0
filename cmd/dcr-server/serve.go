/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log"
	"github.com/spf13/cobra"

	"github.com/acronis/go-dcrkit"
)

const envVarsPrefix = "DCR"

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML configuration file")
	return cmd
}

func runServer(ctx context.Context, configPath string) error {
	cfg := dcrkit.NewConfig()
	srvCfg := &serverConfig{}
	logCfg := log.NewConfig()
	if err := config.NewDefaultLoader(envVarsPrefix).LoadFromFile(
		configPath, config.DataTypeYAML, cfg, srvCfg, logCfg); err != nil {
		return fmt.Errorf("load configuration from %s: %w", configPath, err)
	}

	logger, closeLogger := log.NewLogger(logCfg)
	defer closeLogger()

	svc, err := dcrkit.NewService(ctx, cfg, dcrkit.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			logger.Error("failed to close registration store", log.Error(closeErr))
		}
	}()

	handler, err := newHandler(cfg, svc, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              srvCfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(srvCfg.ReadHeaderTimeout),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("DCR server is listening on %s (store: %s, gateway enabled: %t)",
			srvCfg.Address, cfg.Store.Type, cfg.Gateway.Enabled))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down DCR server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err = srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}
