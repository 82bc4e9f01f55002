package main

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tse-report-engine/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the report engine over HTTP",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.manager.GetConfig()
	a.logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"driver":  cfg.Database.Driver,
		"version": version,
	}).Info("Starting TSE report engine")

	server := api.NewServer(a.manager, a.logger, a.services, a.locker, a.registry)
	if err := server.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("Server stopped")
	return nil
}
