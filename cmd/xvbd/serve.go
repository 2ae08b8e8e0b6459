package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/xvbd"
	"github.com/loykin/xvbd/internal/config"
	"github.com/loykin/xvbd/internal/logger"
)

func createServeCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.ConfigPath)
			if err != nil {
				return err
			}
			closer, err := logger.Setup(cfg.General.Log)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := xvbd.New(ctx, cfg)
			if err != nil {
				return err
			}
			slog.Info("xvbd starting", "config", g.ConfigPath, "mode", cfg.Xvb.Mode)
			return d.Run(ctx)
		},
	}
}
