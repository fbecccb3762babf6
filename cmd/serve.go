package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robertobartola/mybackrec/internal/server"
	"github.com/robertobartola/mybackrec/internal/service"
	"github.com/robertobartola/mybackrec/internal/storage"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the MyBackRec web server to control recording from a browser.
This allows you to start, freeze and stop recording from your smartphone or any
device on the same network.

The server will display the local network URL for easy access from mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}
		record, _ := cmd.Flags().GetBool("record")

		store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)
		session := service.New(cfg, newBackend(cfg), store)
		srv := server.New(cfg, session, store)

		if record {
			if err := session.Start(cfg.Recording.DurationSeconds); err != nil {
				return fmt.Errorf("failed to start recording: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			if err := session.Stop(); err != nil && !errors.Is(err, service.ErrNotRecording) {
				return fmt.Errorf("failed to stop recording: %w", err)
			}
			return nil
		})

		slog.Info("MyBackRec web server starting", "port", cfg.Server.Port, "config", cfgFile)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (overrides config)")
	serveCmd.Flags().Bool("record", false, "start recording immediately with the configured duration")
}
