package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robertobartola/mybackrec/internal/service"
	"github.com/robertobartola/mybackrec/internal/storage"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record continuously and freeze the last seconds on demand",
	Long: `Record from the input device into a rolling buffer holding the last N seconds.

Press Enter (or send SIGUSR1) to save the buffered audio to a new WAV file in the
output directory. Recording continues after each freeze. Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, _ := cmd.Flags().GetInt("seconds")
		if seconds == 0 {
			seconds = cfg.Recording.DurationSeconds
		}
		freezeOnStop, _ := cmd.Flags().GetBool("freeze-on-stop")
		if device, _ := cmd.Flags().GetString("device"); device != "" {
			cfg.Audio.Device = device
		}

		store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)
		stopped := make(chan error, 1)
		session := service.New(cfg, newBackend(cfg), store,
			service.WithStopHandler(func(err error) { stopped <- err }))

		if err := session.Start(seconds); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Recording - press Enter to save the last seconds, Ctrl+C to stop",
			"seconds", seconds, "output", store.Dir())

		freezeChan := make(chan os.Signal, 1)
		if sigs := freezeSignals(); len(sigs) > 0 {
			signal.Notify(freezeChan, sigs...)
		}
		stopChan := make(chan os.Signal, 1)
		signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(freezeChan)
		defer signal.Stop(stopChan)

		enterChan := make(chan struct{})
		done := make(chan struct{})
		defer close(done)
		go watchEnter(os.Stdin, enterChan, done)

		for {
			select {
			case <-freezeChan:
				freezeNow(session)
			case <-enterChan:
				freezeNow(session)
			case sig := <-stopChan:
				slog.Info("Stopping recording...", "signal", sig)
				if freezeOnStop {
					freezeNow(session)
				}
				if err := session.Stop(); err != nil && !errors.Is(err, service.ErrNotRecording) {
					return fmt.Errorf("failed to stop recording: %w", err)
				}
				return nil
			case err := <-stopped:
				// Audio captured before the failure can still be saved
				if freezeOnStop {
					freezeNow(session)
				}
				if stopErr := session.Stop(); stopErr != nil && !errors.Is(stopErr, service.ErrNotRecording) {
					return fmt.Errorf("recording stopped: %w", errors.Join(err, stopErr))
				}
				return fmt.Errorf("recording stopped: %w", err)
			}
		}
	},
}

// freezeNow saves the buffer and reports the result; failures don't end the session.
func freezeNow(session *service.Session) {
	path, err := session.FreezeToFile()
	if err != nil {
		slog.Error("Freeze failed", "error", err)
		return
	}
	fmt.Printf("Saved %s\n", path)
}

// watchEnter signals on ch for every line read from r until done is closed.
func watchEnter(r io.Reader, ch chan<- struct{}, done <-chan struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case ch <- struct{}{}:
		case <-done:
			return
		}
	}
}

func init() {
	recordCmd.Flags().IntP("seconds", "s", 0, "seconds of audio to keep (default from config)")
	recordCmd.Flags().Bool("freeze-on-stop", false, "save the buffer once more when stopping")
	recordCmd.Flags().StringP("device", "d", "", "input device name (overrides config)")
}
