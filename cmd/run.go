package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/callbridge/callcapture/internal/audio"
	"github.com/callbridge/callcapture/internal/monitor"
	"github.com/callbridge/callcapture/internal/obs"
	"github.com/callbridge/callcapture/internal/server"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor softphone calls and drive OBS recording",
	Long: `Run the monitor loop as a long-lived background process. Each poll cycle
checks whether a configured softphone process holds an active microphone
capture session, debounces the signal, and drives OBS over obs-websocket so
that recording state always matches the call state.

The process exits on SIGINT/SIGTERM; if a call is still active it stops the
recording before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The WASAPI session source lives in a single-threaded COM apartment,
		// so the polling loop must stay on this OS thread.
		runtime.LockOSThread()

		source, err := audio.NewSystemSource()
		if err != nil {
			return fmt.Errorf("failed to initialize audio session source: %w", err)
		}
		defer source.Close()

		observer := audio.NewObserver(source, cfg.Monitor.ProcessNames)
		client := obs.NewClient(cfg.OBS.Endpoint(), cfg.OBS.Password, cfg.OBS.CallTimeout)
		controller := monitor.NewController(cfg, client)
		mon := monitor.New(cfg, observer, controller)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Server.StatusAddr != "" {
			statusSrv := server.New(cfg.Server.StatusAddr, controller)
			go func() {
				if err := statusSrv.Start(); err != nil {
					slog.Error("Status server stopped", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = statusSrv.Shutdown(shutdownCtx)
			}()
		}

		slog.Info("Callcapture monitor starting",
			"obs_endpoint", cfg.OBS.Endpoint(),
			"scene", cfg.OBS.Scene,
			"input", cfg.OBS.InputName)

		return mon.Run(ctx)
	},
}
