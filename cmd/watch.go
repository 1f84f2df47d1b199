package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/posync/internal/offline"
	"github.com/marcus/posync/internal/output"
	"github.com/marcus/posync/internal/syncer"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running and sync whenever the backend is reachable",
	Long: `Probes the backend every probe_interval and drains the queues on every
reconnect and every auto_sync_interval while online. Stops on Ctrl-C.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if offlineMode {
			err := errors.New("cannot watch with --offline")
			output.Error("%v", err)
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = settings.AutoSyncInterval
		}

		e, err := openEngine(func(o *offline.Options) {
			o.OnSession = func(s *syncer.SyncSession) {
				if len(s.Attempted) == 0 && len(s.Deferred) == 0 {
					return
				}
				fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), output.FormatSession(s))
			}
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		unsubscribe := e.OnConnectivityChange(func(online bool) {
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), output.ConnectivityBadge(online))
		})
		defer unsubscribe()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e.WatchConnectivity(settings.ProbeInterval)
		e.StartAutoSync(interval)
		output.Info("Watching %s (probe every %s, sync every %s). Ctrl-C to stop.",
			settings.ServerURL, settings.ProbeInterval, interval)

		<-ctx.Done()
		e.StopAutoSync()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", 0, "Auto-sync interval (default auto_sync_interval)")
}
