package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/posync/internal/output"
	"github.com/marcus/posync/pkg/dashboard"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"monitor"},
	Short:   "Live view of connectivity, queue and last sync",
	Long: `Launch a live-updating TUI showing:
- Connectivity to the backend
- Queued sales and inventory lines
- The last drain of each queue
- Cached collections
- Operations the backend rejected

While it runs the backend is probed and the queues are drained
automatically, like 'posync watch'.

Key bindings:
  s  Sync now
  r  Refresh the catalog
  q  Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		if !offlineMode {
			e.WatchConnectivity(settings.ProbeInterval)
			e.StartAutoSync(settings.AutoSyncInterval)
		}

		model := dashboard.NewModel(e, interval, version)
		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
}
