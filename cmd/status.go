package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/output"
	"github.com/spf13/cobra"
)

type statusJSON struct {
	Online      bool               `json:"online"`
	ServerURL   string             `json:"server_url"`
	TerminalID  string             `json:"terminal_id"`
	Pending     map[string]int     `json:"pending"`
	Attention   int                `json:"needs_attention"`
	Collections []collectionStatus `json:"collections"`
}

type collectionStatus struct {
	Key         string    `json:"key"`
	Records     int       `json:"records"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show connectivity, queue and cache state",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		if !offlineMode {
			probeCtx, cancel := context.WithTimeout(ctx, settings.RequestTimeout)
			_ = e.Probe(probeCtx)
			cancel()
		}

		st := statusJSON{
			Online:     e.IsOnline(),
			ServerURL:  settings.ServerURL,
			TerminalID: settings.TerminalID,
			Pending:    make(map[string]int),
		}
		for _, kind := range models.AllKinds {
			n, err := e.CountPending(ctx, kind)
			if err != nil {
				return err
			}
			st.Pending[string(kind)] = n
		}
		attention, err := e.NeedsAttention(ctx)
		if err != nil {
			return err
		}
		st.Attention = len(attention)

		infos, err := e.ListCollections(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			st.Collections = append(st.Collections, collectionStatus{
				Key:         info.Key.String(),
				Records:     info.Records,
				RefreshedAt: info.RefreshedAt,
			})
		}

		if jsonOutput {
			return output.JSON(st)
		}

		fmt.Printf("%s  %s\n", output.ConnectivityBadge(st.Online), settings.ServerURL)
		fmt.Printf("terminal %s\n", settings.TerminalID)

		fmt.Print(output.SectionHeader("Queue"))
		fmt.Printf("  sales            %d\n", st.Pending[string(models.KindSale)])
		fmt.Printf("  inventory lines  %d\n", st.Pending[string(models.KindInventoryCountLine)])
		if st.Attention > 0 {
			output.Warning("%d operation(s) need attention, see 'posync pending list --attention'", st.Attention)
		}

		fmt.Print(output.SectionHeader("Cache"))
		if len(st.Collections) == 0 {
			fmt.Println("  nothing cached yet, run 'posync refresh'")
		}
		for _, c := range st.Collections {
			fmt.Printf("  %-28s %4d records  %s\n", c.Key, c.Records, output.FormatTimeAgo(c.RefreshedAt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
