package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/posync/internal/output"
	"github.com/marcus/posync/internal/syncer"
	"github.com/spf13/cobra"
)

type sessionJSON struct {
	Name        string   `json:"name"`
	Trigger     string   `json:"trigger"`
	Succeeded   []string `json:"succeeded"`
	Retryable   []string `json:"retryable"`
	Terminal    []string `json:"terminal"`
	Deferred    []string `json:"deferred"`
	WentOffline bool     `json:"went_offline"`
}

func toSessionJSON(s *syncer.SyncSession) sessionJSON {
	return sessionJSON{
		Name:        s.Name,
		Trigger:     string(s.Trigger),
		Succeeded:   s.Succeeded,
		Retryable:   s.Retryable,
		Terminal:    s.Terminal,
		Deferred:    s.Deferred,
		WentOffline: s.WentOffline,
	}
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Send every queued operation to the backend now",
	Long:    `Drains the sales and inventory queues, ignoring retry backoff. Operations the backend rejects are kept for review under 'posync pending'.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if offlineMode {
			err := errors.New("cannot sync with --offline")
			output.Error("%v", err)
			return err
		}

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		report, err := e.SyncAll(cmd.Context())
		if jsonOutput {
			var out []sessionJSON
			for _, s := range report.Sessions() {
				out = append(out, toSessionJSON(s))
			}
			if jerr := output.JSON(out); jerr != nil {
				return jerr
			}
			return err
		}

		var rejected int
		for _, s := range report.Sessions() {
			fmt.Println(output.FormatSession(s))
			rejected += len(s.Terminal)
		}
		if err != nil {
			output.Error("sync failed: %v", err)
			return err
		}
		if rejected > 0 {
			output.Warning("%d operation(s) rejected, see 'posync pending list --attention'", rejected)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
