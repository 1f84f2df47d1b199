package cmd

import (
	"fmt"

	"github.com/marcus/posync/internal/cache"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/output"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:     "catalog <collection>",
	Aliases: []string{"ls"},
	Short:   "List a cached collection without touching the network",
	Long: `Prints the local copy of a collection. Nothing is downloaded; use
'posync refresh' to update the cache.

Collections: products, clients, categories, sessions/<id>.`,
	GroupID: "catalog",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := models.ParseCollectionKey(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		snap, err := e.GetCached(cmd.Context(), key)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if snap.Empty() && !jsonOutput {
			output.Warning("%s is not cached yet, run 'posync refresh %s'", key, args[0])
			return nil
		}

		switch key.Entity {
		case models.EntityProducts:
			return printCollection(snap, output.FormatProduct)
		case models.EntityClients:
			return printCollection(snap, output.FormatClient)
		case models.EntityCategories:
			return printCollection(snap, output.FormatCategory)
		case models.EntityInventorySessions:
			return printInventorySession(snap)
		}
		return nil
	},
}

func printCollection[T any](snap models.Snapshot, format func(T) string) error {
	items, err := cache.Decode[T](snap)
	if err != nil {
		return err
	}
	if jsonOutput {
		return output.JSON(items)
	}
	fmt.Printf("%s  %d records, cached %s\n\n", snap.Key, len(items), output.FormatTimeAgo(snap.RefreshedAt))
	for _, item := range items {
		fmt.Println(format(item))
	}
	return nil
}

func printInventorySession(snap models.Snapshot) error {
	sessions, err := cache.Decode[models.InventorySession](snap)
	if err != nil {
		return err
	}
	if jsonOutput {
		return output.JSON(sessions)
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s [%s], cached %s\n", s.ID, s.Name, s.Status, output.FormatTimeAgo(snap.RefreshedAt))
		for _, item := range s.Items {
			fmt.Printf("  #%-4d %-12s %6d  %s\n", item.Sequence, item.ProductID, item.Quantity, item.CountedAt.Local().Format("15:04:05"))
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
