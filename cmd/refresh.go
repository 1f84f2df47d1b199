package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/output"
	"github.com/spf13/cobra"
)

// defaultRefresh is what 'posync refresh' fetches without arguments
var defaultRefresh = []models.CollectionKey{models.ProductsKey, models.ClientsKey, models.CategoriesKey}

// parseCollections parses collection arguments, falling back to the
// global catalogs
func parseCollections(args []string) ([]models.CollectionKey, error) {
	if len(args) == 0 {
		return defaultRefresh, nil
	}
	keys := make([]models.CollectionKey, 0, len(args))
	for _, arg := range args {
		k, err := models.ParseCollectionKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [collection...]",
	Short: "Download collections from the backend into the local cache",
	Long: `Replaces the cached copy of each collection with the server's. A failed
download leaves the cached copy untouched.

Collections: products, clients, categories, sessions/<id>.
Without arguments products, clients and categories are refreshed.`,
	GroupID: "catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := parseCollections(args)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if offlineMode {
			err := errors.New("cannot refresh with --offline")
			output.Error("%v", err)
			return err
		}

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		var errs []error
		for _, key := range keys {
			res, err := e.Refresh(cmd.Context(), key)
			if err != nil {
				output.Warning("%s: %v (cached copy kept)", key, err)
				errs = append(errs, err)
				continue
			}
			note := "unchanged"
			if res.Changed {
				note = "updated"
			}
			output.Success("%s: %d records %s", key, len(res.Snapshot.Records), note)
		}
		if len(errs) == len(keys) {
			return fmt.Errorf("refresh failed: %w", errors.Join(errs...))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
