package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/posync/internal/config"
	"github.com/marcus/posync/internal/output"
	"github.com/spf13/cobra"
)

// maskSecret hides all but the last four characters
func maskSecret(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage posync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Set %s", args[0])
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, err := config.Lookup(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting with where its value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		type entry struct {
			Key    string `json:"key"`
			Value  string `json:"value"`
			Source string `json:"source"`
		}
		var entries []entry
		for _, key := range config.Keys() {
			v, src, err := config.Lookup(key)
			if err != nil {
				return err
			}
			if key == config.KeyAPIKey {
				v = maskSecret(v)
			}
			entries = append(entries, entry{Key: key, Value: v, Source: string(src)})
		}

		if jsonOutput {
			return output.JSON(entries)
		}
		if path, err := config.Path(); err == nil {
			fmt.Printf("# %s\n", path)
		}
		for _, e := range entries {
			fmt.Printf("%-20s %-32s (%s)\n", e.Key, e.Value, e.Source)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
}
