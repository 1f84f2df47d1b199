package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/marcus/posync/internal/config"
	"github.com/spf13/cobra"
)

var (
	version string

	// settings is resolved once per invocation by the root pre-run hook
	settings *config.Settings

	configPath  string
	offlineMode bool
	jsonOutput  bool
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "posync",
	Short: "Offline-first sync engine for a POS terminal",
	Long: `posync - keeps a point-of-sale terminal working without a network.

Sales and inventory counts are sent to the backend when it is reachable and
queued locally when it is not. Queued operations are replayed under their
original token, so the backend applies each one exactly once.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv(config.EnvPath, configPath); err != nil {
				return err
			}
		}
		s, err := config.Resolve()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		settings = s
		setupLogging(s)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler. Logs go to stderr so
// --json output on stdout stays parseable.
func setupLogging(s *config.Settings) {
	opts := &slog.HandlerOptions{Level: s.LogLevel}
	var handler slog.Handler
	if strings.ToLower(s.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "write", Title: "Terminal Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "catalog", Title: "Catalog Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $POSYNC_CONFIG or ~/.config/posync/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&offlineMode, "offline", false, "Do not contact the backend; writes go straight to the queue")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable output")
}
