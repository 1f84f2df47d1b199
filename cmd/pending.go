package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// kindFlag is a repeatable --kind flag. It accepts the stored kind names
// and the short forms "sale" and "count".
type kindFlag struct {
	kinds []models.OperationKind
}

func (f *kindFlag) String() string {
	names := make([]string, len(f.kinds))
	for i, k := range f.kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}

func (f *kindFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		var kind models.OperationKind
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "sale", "sales":
			kind = models.KindSale
		case "count", "counts", "inventory", "inventory_count_line":
			kind = models.KindInventoryCountLine
		default:
			return fmt.Errorf("unknown kind %q (want sale or count)", part)
		}
		if !slices.Contains(f.kinds, kind) {
			f.kinds = append(f.kinds, kind)
		}
	}
	return nil
}

func (f *kindFlag) Type() string { return "kind" }

var _ pflag.Value = (*kindFlag)(nil)

var pendingKinds kindFlag

var pendingCmd = &cobra.Command{
	Use:     "pending",
	Aliases: []string{"queue"},
	Short:   "Inspect and settle queued operations",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pendingListCmd.RunE(cmd, args)
	},
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operations the backend has not acknowledged",
	RunE: func(cmd *cobra.Command, args []string) error {
		attention, _ := cmd.Flags().GetBool("attention")
		report, _ := cmd.Flags().GetBool("report")

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		var ops []models.PendingOperation
		if attention || report {
			ops, err = e.NeedsAttention(ctx)
		} else {
			ops, err = e.ListPending(ctx, pendingKinds.kinds...)
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if attention || report {
			ops = slices.DeleteFunc(ops, func(op models.PendingOperation) bool {
				return len(pendingKinds.kinds) > 0 && !slices.Contains(pendingKinds.kinds, op.Kind)
			})
		}

		if jsonOutput {
			return output.JSON(ops)
		}
		if report {
			md := output.AttentionReport(ops)
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				fmt.Print(md)
				return nil
			}
			rendered, err := output.RenderMarkdown(md)
			if err != nil {
				fmt.Print(md)
				return nil
			}
			fmt.Print(rendered)
			return nil
		}

		if len(ops) == 0 {
			output.Success("Nothing pending")
			return nil
		}
		now := time.Now()
		for _, op := range ops {
			fmt.Println(output.FormatOperationShort(op, now))
		}
		return nil
	},
}

var pendingShowCmd = &cobra.Command{
	Use:   "show <token>",
	Short: "Show one queued operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		op, err := resolveToken(cmd.Context(), e, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOutput {
			return output.JSON(op)
		}
		fmt.Print(output.FormatOperationLong(op))
		return nil
	},
}

var pendingRetryCmd = &cobra.Command{
	Use:   "retry <token>",
	Short: "Put a rejected operation back in the queue",
	Long:  `Moves an operation that needs attention back to QUEUED with a fresh attempt count. Its token is kept, so the backend still applies it at most once.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		op, err := resolveToken(ctx, e, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := e.Requeue(ctx, op.Token); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Requeued %s", output.ShortToken(op.Token))
		return nil
	},
}

var pendingDiscardCmd = &cobra.Command{
	Use:   "discard <token>",
	Short: "Delete a queued operation without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		op, err := resolveToken(ctx, e, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				err := errors.New("refusing to discard without --yes when stdin is not a terminal")
				output.Error("%v", err)
				return err
			}
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Discard %s?", output.ShortToken(op.Token))).
					Description(output.DescribePayload(op) + "\nIt will never be sent to the backend.").
					Affirmative("Discard").
					Negative("Keep").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				output.Info("Kept %s", output.ShortToken(op.Token))
				return nil
			}
		}

		if err := e.Discard(ctx, op.Token); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Discarded %s", output.ShortToken(op.Token))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.AddCommand(pendingListCmd, pendingShowCmd, pendingRetryCmd, pendingDiscardCmd)

	pendingCmd.PersistentFlags().Var(&pendingKinds, "kind", "Only operations of this kind: sale or count (repeatable)")
	pendingCmd.Flags().Bool("attention", false, "Only operations the backend rejected")
	pendingCmd.Flags().Bool("report", false, "Render the operations needing attention as a report")
	pendingListCmd.Flags().Bool("attention", false, "Only operations the backend rejected")
	pendingListCmd.Flags().Bool("report", false, "Render the operations needing attention as a report")
	pendingDiscardCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}
