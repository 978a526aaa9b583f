package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/store"
)

var violationsCmd = &cobra.Command{
	Use:   "violations <account-id>",
	Short: "List the violations recorded for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runViolations,
}

func init() {
	rootCmd.AddCommand(violationsCmd)
}

func runViolations(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withStore(ctx, func(_ *config.Config, st store.Store) error {
		vs, err := st.ListViolations(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list violations: %w", err)
		}
		if len(vs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No violations for %s\n", args[0])
			return nil
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Type", "Day", "Created", "Equity", "Daily DD %", "Overall DD %", "Unclosed"})
		for _, v := range vs {
			table.Append([]string{
				v.ID,
				string(v.Type),
				v.TradingDay,
				v.CreatedAt.Format(time.RFC3339),
				fmt.Sprintf("%.2f", v.Metrics.Equity),
				fmt.Sprintf("%.2f", v.Metrics.DailyDrawdownPercent),
				fmt.Sprintf("%.2f", v.Metrics.OverallDrawdownPercent),
				strings.Join(v.UnclosedPositions, ","),
			})
		}
		table.Render()
		return nil
	})
}
