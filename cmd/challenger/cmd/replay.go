package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/internal/replay"
	"github.com/rustyeddy/challenger/store"
)

var replayCmd = &cobra.Command{
	Use:   "replay <ticks.csv>",
	Short: "Replay a tick CSV through the engine against the configured store",
	Long: `Replay feeds ticks from a CSV file through the engine one at a time.

CSV columns:
  time,symbol,bid,ask[,event,arg1,arg2,arg3,arg4]

time is RFC3339 or Unix milliseconds. Optional events run after the tick:
  OPEN   account side volume [position-id]
  CLOSE  position-id

Example:
  challenger replay data/eurusd.csv -c challenger.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withStore(ctx, func(cfg *config.Config, st store.Store) error {
		log := newLogger(cfg)
		eng, _, err := buildEngine(cfg, st, log)
		if err != nil {
			return err
		}
		if _, err := eng.Bootstrap(ctx); err != nil {
			return err
		}

		sum, err := replay.CSV(ctx, args[0], eng, replay.Options{
			Positions:   st,
			Instruments: eng.Instruments(),
			Prices:      eng.Ticks().Get,
			Currency:    accountCurrency(ctx, st),
		})
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Replayed %d ticks, %d evaluations, %d opened, %d closed\n",
			sum.Ticks, sum.Evaluations, sum.Opened, sum.Closed)
		if len(sum.Breaches) == 0 {
			fmt.Fprintln(out, "No breaches.")
			return nil
		}

		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Account", "Violation", "Status", "Equity", "Daily DD %", "Overall DD %", "Closed"})
		for _, b := range sum.Breaches {
			vt := ""
			if b.Violation != nil {
				vt = string(b.Violation.Type)
			}
			table.Append([]string{
				b.AccountID,
				vt,
				string(b.NewStatus),
				fmt.Sprintf("%.2f", b.Equity),
				fmt.Sprintf("%.2f", b.DailyDrawdownPercent),
				fmt.Sprintf("%.2f", b.OverallDrawdownPercent),
				strconv.Itoa(b.PositionsClosed),
			})
		}
		table.Render()
		return nil
	})
}

func accountCurrency(ctx context.Context, st store.AccountStore) func(string) string {
	return func(accountID string) string {
		a, err := st.GetAccount(ctx, accountID)
		if err != nil {
			return ""
		}
		return a.Currency
	}
}
