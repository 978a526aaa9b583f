package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/internal/id"
	"github.com/rustyeddy/challenger/store"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Record positions in the store",
}

var positionsOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Record an open position",
	Long: `Record a filled position directly in the store.

A running server only learns about positions through POST /positions/opened
or at its next start; use this command to seed a store before serve or
replay.`,
	Args: cobra.NoArgs,
	RunE: runPositionsOpen,
}

var (
	posID      string
	posAccount string
	posSymbol  string
	posSide    string
	posVolume  float64
	posPrice   float64
)

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.AddCommand(positionsOpenCmd)

	f := positionsOpenCmd.Flags()
	f.StringVar(&posID, "id", "", "position id (generated when empty)")
	f.StringVarP(&posAccount, "account", "a", "", "account id (required)")
	f.StringVarP(&posSymbol, "symbol", "s", "EUR_USD", "instrument symbol")
	f.StringVar(&posSide, "side", "BUY", "BUY or SELL")
	f.Float64VarP(&posVolume, "volume", "v", 1, "volume in lots or units")
	f.Float64VarP(&posPrice, "price", "p", 0, "open price (required)")
	_ = positionsOpenCmd.MarkFlagRequired("account")
	_ = positionsOpenCmd.MarkFlagRequired("price")
}

func runPositionsOpen(cmd *cobra.Command, args []string) error {
	side, err := challenge.ParseSide(posSide)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return withStore(ctx, func(cfg *config.Config, st store.Store) error {
		inst, err := cfg.InstrumentTable()
		if err != nil {
			return err
		}
		if _, ok := inst.Lookup(posSymbol); !ok {
			return fmt.Errorf("unknown instrument %s", posSymbol)
		}
		if posID == "" {
			posID = id.New()
		}
		p := challenge.Position{
			ID:        posID,
			AccountID: posAccount,
			Symbol:    posSymbol,
			Side:      side,
			Volume:    posVolume,
			OpenPrice: posPrice,
			OpenedAt:  time.Now().UTC(),
		}
		if err := st.OpenPosition(ctx, p); err != nil {
			return fmt.Errorf("open position: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Opened %s %s %.4f %s @ %.5f\n", p.ID, p.Side, p.Volume, p.Symbol, p.OpenPrice)
		return nil
	})
}
