package cmd

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/internal/id"
	"github.com/rustyeddy/challenger/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Create and list challenge accounts",
	Long: `Manage challenge accounts in the configured store.

Examples:
  challenger accounts create --balance 100000 --daily 5 --overall 10
  challenger accounts list --status FAILED`,
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an ACTIVE challenge account",
	Args:  cobra.NoArgs,
	RunE:  runAccountsCreate,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var (
	acctID       string
	acctCurrency string
	acctBalance  float64
	acctRules    challenge.Rules
	acctStatus   string
)

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsCreateCmd)
	accountsCmd.AddCommand(accountsListCmd)

	f := accountsCreateCmd.Flags()
	f.StringVar(&acctID, "id", "", "account id (generated when empty)")
	f.StringVar(&acctCurrency, "currency", "USD", "account currency")
	f.Float64VarP(&acctBalance, "balance", "b", 100_000, "initial balance")
	f.Float64Var(&acctRules.DailyDrawdownPercent, "daily", 5, "daily drawdown limit in percent (0 disables)")
	f.Float64Var(&acctRules.OverallDrawdownPercent, "overall", 10, "overall drawdown limit in percent (0 disables)")
	f.Float64Var(&acctRules.ProfitTargetPercent, "target", 8, "profit target in percent")
	f.IntVar(&acctRules.MinTradingDays, "min-days", 4, "minimum trading days")

	accountsListCmd.Flags().StringVarP(&acctStatus, "status", "s", "", "only list accounts with this status")
}

func runAccountsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withStore(ctx, func(_ *config.Config, st store.Store) error {
		if acctID == "" {
			acctID = id.New()
		}
		a := challenge.NewAccount(acctID, acctCurrency, acctBalance, acctRules, time.Now().UTC())
		if err := a.Validate(); err != nil {
			return err
		}
		if err := st.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created account %s (%.2f %s)\n", a.ID, a.InitialBalance, a.Currency)
		return nil
	})
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var status challenge.Status
	if acctStatus != "" {
		var err error
		if status, err = challenge.ParseStatus(acctStatus); err != nil {
			return err
		}
	}

	return withStore(ctx, func(_ *config.Config, st store.Store) error {
		accounts, err := st.ListAccounts(ctx, status)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Status", "Currency", "Balance", "Day Start", "Peak", "Day"})
		for _, a := range accounts {
			table.Append([]string{
				a.ID,
				string(a.Status),
				a.Currency,
				fmt.Sprintf("%.2f", a.Balance),
				fmt.Sprintf("%.2f", a.TodayStartEquity),
				fmt.Sprintf("%.2f", a.MaxEquityToDate),
				a.BaselineDay,
			})
		}
		table.Render()
		return nil
	})
}
