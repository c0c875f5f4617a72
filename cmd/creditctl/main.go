// creditctl is the operator CLI for credit accounts: inspecting balances,
// granting or correcting credits, and reading the ledger. Every change it
// makes goes through the same credit service as the pipeline, so operator
// adjustments appear in the ledger like any other movement.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"atelier/internal/adapter/repo"
	"atelier/internal/credit"
	"atelier/internal/infra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "creditctl",
	Short: "Operate on credit accounts",
	Long:  "Inspect balances, grant or correct credits, and read the ledger.",
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(ledgerCmd)
	grantCmd.Flags().String("note", "", "Reason recorded on the ledger entry")
	ledgerCmd.Flags().Int("limit", 20, "Maximum entries to print")
}

func newService(ctx context.Context) (*credit.Service, func(), error) {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv, "creditctl")
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	runner := infra.NewSQLRunner(pool, logger)
	return credit.NewService(repo.NewCreditStore(runner), logger), pool.Close, nil
}

var balanceCmd = &cobra.Command{
	Use:   "balance OWNER_ID",
	Short: "Print an account's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()
		balance, err := svc.Balance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\n", args[0], balance)
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant OWNER_ID AMOUNT",
	Short: "Grant (positive) or deduct (negative) credits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount must be an integer: %w", err)
		}
		note, _ := cmd.Flags().GetString("note")
		svc, closeDB, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()
		entry, err := svc.Adjust(cmd.Context(), args[0], delta, note)
		if err != nil {
			return err
		}
		balance, err := svc.Balance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("entry %s applied, balance now %d\n", entry.ID, balance)
		return nil
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger OWNER_ID",
	Short: "Print an account's recent credit movements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		svc, closeDB, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()
		entries, err := svc.Ledger(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%-10s\t%6d\t%s/%s\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Kind, e.Amount, e.Ref.Kind, e.Ref.ID, e.Note)
		}
		return nil
	},
}
