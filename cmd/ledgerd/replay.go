package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atmx/position-engine/internal/model"
	"github.com/atmx/position-engine/internal/stats"
	"github.com/atmx/position-engine/internal/store"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Recompute trading statistics from a SQLite journal",
	Long: `Replay reads the transactions recorded in a SQLite journal and prints the
trading statistics per customer, followed by the system-wide totals.

Examples:
  ledgerd replay --sqlite data/ledger.sqlite
  ledgerd replay --sqlite data/ledger.sqlite --customer c-42 -o yaml`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

var (
	replaySQLite   string
	replayCustomer string
	replayOutput   string
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replaySQLite, "sqlite", "", "path to SQLite journal (required)")
	replayCmd.Flags().StringVar(&replayCustomer, "customer", "", "only this customer (default all)")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "json", "output format: json or yaml")
	replayCmd.MarkFlagRequired("sqlite")
}

// replayReport is one customer's statistics. The system-wide row has
// Customer "*".
type replayReport struct {
	Customer     string           `json:"customer" yaml:"customer"`
	Transactions int              `json:"transactions" yaml:"transactions"`
	Statistics   stats.Statistics `json:"statistics" yaml:"statistics"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayOutput != "json" && replayOutput != "yaml" {
		return fmt.Errorf("unknown output format %q (want json or yaml)", replayOutput)
	}
	reports, err := replay(cmd.Context(), replaySQLite, replayCustomer)
	if err != nil {
		return err
	}
	return writeReports(cmd.OutOrStdout(), replayOutput, reports)
}

// replay computes statistics from the journal at path, for one customer or,
// when customer is empty, for every customer plus the system-wide row.
func replay(ctx context.Context, path, customer string) ([]replayReport, error) {
	j, err := store.NewSQLiteJournal(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	customers := []string{customer}
	if customer == "" {
		if customers, err = j.Customers(ctx); err != nil {
			return nil, fmt.Errorf("list customers: %w", err)
		}
	}

	reports := make([]replayReport, 0, len(customers)+1)
	var all []model.Transaction
	for _, c := range customers {
		txs, err := j.Transactions(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", c, err)
		}
		all = append(all, txs...)
		reports = append(reports, replayReport{Customer: c, Transactions: len(txs), Statistics: stats.Compute(txs)})
	}
	if customer == "" {
		reports = append(reports, replayReport{Customer: "*", Transactions: len(all), Statistics: stats.Compute(all)})
	}
	return reports, nil
}

func writeReports(w io.Writer, format string, reports []replayReport) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
