package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/model-gate/internal/ledger"
)

// #region history

type historyRow struct {
	ID                string   `json:"id" yaml:"id"`
	CandidateAccuracy float64  `json:"candidate_accuracy" yaml:"candidate_accuracy"`
	BaselineAccuracy  *float64 `json:"baseline_accuracy" yaml:"baseline_accuracy"`
	BaselineSource    string   `json:"baseline_source" yaml:"baseline_source"`
	Outcome           string   `json:"outcome" yaml:"outcome"`
	Reason            string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	ReleaseID         string   `json:"release_id,omitempty" yaml:"release_id,omitempty"`
	CreatedAt         string   `json:"created_at" yaml:"created_at"`
}

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		last   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded promotion decisions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Ledger.Path == "" {
				return fmt.Errorf("ledger.path is not configured")
			}
			if _, err := os.Stat(cfg.Ledger.Path); err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}

			store, err := ledger.NewStore(cfg.Ledger.Path)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			entries, err := store.List(last)
			if err != nil {
				return err
			}

			// store returns newest first, reverse for chronological
			rows := make([]historyRow, len(entries))
			for i, e := range entries {
				rows[len(entries)-1-i] = historyRow{
					ID:                e.ID,
					CandidateAccuracy: e.CandidateAccuracy,
					BaselineAccuracy:  e.BaselineAccuracy,
					BaselineSource:    e.BaselineSource,
					Outcome:           e.Outcome,
					Reason:            e.Reason,
					ReleaseID:         e.ReleaseID,
					CreatedAt:         e.CreatedAt.Format("2006-01-02T15:04:05Z"),
				}
			}

			return printRows(cmd.OutOrStdout(), rows, output)
		},
	}

	cmd.Flags().IntVar(&last, "last", 20, "show N most recent decisions")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "table, json or yaml")
	return cmd
}

func printRows(w io.Writer, rows []historyRow, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rows)
	case "table":
		return printHistoryTable(w, rows)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printHistoryTable(w io.Writer, rows []historyRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no promotions recorded")
		return err
	}

	fmt.Fprintf(w, "%-12s  %9s  %9s  %-21s  %-8s  %-12s  %s\n",
		"Decision", "Candidate", "Baseline", "Source", "Outcome", "Release", "Time")
	fmt.Fprintf(w, "%-12s+-%9s+-%9s+-%-21s+-%-8s+-%-12s+-%s\n",
		"------------", "---------", "---------", "---------------------", "--------", "------------", "--------------------")
	for _, r := range rows {
		baseline := "None"
		if r.BaselineAccuracy != nil {
			baseline = strconv.FormatFloat(*r.BaselineAccuracy, 'f', 4, 64)
		}
		release := "-"
		if r.ReleaseID != "" {
			release = shortID(r.ReleaseID)
		}
		fmt.Fprintf(w, "%-12s  %9.4f  %9s  %-21s  %-8s  %-12s  %s\n",
			shortID(r.ID), r.CandidateAccuracy, baseline, r.BaselineSource, r.Outcome, release, r.CreatedAt)
	}
	return nil
}

// #endregion history

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
