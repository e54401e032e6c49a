package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/model-gate/internal/artifact"
	"github.com/danielpatrickdp/model-gate/internal/gate"
	"github.com/danielpatrickdp/model-gate/internal/ledger"
	"github.com/danielpatrickdp/model-gate/internal/logging"
)

func newPromoteCommand(root *rootOptions) *cobra.Command {
	var (
		prodAccuracy string
		strict       bool
		noVerify     bool
	)

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Deploy the candidate if it is at least as accurate as production",
		Long: "promote exits 0 when the candidate was deployed, 2 when it was rejected\n" +
			"and 1 on any fatal error. Production is untouched unless it exits 0.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return &exitError{code: gate.ExitFatal, err: err}
			}
			if cmd.Flags().Changed("prod-accuracy") {
				cfg.Gate.BaselineOverride = prodAccuracy
			}
			if cmd.Flags().Changed("strict-baseline") {
				cfg.Gate.StrictBaseline = strict
			}
			if cmd.Flags().Changed("no-verify") {
				cfg.Gate.VerifyCandidate = !noVerify
			}

			logger := logging.NewWithOutput("promote", cfg.Log.Level, cmd.ErrOrStderr())
			store := artifact.NewStore(cfg.Artifacts.CandidateDir, cfg.Artifacts.ProductionDir)

			opts := []gate.Option{gate.WithLogger(logger)}
			if led := openLedger(cfg.Ledger.Path, logger); led != nil {
				defer led.Close()
				opts = append(opts, gate.WithRecorder(led))
			}

			g := gate.NewGate(store, gate.GateConfig{
				BaselineOverride: cfg.Gate.BaselineOverride,
				StrictBaseline:   cfg.Gate.StrictBaseline,
				VerifyCandidate:  cfg.Gate.VerifyCandidate,
			}, opts...)

			res, err := g.Run()
			if err != nil {
				return &exitError{code: res.ExitCode, err: fmt.Errorf("promote: %w", err)}
			}

			if res.Decision.Accepted() {
				cmd.Printf("deployed release %s (%s)\n", res.ReleaseID, res.Decision.Reason)
			} else {
				cmd.Printf("rejected (%s)\n", res.Decision.Reason)
			}
			if res.ExitCode != gate.ExitDeployed {
				return &exitError{code: res.ExitCode}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prodAccuracy, "prod-accuracy", "", "baseline accuracy override (same as PROD_ACCURACY)")
	cmd.Flags().BoolVar(&strict, "strict-baseline", false, "fail instead of using 0.0 when production metrics are unreadable")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip loading the candidate predictor before publish")
	return cmd
}

// openLedger returns nil when the ledger is disabled or cannot be opened. The
// decision does not depend on it.
func openLedger(path string, logger *log.Logger) *ledger.Store {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warnf("ledger disabled: %v", err)
			return nil
		}
	}
	led, err := ledger.NewStore(path)
	if err != nil {
		logger.Warnf("ledger disabled: %v", err)
		return nil
	}
	return led
}
