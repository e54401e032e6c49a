package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/model-gate/internal/artifact"
	"github.com/danielpatrickdp/model-gate/internal/inference"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the deployed model and its recorded metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store := artifact.NewStore(cfg.Artifacts.CandidateDir, cfg.Artifacts.ProductionDir)

			release, err := store.CurrentRelease()
			if errors.Is(err, artifact.ErrNoProduction) {
				cmd.Printf("no deployed model under %s\n", store.ProductionDir())
				return nil
			}
			if err != nil {
				return err
			}

			id := release.ID
			if id == "" {
				id = "(flat layout)"
			}
			cmd.Printf("release:   %s\n", id)
			cmd.Printf("predictor: %s\n", release.PredictorPath)
			cmd.Printf("accuracy:  %.4f\n", release.Metrics.Accuracy)
			cmd.Printf("f1_macro:  %.4f\n", release.Metrics.F1Macro)

			p, err := inference.Parse(release.Predictor)
			if err != nil {
				cmd.Printf("loadable:  no (%v)\n", err)
				return nil
			}
			_, proba := p.(inference.Probabilistic)
			cmd.Printf("loadable:  yes (%d features, probabilities: %t)\n", p.NumFeatures(), proba)
			return nil
		},
	}
}
