package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/model-gate/internal/artifact"
	"github.com/danielpatrickdp/model-gate/internal/config"
	"github.com/danielpatrickdp/model-gate/internal/inference"
	"github.com/danielpatrickdp/model-gate/internal/logging"
	"github.com/danielpatrickdp/model-gate/internal/server"
	"github.com/danielpatrickdp/model-gate/internal/telemetry"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions from the deployed model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Serve.Port = port
			}

			logger := logging.NewWithOutput("serve", cfg.Log.Level, cmd.ErrOrStderr())
			store := artifact.NewStore(cfg.Artifacts.CandidateDir, cfg.Artifacts.ProductionDir)

			path, err := resolveModelPath(cfg.Serve, store, logger)
			if err != nil {
				return err
			}
			engine, err := inference.Load(path)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}

			srv, err := server.New(server.Options{
				Engine:      engine,
				Metrics:     telemetry.New(),
				InputDim:    cfg.Serve.InputDim,
				Address:     cfg.Serve.Address(),
				GRPCAddress: cfg.Serve.GRPCAddress,
				Logger:      logger,
			})
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("modelgate serving %s on %s\n", path, cfg.Serve.Address())
			if cfg.Serve.GRPCAddress != "" {
				cmd.Printf("grpc health on %s\n", cfg.Serve.GRPCAddress)
			}

			if err := srv.Run(ctx); err != nil {
				return err
			}

			cmd.Println("modelgate server exited")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (same as PORT)")
	return cmd
}

// resolveModelPath picks the predictor to serve: an explicit path, else the
// live production release. When the chosen file does not exist and fallback is
// enabled, the candidate predictor is served instead.
func resolveModelPath(cfg config.ServeConfig, store *artifact.Store, logger *log.Logger) (string, error) {
	path := cfg.ModelPath
	if path == "" {
		p, err := store.ProductionPredictorPath()
		if err != nil && !errors.Is(err, artifact.ErrNoProduction) {
			return "", fmt.Errorf("resolve production predictor: %w", err)
		}
		path = p
	}

	if path != "" {
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat model %s: %w", path, err)
		}
	}

	missing := path
	if missing == "" {
		missing = store.ProductionDir()
	}
	if !cfg.CandidateFallback {
		return "", fmt.Errorf("no deployed model at %s", missing)
	}
	candidate := store.CandidatePredictorPath()
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("no deployed model at %s and no candidate at %s", missing, candidate)
	}
	logger.Warnf("no deployed model at %s, serving candidate %s", missing, candidate)
	return candidate, nil
}
