package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/model-gate/internal/config"
)

const configFileEnv = "MODELGATE_CONFIG_FILE"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "modelgate",
		Short: "Promote trained models past an accuracy gate and serve them",
		Long: "modelgate compares a candidate model against the deployed one, publishes it\n" +
			"atomically when it is at least as accurate, and serves predictions from the\n" +
			"currently deployed release.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (default $"+configFileEnv+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, error or off")

	cmd.AddCommand(newPromoteCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	return cmd
}

// load reads the config file named by --config or the environment, then
// applies flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(configFileEnv)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}
