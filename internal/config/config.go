package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/danielpatrickdp/model-gate/internal/logging"
)

// DefaultEnvPrefix namespaces every key: gate.strict_baseline is read from
// MODELGATE_GATE_STRICT_BASELINE.
const DefaultEnvPrefix = "MODELGATE"

// Config captures runtime configuration for the promote and serve commands.
type Config struct {
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Gate      GateConfig      `mapstructure:"gate"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Log       LogConfig       `mapstructure:"log"`
}

// ArtifactsConfig locates the candidate and production slots.
type ArtifactsConfig struct {
	CandidateDir  string `mapstructure:"candidate_dir"`
	ProductionDir string `mapstructure:"production_dir"`
}

// GateConfig controls the promotion decision.
type GateConfig struct {
	BaselineOverride string `mapstructure:"baseline_override"`
	StrictBaseline   bool   `mapstructure:"strict_baseline"`
	VerifyCandidate  bool   `mapstructure:"verify_candidate"`
}

// LedgerConfig points at the sqlite audit log. An empty path disables it.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// ServeConfig contains serving runtime options.
type ServeConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	GRPCAddress       string `mapstructure:"grpc_address"`
	ModelPath         string `mapstructure:"model_path"`
	CandidateFallback bool   `mapstructure:"candidate_fallback"`
	InputDim          int    `mapstructure:"input_dim"`
}

// Address is the HTTP listen address.
func (s ServeConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Options customises how configuration should be loaded.
type Options struct {
	Path      string
	EnvPrefix string
}

// Load parses configuration from YAML and environment variables.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path, EnvPrefix: DefaultEnvPrefix})
}

// LoadWithOptions provides additional control for tests.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}

	v := viper.New()
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("artifacts.candidate_dir", "artifacts")
	v.SetDefault("artifacts.production_dir", "deployed_model")
	v.SetDefault("gate.strict_baseline", false)
	v.SetDefault("gate.verify_candidate", true)
	v.SetDefault("ledger.path", "modelgate.db")
	v.SetDefault("serve.host", "0.0.0.0")
	v.SetDefault("serve.port", 5000)
	v.SetDefault("serve.candidate_fallback", true)
	v.SetDefault("serve.input_dim", 13)
	v.SetDefault("log.level", "info")

	envName := func(key string) string {
		return opts.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	}
	for _, binding := range []struct {
		key     string
		aliases []string
	}{
		{key: "artifacts.candidate_dir"},
		{key: "artifacts.production_dir"},
		{key: "gate.baseline_override", aliases: []string{"PROD_ACCURACY"}},
		{key: "gate.strict_baseline"},
		{key: "gate.verify_candidate"},
		{key: "ledger.path"},
		{key: "serve.host"},
		{key: "serve.port", aliases: []string{"PORT"}},
		{key: "serve.grpc_address"},
		{key: "serve.model_path", aliases: []string{"MODEL_PATH"}},
		{key: "serve.candidate_fallback"},
		{key: "serve.input_dim"},
		{key: "log.level"},
	} {
		if len(binding.aliases) == 0 {
			if err := v.BindEnv(binding.key); err != nil {
				return nil, fmt.Errorf("bind env %s: %w", binding.key, err)
			}
			continue
		}
		args := append([]string{binding.key, envName(binding.key)}, binding.aliases...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", binding.key, err)
		}
	}

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	normaliseConfig(&cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normaliseConfig(cfg *Config) {
	cfg.Artifacts.CandidateDir = strings.TrimSpace(cfg.Artifacts.CandidateDir)
	cfg.Artifacts.ProductionDir = strings.TrimSpace(cfg.Artifacts.ProductionDir)
	cfg.Gate.BaselineOverride = strings.TrimSpace(cfg.Gate.BaselineOverride)
	cfg.Serve.ModelPath = strings.TrimSpace(cfg.Serve.ModelPath)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
}

func validate(cfg Config) error {
	var errs []string

	if cfg.Artifacts.CandidateDir == "" {
		errs = append(errs, "artifacts.candidate_dir is required")
	}
	if cfg.Artifacts.ProductionDir == "" {
		errs = append(errs, "artifacts.production_dir is required")
	}
	if cfg.Artifacts.CandidateDir != "" && cfg.Artifacts.CandidateDir == cfg.Artifacts.ProductionDir {
		errs = append(errs, "artifacts.candidate_dir and artifacts.production_dir must differ")
	}
	if cfg.Serve.Port < 1 || cfg.Serve.Port > 65535 {
		errs = append(errs, fmt.Sprintf("serve.port %d is out of range", cfg.Serve.Port))
	}
	if cfg.Serve.InputDim < 0 {
		errs = append(errs, "serve.input_dim must not be negative")
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error, off", cfg.Log.Level))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}
