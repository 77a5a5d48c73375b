// Command fincore is the CLI surface over the grounded financial
// calculation engine: derive facts from a snapshot, build a deterministic
// plan, answer a free-text question, or validate prose against the facts.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fincore/internal/config"
	"fincore/internal/logging"
	"fincore/internal/types"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
	verbose    bool

	// Loaded in PersistentPreRunE, shared by every subcommand
	cfg *config.Config

	logger *zap.Logger
)

// errValidationFailed marks a ground run that completed but found the
// answer ungrounded. main maps it to exit code 2 so scripts can tell
// "invalid answer" from "command failed".
var errValidationFailed = errors.New("validation failed")

var rootCmd = &cobra.Command{
	Use:   "fincore",
	Short: "fincore - grounded financial calculation engine",
	Long: `fincore answers financial questions with numbers it can prove.

Facts are derived from a snapshot of your records, every calculation is
deterministic and auditable, and any prose answer (LLM-narrated or not) is
validated figure-by-figure against those facts before you see it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		home := filepath.Dir(resolveConfigPath())
		if err := logging.Initialize(home); err != nil {
			logger.Warn("Category logging disabled", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.fincore/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(groundCmd)
	rootCmd.AddCommand(policyCmd)
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadSnapshot reads and decodes a FinancialSnapshot JSON file.
func loadSnapshot(path string) (*types.FinancialSnapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("--snapshot is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap types.FinancialSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errValidationFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
