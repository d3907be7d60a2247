// Package cli implements the officer-vitals commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"officer-vitals/internal/config"
	"officer-vitals/internal/engine"
	"officer-vitals/internal/risk"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath         string
	riskConfigPath string
	scorerFlag     string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "officer-vitals",
	Short: "Heart-rate risk windowing and alert lifecycle for monitored officers",
	Long: "Consumes wearable heart-rate readings, scores a sliding window per officer, " +
		"and raises deduplicated alerts and recommendations.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $DB_PATH or vitals.db)")
	RootCmd.PersistentFlags().StringVar(&riskConfigPath, "risk-config", "", "YAML file overriding engine thresholds (default: $RISK_CONFIG_PATH)")
	RootCmd.PersistentFlags().StringVar(&scorerFlag, "scorer", "", "Risk scorer: heuristic or model (default: $SCORER)")
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if riskConfigPath != "" {
		cfg.RiskConfigPath = riskConfigPath
		if cfg.Engine, err = config.LoadEngine(riskConfigPath); err != nil {
			return nil, err
		}
	}
	if scorerFlag != "" {
		cfg.Scorer = strings.ToLower(scorerFlag)
	}
	return cfg, nil
}

// buildEngine wires the configured scorer. A model that cannot be loaded still
// runs, degraded, on the heuristic fallback.
func buildEngine(cfg *config.Config, log *zap.Logger, opts ...engine.Option) (*engine.Engine, error) {
	opts = append([]engine.Option{engine.WithLogger(log)}, opts...)

	switch cfg.Scorer {
	case risk.HeuristicName, "":
	case risk.ModelName:
		var (
			detector   risk.AnomalyDetector
			classifier risk.AlertClassifier
		)
		c, d, err := risk.LoadLinearModel(cfg.ModelPath)
		if err != nil {
			log.Warn("Model unavailable, readings will be scored by the heuristic",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
		} else {
			detector, classifier = d, c
		}
		opts = append(opts, engine.WithScorer(risk.NewModel(detector, classifier, risk.DefaultSeverityTable(), cfg.Engine)))
	default:
		return nil, fmt.Errorf("unknown scorer %q, want %s or %s", cfg.Scorer, risk.HeuristicName, risk.ModelName)
	}

	switch cfg.Resolver {
	case "passthrough", "":
	case "max":
		opts = append(opts, engine.WithResolver(risk.MaxBlend{}))
	default:
		return nil, fmt.Errorf("unknown resolver %q, want passthrough or max", cfg.Resolver)
	}
	return engine.New(cfg.Engine, opts...), nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
