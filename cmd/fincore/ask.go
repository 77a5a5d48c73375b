package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fincore/internal/config"
	"fincore/internal/engine"
	"fincore/internal/grounding"
	"fincore/internal/money"
	"fincore/internal/narrator"
)

var (
	askSnapshotPath string
	askWatchPolicy  bool
)

var askCmd = &cobra.Command{
	Use:   "ask --snapshot s.json \"question\"",
	Short: "Answer a financial question from a snapshot",
	Long: `Runs the full pipeline: derive facts, route the question to a
deterministic calculation, narrate (when a Gemini API key is configured),
and validate every figure in the answer against the derived facts.

Examples:
  fincore ask --snapshot s.json "when can i retire?"
  fincore ask --snapshot s.json "what if i reduce my goal to 1500000?"
  fincore ask --snapshot s.json "what if the market only returns 5%?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSnapshotPath, "snapshot", "", "Snapshot JSON file (required)")
	askCmd.Flags().BoolVar(&askWatchPolicy, "watch-policy", false, "Hot-reload the policy file while running")
	_ = askCmd.MarkFlagRequired("snapshot")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := loadSnapshot(askSnapshotPath)
	if err != nil {
		return err
	}

	opts, cleanup, err := engineOptions(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}

	ans, err := eng.Answer(ctx, args[0], snap)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(ans)
	}
	renderAnswer(ans)
	return nil
}

// engineOptions assembles narrator and policy-source options from config
// and flags. A narrator that cannot be constructed downgrades to
// fallback-only answers rather than failing the command.
func engineOptions(ctx context.Context) ([]engine.Option, func(), error) {
	var opts []engine.Option
	cleanup := func() {}

	if cfg.Narrator.Enabled && cfg.Narrator.APIKey != "" {
		n, err := narrator.NewGeminiNarrator(ctx, cfg.Narrator)
		if err != nil {
			logger.Warn("Narrator unavailable, answering from facts only", zap.Error(err))
		} else {
			logger.Debug("Narrator ready", zap.String("model", n.Model()))
			opts = append(opts, engine.WithNarrator(n))
		}
	}

	if askWatchPolicy || cfg.WatchPolicy {
		if cfg.PolicyPath == "" {
			return nil, nil, fmt.Errorf("--watch-policy requires a policy_path in config or FINCORE_POLICY_PATH")
		}
		w, err := config.NewPolicyWatcher(cfg.PolicyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to watch policy: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to start policy watcher: %w", err)
		}
		cleanup = w.Stop
		opts = append(opts, engine.WithPolicySource(w))
	}

	return opts, cleanup, nil
}

func renderAnswer(ans *engine.Answer) {
	fmt.Println(ans.Text)
	fmt.Println()
	fmt.Printf("source: %s   confidence: %s   request: %s\n", ans.Source, ans.Confidence, ans.RequestID)

	if ans.Calc.IsCalc() {
		fmt.Printf("calculation: %s (rule %s)\n", ans.Calc.Type, ans.Calc.Matched)
	}

	g := ans.Grounding
	if g == nil {
		return
	}
	if len(g.Matches) > 0 {
		fmt.Println("grounded figures:")
		for _, m := range g.Matches {
			note := ""
			if m.Annualized {
				note = " (monthly/annual bridge)"
			}
			fmt.Printf("  %s -> %s = %s%s\n", m.Raw, m.Fact, formatFactValue(m), note)
		}
	}
	if len(g.Assumptions) > 0 {
		fmt.Println("assumptions:")
		for _, a := range g.Assumptions {
			fmt.Printf("  %s\n", strings.TrimSpace(a))
		}
	}
	if len(g.Violations) > 0 {
		fmt.Println("rejected figures:")
		for _, v := range g.Violations {
			fmt.Printf("  %s in %q\n", v.Raw, strings.TrimSpace(v.Sentence))
		}
	}
}

// formatFactValue renders the vouching fact the way the answer quoted the
// figure: percent figures as percentages, everything else as dollars.
func formatFactValue(m grounding.Match) string {
	lowered := strings.ToLower(m.Raw)
	if strings.Contains(lowered, "%") || strings.Contains(lowered, "percent") {
		return money.FormatPercent(m.FactValue)
	}
	return money.FormatUSD(m.FactValue)
}
