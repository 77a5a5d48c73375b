package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fincore/internal/config"
	"fincore/internal/facts"
	"fincore/internal/grounding"
)

// =============================================================================
// FACTS
// =============================================================================

var factsSnapshotPath string

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Derive the fact set from a financial snapshot",
	Long: `Facts computes every numeric fact answers are grounded against:
net worth, monthly surplus, savings rate, FI number, years to FI, and the
rest. Output is the full fact set with per-fact evidence strings.`,
	Args: cobra.NoArgs,
	RunE: runFacts,
}

func runFacts(cmd *cobra.Command, args []string) error {
	snap, err := loadSnapshot(factsSnapshotPath)
	if err != nil {
		return err
	}
	fs, err := facts.Derive(snap)
	if err != nil {
		return fmt.Errorf("deriving facts: %w", err)
	}
	return printJSON(fs)
}

// =============================================================================
// GROUND
// =============================================================================

var (
	groundSnapshotPath string
	groundAnswerPath   string
)

var groundCmd = &cobra.Command{
	Use:   "ground",
	Short: "Validate prose against a snapshot's derived facts",
	Long: `Ground checks every dollar figure and percentage in a piece of prose
against the facts derived from the snapshot. Figures that match no fact and
are not hedged as assumptions are violations; any violation fails the check
and the command exits with status 2.`,
	Args: cobra.NoArgs,
	RunE: runGround,
}

func runGround(cmd *cobra.Command, args []string) error {
	snap, err := loadSnapshot(groundSnapshotPath)
	if err != nil {
		return err
	}
	fs, err := facts.Derive(snap)
	if err != nil {
		return fmt.Errorf("deriving facts: %w", err)
	}

	raw, err := os.ReadFile(groundAnswerPath)
	if err != nil {
		return fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.TrimSpace(string(raw))
	if answer == "" {
		return fmt.Errorf("answer file %s is empty", groundAnswerPath)
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	res := grounding.NewValidator(policy).Validate(answer, fs, nil)
	if jsonOutput {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		renderGrounding(res)
	}

	if !res.Valid {
		if n := len(res.Violations); n > 0 {
			return fmt.Errorf("%w: %d ungrounded figure(s)", errValidationFailed, n)
		}
		return fmt.Errorf("%w: too many unverifiable figures", errValidationFailed)
	}
	return nil
}

func renderGrounding(res *grounding.Result) {
	verdict := "GROUNDED"
	if !res.Valid {
		verdict = "REJECTED"
	}
	fmt.Printf("%s (confidence %s)\n", verdict, res.Confidence)

	for _, m := range res.Matches {
		note := ""
		if m.Annualized {
			note = " (monthly/annual bridge)"
		}
		fmt.Printf("  ok    %s matches %s = %s%s\n", m.Raw, m.Fact, formatFactValue(m), note)
	}
	for _, a := range res.Assumptions {
		fmt.Printf("  hedge %s\n", a)
	}
	for _, v := range res.Violations {
		fmt.Printf("  FAIL  %s in %q\n", v.Raw, v.Sentence)
	}
	if res.Fallback != "" {
		fmt.Printf("suggested replacement:\n  %s\n", res.Fallback)
	}
}

// =============================================================================
// POLICY
// =============================================================================

var policyShowPath string

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective policy",
	Long: `Policy prints the merged policy: house defaults overlaid with the
policy file, when one is configured. This is the exact policy the engine
applies to rate caps, contribution routing, and grounding tolerances.`,
	Args: cobra.NoArgs,
	RunE: runPolicy,
}

func runPolicy(cmd *cobra.Command, args []string) error {
	path := policyShowPath
	if path == "" {
		path = cfg.PolicyPath
	}
	policy, err := config.LoadPolicy(path)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	if jsonOutput {
		return printJSON(policy)
	}
	data, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encoding policy: %w", err)
	}
	fmt.Printf("# source: %s\n%s", describePolicySource(path), data)
	return nil
}

func describePolicySource(path string) string {
	if path == "" {
		return "built-in defaults"
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Sprintf("built-in defaults (%s not found)", path)
	}
	return path
}

func init() {
	factsCmd.Flags().StringVar(&factsSnapshotPath, "snapshot", "", "Financial snapshot JSON file (required)")
	factsCmd.MarkFlagRequired("snapshot")

	groundCmd.Flags().StringVar(&groundSnapshotPath, "snapshot", "", "Financial snapshot JSON file (required)")
	groundCmd.Flags().StringVar(&groundAnswerPath, "answer", "", "File containing the prose to validate (required)")
	groundCmd.MarkFlagRequired("snapshot")
	groundCmd.MarkFlagRequired("answer")

	policyCmd.Flags().StringVar(&policyShowPath, "policy", "", "Policy YAML file (default: the configured policy path)")
}
