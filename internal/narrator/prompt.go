package narrator

import (
	"fmt"
	"sort"
	"strings"

	"fincore/internal/logging"
	"fincore/internal/money"
	"fincore/internal/solver"
)

// systemInstruction is the guardrail contract sent with every narration.
// The grounding validator enforces rule 1 after the fact; the instruction
// exists so compliant answers are the common case, not the lucky one.
const systemInstruction = `You are the narration layer of a financial calculation engine.
Your only job is to explain figures that were already computed. You never compute, estimate, or recall figures of your own.

Rules:
1. Every dollar amount and every percentage in your answer MUST be copied exactly as written from the VERIFIED FACTS or CALCULATION RESULTS sections of the prompt.
2. If a figure you want is not in those sections, do not guess. Say the records do not support it.
3. Statements about future market behavior must be framed conditionally (for example "assuming the modeled rate holds").
4. Answer in plain prose. No markdown, no code fences, no tables, no bullet points.
5. Be direct and keep it under 200 words.`

// BuildPrompt assembles the user-turn prompt for one narration: the
// question, the fact set serialized as labelled evidence lines, and the
// calculation outcome when one was routed. Facts are emitted in sorted
// order so identical requests produce identical prompts.
func BuildPrompt(req *Request) string {
	timer := logging.StartTimer(logging.CategoryNarrator, "prompt assembly")
	defer timer.Stop()

	var sb strings.Builder

	sb.WriteString("QUESTION:\n")
	sb.WriteString(strings.TrimSpace(req.Query))
	sb.WriteString("\n\n")

	sb.WriteString("VERIFIED FACTS (the only financial figures you may quote):\n")
	writeEvidence(&sb, req)

	if req.Result != nil || req.WhatIf != nil {
		sb.WriteString("\nCALCULATION RESULTS:\n")
		writeCalcLines(&sb, req)
	}

	if req.Facts != nil && len(req.Facts.Warnings) > 0 {
		sb.WriteString("\nDATA QUALITY NOTES:\n")
		for _, w := range req.Facts.Warnings {
			sb.WriteString("- " + w + "\n")
		}
	}

	sb.WriteString("\nAnswer the question using only the figures above.\n")

	prompt := sb.String()
	logging.NarratorDebug("Assembled narration prompt: %d bytes", len(prompt))
	return prompt
}

// writeEvidence emits one line per derived fact. The evidence map already
// renders each fact with the shared formatters, so the model sees figures
// in exactly the form the validator will re-parse.
func writeEvidence(sb *strings.Builder, req *Request) {
	if req.Facts == nil {
		sb.WriteString("- none available\n")
		return
	}

	names := make([]string, 0, len(req.Facts.Evidence))
	for name := range req.Facts.Evidence {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sb.WriteString("- " + req.Facts.Evidence[name] + "\n")
	}
}

// writeCalcLines emits the solver outcome as labelled lines, again with
// formatter-rendered figures only.
func writeCalcLines(sb *strings.Builder, req *Request) {
	if req.Inputs != nil {
		fmt.Fprintf(sb, "- target: %s, starting balance: %s, monthly contribution: %s\n",
			money.FormatUSD(req.Inputs.TargetGoal),
			money.FormatUSD(req.Inputs.CurrentAssets),
			money.FormatUSD(req.Inputs.MonthlyContribution))
	}

	if res := req.Result; res != nil {
		writeResultLines(sb, "", res)
	}

	if w := req.WhatIf; w != nil {
		fmt.Fprintf(sb, "- comparison: %s\n", w.Parameter)
		writeResultLines(sb, "baseline ", &w.Baseline)
		writeResultLines(sb, "variant ", &w.Variant)
		if w.HasDelta {
			fmt.Fprintf(sb, "- difference: %s years\n", money.FormatYears(w.DeltaYears))
		} else {
			sb.WriteString("- difference: not comparable, at least one side never reaches the target\n")
		}
	}
}

func writeResultLines(sb *strings.Builder, label string, res *solver.Result) {
	switch {
	case res.AlreadyAchieved:
		fmt.Fprintf(sb, "- %salready achieved: balance %s exceeds the target by %s\n",
			label, money.FormatUSD(res.FinalAmount), money.FormatUSD(res.Surplus))
	case res.Unbounded:
		fmt.Fprintf(sb, "- %starget not reached within %s years, projection ends at %s\n",
			label, money.FormatYears(res.Years), money.FormatUSD(res.FinalAmount))
	default:
		fmt.Fprintf(sb, "- %syears to goal: %s, final balance %s (%s contributed, %s growth)\n",
			label, money.FormatYears(res.Years), money.FormatUSD(res.FinalAmount),
			money.FormatUSD(res.TotalContributions), money.FormatUSD(res.GrowthComponent))
	}
	fmt.Fprintf(sb, "- %sgrowth rate used: %s per year (%s)\n",
		label, money.FormatPercent(res.RateUsed), res.RateRationale)
}
