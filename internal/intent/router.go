// Package intent routes free-text questions to deterministic calculations.
// Classification is an ordered table of rule groups, one group per
// calculation type, evaluated in a fixed priority order; within a group any
// rule matching is enough. Several groups share vocabulary ("goal" appears
// everywhere), so the group order is the actual disambiguation mechanism
// and changing it is a behavior change, not a refactor.
//
// The router holds only its static rule table and two plausibility bounds;
// it performs no I/O and is safe for concurrent use.
package intent

import (
	"math"
	"regexp"
	"strings"

	"fincore/internal/config"
	"fincore/internal/logging"
	"fincore/internal/money"
	"fincore/internal/types"
)

// =============================================================================
// RULE TABLE
// =============================================================================

// rule is one disjunctive matcher. A rule fires when any phrase is
// contained in the lowered text, or when the pattern matches. The name is
// stable and flows into CalcRequest.Matched for the audit trail.
type rule struct {
	name    string
	phrases []string
	pattern *regexp.Regexp
}

func (r rule) matches(text string) bool {
	for _, p := range r.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return r.pattern != nil && r.pattern.MatchString(text)
}

// ruleGroup binds one calculation type to its rules.
type ruleGroup struct {
	calc  types.CalcType
	rules []rule
}

// defaultGroups returns the versioned rule table. Order matters: goal
// adjustment outranks growth sensitivity outranks the plain timeline
// question, because adjustment and sensitivity phrasings usually contain
// timeline vocabulary too ("when could i retire if my goal was lower").
func defaultGroups() []ruleGroup {
	return []ruleGroup{
		{
			calc: types.CalcRetirementGoalAdjustment,
			rules: []rule{
				{
					// Change verbs next to goal/target/number. Covers both
					// directions; "increase"/"raise" were once missing here
					// and silently fell through to the timeline group.
					name: "goal-change-verb",
					pattern: regexp.MustCompile(`\b(?:reduce[ds]?|reducing|lower(?:s|ed|ing)?|decrease[ds]?|decreasing|drop(?:s|ped|ping)?|cut(?:s|ting)?|shrink(?:s|ing)?|increase[ds]?|increasing|raise[ds]?|raising|bump(?:s|ed|ing)?|boost(?:s|ed|ing)?|change[ds]?|changing|adjust(?:s|ed|ing)?|set(?:s|ting)?|update[ds]?|updating)\s+(?:my\s+|the\s+|our\s+)?(?:retirement\s+)?(?:goal|target|number)\b`),
				},
				{
					name:    "replacement-goal",
					phrases: []string{"new goal", "new target", "different goal", "different target", "smaller goal", "bigger goal", "higher goal", "lower goal"},
				},
				{
					name:    "goal-counterfactual",
					pattern: regexp.MustCompile(`\b(?:goal|target)\s+(?:was|were|becomes?)\s+(?:now\s+)?\$?\d`),
				},
			},
		},
		{
			calc: types.CalcGrowthRateSensitivity,
			rules: []rule{
				{
					name:    "rate-vocabulary",
					phrases: []string{"growth rate", "rate of return", "return rate", "market return", "annual return", "average return", "expected return", "portfolio return", "interest rate"},
				},
				{
					// Up to two filler words between the verb and the
					// figure: "returns 8%", "grows at 5%", "returns are
					// only 4%".
					name:    "verb-returns-percent",
					pattern: regexp.MustCompile(`\b(?:returns?|grow(?:s|th)?|earn(?:s|ed)?|gain(?:s|ed)?|yield(?:s|ed)?|compound(?:s|ing)?|average[ds]?)\s+(?:\w+\s+){0,2}\d+(?:\.\d+)?\s*(?:%|percent)`),
				},
				{
					name:    "assumed-percent",
					pattern: regexp.MustCompile(`\b(?:at|with|assuming|assume)\s+(?:only\s+|just\s+|an?\s+)?\d+(?:\.\d+)?\s*(?:%|percent)`),
				},
			},
		},
		{
			calc: types.CalcYearsToRetirementGoal,
			rules: []rule{
				{
					name:    "when-retire",
					phrases: []string{"when can i retire", "when could i retire", "when will i retire", "when will i be able to retire", "can i retire", "able to retire", "retire early", "retire by", "retire at"},
				},
				{
					name:    "how-long",
					phrases: []string{"how long until", "how long till", "how long before", "how many years", "how soon", "how far away"},
				},
				{
					name:    "reach-target",
					pattern: regexp.MustCompile(`\b(?:reach(?:es|ed|ing)?|hit(?:s|ting)?|achieve[ds]?|achieving|cross(?:es|ed|ing)?|get\s+to|getting\s+to)\s+(?:my\s+|the\s+|our\s+)?(?:goal|target|number|financial\s+independence|fi\b|\$?\d)`),
				},
				{
					name:    "fi-timeline",
					phrases: []string{"years to fi", "years until fi", "time to fi", "financial independence", "fi number", "on track to retire", "retirement timeline", "timeline to retire"},
				},
			},
		},
	}
}

// =============================================================================
// ROUTER
// =============================================================================

// Router classifies queries against the static rule table. Construct once,
// share freely.
type Router struct {
	groups  []ruleGroup
	minGoal float64
	maxRate float64
}

// NewRouter builds a Router with plausibility bounds from policy: dollar
// figures under MinPlausibleGoal are never treated as goal amounts, and
// percentages over MaxPlausibleRate are never treated as growth rates.
func NewRouter(policy *config.Policy) *Router {
	return &Router{
		groups:  defaultGroups(),
		minGoal: policy.Solver.MinPlausibleGoal,
		maxRate: policy.Solver.MaxPlausibleRate,
	}
}

// Classify maps text to a CalcRequest. The zero CalcRequest (Type CalcNone)
// means no rule fired and the caller should handle the query without a
// deterministic calculation.
func (r *Router) Classify(text string) types.CalcRequest {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return types.CalcRequest{}
	}

	for _, group := range r.groups {
		for _, rl := range group.rules {
			if !rl.matches(lowered) {
				continue
			}
			req := types.CalcRequest{Type: group.calc, Matched: rl.name}
			if amount, ok := extractAmount(lowered, r.minGoal); ok {
				req.TargetAmount = amount
				req.HasTargetAmount = true
			}
			if rate, ok := extractRate(lowered, r.maxRate); ok {
				req.GrowthRate = rate
				req.HasGrowthRate = true
			}
			logging.Intent("Classified as %s via %s (amount=%v rate=%v): %q",
				group.calc, rl.name, req.HasTargetAmount, req.HasGrowthRate, truncate(text, 120))
			return req
		}
	}

	logging.IntentDebug("No rule matched: %q", truncate(text, 120))
	return types.CalcRequest{}
}

// =============================================================================
// PARAMETER EXTRACTION
// =============================================================================

var (
	// Dollar figures: "$3,000,000", "3000000", "$3M", "3.5 million",
	// "250k", and malformed grouping like "2,500000".
	amountPattern = regexp.MustCompile(`(?:\$\s*)?\b\d[\d,]*(?:\.\d+)?\s*(?:million|thousand|billion|[kmb]\b)?`)

	// A figure immediately followed by a percent marker is a rate, never
	// a dollar amount.
	percentMarker = regexp.MustCompile(`^\s*(?:%|percent\b|pct\b)`)

	// Statutory account names that read like dollar figures.
	accountFigure = regexp.MustCompile(`^(?:401|403|457|529)\s*[kb]$`)

	ratePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|percent\b|pct\b)`)

	suffixWords = strings.NewReplacer("million", "m", "thousand", "k", "billion", "b")
)

// extractAmount scans for the goal amount. Preference order: the first
// plausible figure preceded by "to" (the "reduce my goal to X" form beats
// the "from Y" figure), then the first plausible figure in reading order.
func extractAmount(text string, minPlausible float64) (float64, bool) {
	locs := amountPattern.FindAllStringIndex(text, -1)

	var first, preferred float64
	var haveFirst, havePreferred bool
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		if percentMarker.MatchString(text[loc[1]:]) {
			continue
		}
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
		if accountFigure.MatchString(trimmed) {
			continue
		}

		v, err := money.ParseAmount(suffixWords.Replace(raw))
		if err != nil || v < minPlausible {
			continue
		}
		if looksLikeCalendarYear(raw, v) {
			continue
		}

		if !haveFirst {
			first, haveFirst = v, true
		}
		if !havePreferred && precededByTo(text, loc[0]) {
			preferred, havePreferred = v, true
		}
	}

	if havePreferred {
		return preferred, true
	}
	return first, haveFirst
}

// extractRate returns the first percentage as a fraction. The division is
// unconditional because the pattern requires an explicit percent marker, so
// "0.5%" means 0.005, not 50%.
func extractRate(text string, maxPlausible float64) (float64, bool) {
	m := ratePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := money.ParseAmount(m[1])
	if err != nil {
		return 0, false
	}
	rate := v / 100
	if rate <= 0 || rate > maxPlausible {
		return 0, false
	}
	return rate, true
}

// looksLikeCalendarYear guards "retire by 2045" style figures: a bare
// integer in the calendar range with no currency or grouping marks is a
// year, not a goal amount.
func looksLikeCalendarYear(raw string, v float64) bool {
	if strings.ContainsAny(raw, "$,.") {
		return false
	}
	last := raw[len(raw)-1]
	if last < '0' || last > '9' {
		return false // explicit k/m/b suffix means a deliberate figure
	}
	return v == math.Trunc(v) && v >= 1900 && v <= 2100
}

func precededByTo(text string, start int) bool {
	prefix := strings.TrimRight(text[:start], " $")
	return prefix == "to" || strings.HasSuffix(prefix, " to")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
