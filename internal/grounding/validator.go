// Package grounding validates answer text against derived facts. Every
// dollar and percent figure in a candidate answer must trace back to a
// known numeric fact within tolerance before the answer reaches the user.
// Figures that cannot be traced either ride inside clearly hedged language
// (assumptions) or invalidate the answer (critical violations), in which
// case a deterministic fallback built from the fact set replaces it.
package grounding

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"fincore/internal/config"
	"fincore/internal/logging"
	"fincore/internal/money"
	"fincore/internal/types"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Match is one grounded figure: its text form, parsed value, and the fact
// that vouches for it.
type Match struct {
	Raw       string  `json:"raw"`
	Value     float64 `json:"value"`
	Fact      string  `json:"fact"`
	FactValue float64 `json:"fact_value"`

	// Annualized marks a match made through the monthly*12 bridge: the
	// answer quoted an annual figure for a monthly fact or vice versa.
	Annualized bool `json:"annualized,omitempty"`
}

// Violation is one figure presented as current-state fact that matched
// nothing in the fact set.
type Violation struct {
	Raw      string  `json:"raw"`
	Value    float64 `json:"value"`
	Sentence string  `json:"sentence"`
}

// Result is the full verdict on one answer.
type Result struct {
	Original    string           `json:"original"`
	Valid       bool             `json:"valid"`
	Confidence  types.Confidence `json:"confidence"`
	Matches     []Match          `json:"matches,omitempty"`
	Violations  []Violation      `json:"violations,omitempty"`
	Assumptions []string         `json:"assumptions,omitempty"`

	// Fallback is set only when the answer is invalid: a deterministic
	// replacement composed purely from fact set fields.
	Fallback string `json:"fallback,omitempty"`
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks answers against a fact set. Stateless after
// construction; safe for concurrent use.
type Validator struct {
	base          float64
	aggregate     float64
	floor         float64
	maxUngrounded int
}

// NewValidator builds a Validator from grounding policy: the base relative
// tolerance, the widened tolerance for figures at or above the aggregate
// floor, and the ungrounded-figure budget past which even hedged answers
// are rejected.
func NewValidator(policy *config.Policy) *Validator {
	g := policy.Grounding
	return &Validator{
		base:          g.BaseTolerance,
		aggregate:     g.AggregateTolerance,
		floor:         g.AggregateFloor,
		maxUngrounded: g.MaxUngrounded,
	}
}

// Validate scans answer for dollar and percent figures and grounds each
// one against the fact set plus any extra numeric sources (solver results,
// plan figures). extra may be nil. The answer is invalid when any critical
// violation exists or when ungrounded figures (hedged included) exceed the
// policy budget.
func (v *Validator) Validate(answer string, facts *types.FactSet, extra map[string]float64) *Result {
	timer := logging.StartTimer(logging.CategoryGrounding, "answer validation")
	defer timer.Stop()

	res := &Result{Original: answer, Valid: true, Confidence: types.ConfidenceHigh}
	if strings.TrimSpace(answer) == "" {
		return res
	}

	numeric := mergeFacts(facts, extra)
	figures := extractFigures(answer)
	bounds := sentenceBounds(answer)

	seenAssumption := make(map[string]bool)
	ungrounded := 0
	for _, fig := range figures {
		if m, ok := v.ground(fig, numeric); ok {
			res.Matches = append(res.Matches, m)
			continue
		}

		ungrounded++
		sentence := strings.TrimSpace(sentenceAt(answer, bounds, fig.start))
		if isHedged(sentence) {
			if !seenAssumption[sentence] {
				seenAssumption[sentence] = true
				res.Assumptions = append(res.Assumptions, sentence)
			}
			continue
		}
		res.Violations = append(res.Violations, Violation{Raw: fig.raw, Value: fig.value, Sentence: sentence})
	}

	if len(res.Violations) > 0 || ungrounded > v.maxUngrounded {
		res.Valid = false
		res.Confidence = types.ConfidenceLow
		res.Fallback = Fallback(facts)
		logging.GroundingWarn("Answer rejected: %d violation(s), %d ungrounded figure(s) total",
			len(res.Violations), ungrounded)
	} else if len(res.Assumptions) > 0 {
		res.Confidence = types.ConfidenceMedium
	}

	logging.GroundingDebug("Validated answer: figures=%d grounded=%d assumptions=%d violations=%d confidence=%s",
		len(figures), len(res.Matches), len(res.Assumptions), len(res.Violations), res.Confidence)

	return res
}

// ground matches one figure against the numeric facts. Direct matches are
// preferred over annualized ones; fact names are scanned in sorted order
// so attribution is deterministic.
func (v *Validator) ground(fig figure, facts map[string]float64) (Match, bool) {
	names := make([]string, 0, len(facts))
	for name := range facts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if v.within(fig.value, facts[name]) {
			return Match{Raw: fig.raw, Value: fig.value, Fact: name, FactValue: facts[name]}, true
		}
	}

	// The monthly*12 bridge applies to dollar figures only; a percentage
	// never changes with the reporting period.
	if !fig.percent {
		for _, name := range names {
			fv := facts[name]
			if v.within(fig.value, fv*12) || v.within(fig.value, fv/12) {
				return Match{Raw: fig.raw, Value: fig.value, Fact: name, FactValue: fv, Annualized: true}, true
			}
		}
	}

	return Match{}, false
}

// within applies the relative tolerance, widened for aggregate-scale
// facts. The absolute floor of one cent absorbs formatting rounding.
func (v *Validator) within(value, fact float64) bool {
	if math.IsNaN(fact) || math.IsInf(fact, 0) {
		return false
	}
	tol := v.base
	if math.Abs(fact) >= v.floor {
		tol = v.aggregate
	}
	diff := math.Abs(value - fact)
	return diff <= math.Max(tol*math.Abs(fact), 0.01)
}

func mergeFacts(facts *types.FactSet, extra map[string]float64) map[string]float64 {
	merged := make(map[string]float64)
	if facts != nil {
		for name, value := range facts.NumericFacts() {
			merged[name] = value
		}
	}
	for name, value := range extra {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		merged[name] = value
	}
	return merged
}

// =============================================================================
// FIGURE EXTRACTION
// =============================================================================

type figure struct {
	raw     string
	value   float64
	percent bool
	start   int
}

var (
	dollarPattern = regexp.MustCompile(`(?i)(-\s*)?\$\s*([\d,]+(?:\.\d+)?)(?:\s*(million|billion|thousand|[kmb])\b)?`)
	wordsPattern  = regexp.MustCompile(`(?i)(-\s*)?\b(\d[\d,]*(?:\.\d+)?)(?:\s*(million|billion|thousand))?\s+dollars\b`)
	pctPattern    = regexp.MustCompile(`(-\s*)?\b(\d[\d,]*(?:\.\d+)?)\s*(?:%|percent\b)`)
)

// shortSuffix folds spelled-out magnitude words onto the single-letter
// suffixes ParseAmount understands.
func shortSuffix(word string) string {
	switch strings.ToLower(word) {
	case "million":
		return "m"
	case "billion":
		return "b"
	case "thousand":
		return "k"
	default:
		return strings.ToLower(word)
	}
}

// extractFigures pulls every dollar and percent figure with its position.
// Results come back in reading order. Spans claimed by the $-form are
// skipped by the "N dollars" form so "$2.5 million dollars" yields one
// figure, not two.
func extractFigures(text string) []figure {
	var figures []figure
	var claimed [][2]int

	appendMoney := func(m []int) {
		raw := text[m[0]:m[1]]
		body := text[m[4]:m[5]]
		if m[6] >= 0 {
			body += shortSuffix(text[m[6]:m[7]])
		}
		value, err := money.ParseAmount(body)
		if err != nil {
			return
		}
		if m[2] >= 0 {
			value = -value
		}
		figures = append(figures, figure{raw: raw, value: value, start: m[0]})
		claimed = append(claimed, [2]int{m[0], m[1]})
	}

	for _, m := range dollarPattern.FindAllStringSubmatchIndex(text, -1) {
		appendMoney(m)
	}
	for _, m := range wordsPattern.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		appendMoney(m)
	}

	for _, m := range pctPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[m[0]:m[1]]
		v, err := money.ParseAmount(text[m[4]:m[5]])
		if err != nil {
			continue
		}
		value := v / 100
		if m[2] >= 0 {
			value = -value
		}
		figures = append(figures, figure{raw: raw, value: value, percent: true, start: m[0]})
	}

	sort.SliceStable(figures, func(i, j int) bool { return figures[i].start < figures[j].start })
	return figures
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

// =============================================================================
// SENTENCE CONTEXT
// =============================================================================

// hedgeMarkers flag forward-looking or advisory language. A figure inside
// a hedged sentence is an assumption, not a factual claim.
var hedgeMarkers = []string{
	"assum", "recommend", "suggest", "consider", "estimate", "project",
	"hypothetical", "scenario", "what if", "if you", "if your", "were to",
	"could", "would", "might", "potential", "forecast", "expect", "on track",
}

func isHedged(sentence string) bool {
	lowered := strings.ToLower(sentence)
	for _, marker := range hedgeMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// sentenceBounds splits text into sentence spans. A period directly
// followed by a digit is a decimal point, not a boundary.
func sentenceBounds(text string) [][2]int {
	var bounds [][2]int
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' && c != '\n' {
			continue
		}
		if c == '.' && i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9' {
			continue
		}
		bounds = append(bounds, [2]int{start, i + 1})
		start = i + 1
	}
	if start < len(text) {
		bounds = append(bounds, [2]int{start, len(text)})
	}
	return bounds
}

func sentenceAt(text string, bounds [][2]int, pos int) string {
	for _, b := range bounds {
		if pos >= b[0] && pos < b[1] {
			return text[b[0]:b[1]]
		}
	}
	return text
}
