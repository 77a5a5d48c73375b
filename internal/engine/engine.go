// Package engine orchestrates the answer pipeline: a free-text question and
// a financial snapshot go in, a grounded prose answer comes out. The engine
// owns sequencing, timeouts, and the LLM-or-fallback decision; all financial
// math lives in the packages it calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fincore/internal/config"
	"fincore/internal/facts"
	"fincore/internal/grounding"
	"fincore/internal/intent"
	"fincore/internal/logging"
	"fincore/internal/narrator"
	"fincore/internal/plan"
	"fincore/internal/solver"
	"fincore/internal/types"
)

// Answer sources. Fallback means the deterministic composer produced the
// text, either because no narrator is configured or because the narrated
// answer was rejected.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

var errNoNarrator = errors.New("no narrator configured")

// Timings records per-stage wall clock for one request, in milliseconds.
type Timings struct {
	DeriveMs   int64 `json:"derive_ms"`
	ClassifyMs int64 `json:"classify_ms"`
	SolveMs    int64 `json:"solve_ms"`
	NarrateMs  int64 `json:"narrate_ms"`
	ValidateMs int64 `json:"validate_ms"`
	TotalMs    int64 `json:"total_ms"`
}

// Answer is the engine's complete response to one question: the prose, how
// it was produced, and every intermediate artifact needed to audit it.
type Answer struct {
	RequestID  string           `json:"request_id"`
	Query      string           `json:"query"`
	Text       string           `json:"text"`
	Source     string           `json:"source"`
	Confidence types.Confidence `json:"confidence"`

	Calc   types.CalcRequest `json:"calc"`
	Facts  *types.FactSet    `json:"facts"`
	Inputs *solver.Inputs    `json:"inputs,omitempty"`
	Result *solver.Result    `json:"result,omitempty"`
	WhatIf *solver.WhatIf    `json:"what_if,omitempty"`

	// Grounding is the validation report for the narrated answer when one
	// was produced, so a rejected narration stays auditable; otherwise it
	// covers the fallback text itself.
	Grounding *grounding.Result `json:"grounding"`
	Timings   Timings           `json:"timings"`
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithNarrator injects the LLM narration boundary. Without one the engine
// answers from the deterministic fallback composer only.
func WithNarrator(n narrator.Narrator) Option {
	return func(e *Engine) { e.narrator = n }
}

// WithPolicySource injects the rulebook source, typically a hot-reloading
// PolicyWatcher. Without one the engine pins the policy loaded from the
// configured path.
func WithPolicySource(src config.PolicySource) Option {
	return func(e *Engine) { e.source = src }
}

// Engine answers questions against financial snapshots. Safe for concurrent
// use: per-request state lives on the stack, and the cached router and
// validator are swapped under the mutex only when the policy source yields
// a new rulebook.
type Engine struct {
	cfg      *config.Config
	source   config.PolicySource
	narrator narrator.Narrator

	mu        sync.Mutex
	policy    *config.Policy
	router    *intent.Router
	validator *grounding.Validator
}

// New builds an Engine from configuration. The zero option set loads the
// policy from cfg.PolicyPath (built-in defaults when empty) and runs without
// a narrator.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.source == nil {
		policy, err := config.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("loading policy: %w", err)
		}
		e.source = config.NewStaticSource(policy)
	}

	logging.Engine("Engine ready (narrator=%v, policy=%s)", e.narrator != nil, describePolicyPath(cfg.PolicyPath))
	return e, nil
}

func describePolicyPath(path string) string {
	if path == "" {
		return "built-in defaults"
	}
	return path
}

// tooling returns the policy currently in force together with the router
// and validator built for it. Both carry compiled state, so they are rebuilt
// only when the source swaps in a new policy; the common case is a pointer
// compare under a short lock.
func (e *Engine) tooling() (*config.Policy, *intent.Router, *grounding.Validator) {
	policy := e.source.Policy()

	e.mu.Lock()
	defer e.mu.Unlock()
	if policy != e.policy {
		e.policy = policy
		e.router = intent.NewRouter(policy)
		e.validator = grounding.NewValidator(policy)
		logging.EngineDebug("Rebuilt router and validator for new policy")
	}
	return policy, e.router, e.validator
}

// Answer runs the full pipeline for one question. Fact derivation and intent
// classification run concurrently; the routed calculation, narration, and
// grounding validation follow in order. Every request sees exactly one
// policy, captured once at the start.
func (e *Engine) Answer(ctx context.Context, query string, snap *types.FinancialSnapshot) (*Answer, error) {
	if snap == nil {
		return nil, types.ErrNilSnapshot
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, &types.ValidationError{Field: "query", Reason: "empty"}
	}
	if max := e.cfg.Engine.MaxQueryLength; max > 0 && len(trimmed) > max {
		return nil, &types.ValidationError{
			Field:  "query",
			Reason: fmt.Sprintf("length %d exceeds maximum %d", len(trimmed), max),
		}
	}

	requestID := uuid.NewString()
	rlog := logging.WithRequestID(logging.CategoryEngine, requestID)
	audit := logging.AuditWithRequest(requestID)

	started := time.Now()
	audit.RequestStart(requestID, trimmed)
	rlog.Info("Answering: %q", truncate(trimmed, 120))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.GetRequestTimeout())
	defer cancel()

	policy, router, validator := e.tooling()

	var (
		factSet    *types.FactSet
		calc       types.CalcRequest
		deriveMs   int64
		classifyMs int64
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		fs, err := facts.Derive(snap)
		deriveMs = time.Since(t).Milliseconds()
		if err != nil {
			return fmt.Errorf("deriving facts: %w", err)
		}
		factSet = fs
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		calc = router.Classify(trimmed)
		classifyMs = time.Since(t).Milliseconds()
		return nil
	})
	if err := g.Wait(); err != nil {
		audit.RequestComplete(requestID, time.Since(started).Milliseconds(), false, err.Error())
		return nil, err
	}

	audit.FactsDerived(requestID, len(factSet.NumericFacts()), len(factSet.Warnings))
	audit.IntentRouted(requestID, string(calc.Type), calc.Matched)

	req := &narrator.Request{Query: trimmed, Facts: factSet, Calc: calc}

	solveStart := time.Now()
	runCalc(req, policy, audit, requestID)
	solveMs := time.Since(solveStart).Milliseconds()

	narrateStart := time.Now()
	text, narrateErr := e.narrate(ctx, req)
	narrateMs := time.Since(narrateStart).Milliseconds()

	extra := req.Numbers()
	ceiling, _ := policy.CapForAge(snap.Age)
	extra["rate_ceiling"] = ceiling

	validateStart := time.Now()
	answer := &Answer{
		RequestID: requestID,
		Query:     trimmed,
		Calc:      calc,
		Facts:     factSet,
		Inputs:    req.Inputs,
		Result:    req.Result,
		WhatIf:    req.WhatIf,
	}

	if narrateErr == nil {
		report := validator.Validate(text, factSet, extra)
		audit.GroundingChecked(requestID, report.Valid, string(report.Confidence), len(report.Violations))
		answer.Grounding = report
		if report.Valid {
			answer.Text = text
			answer.Source = SourceLLM
			answer.Confidence = report.Confidence
		} else {
			rlog.Warn("Narrated answer rejected by grounding (%d violation(s)); composing fallback",
				len(report.Violations))
		}
	}

	if answer.Text == "" {
		answer.Text = narrator.Fallback(req)
		answer.Source = SourceFallback
		audit.FallbackUsed(requestID, fallbackReason(narrateErr, answer.Grounding))

		if answer.Grounding == nil {
			report := validator.Validate(answer.Text, factSet, extra)
			audit.GroundingChecked(requestID, report.Valid, string(report.Confidence), len(report.Violations))
			answer.Grounding = report
		}
		answer.Confidence = answer.Grounding.Confidence
	}
	validateMs := time.Since(validateStart).Milliseconds()

	totalMs := time.Since(started).Milliseconds()
	answer.Timings = Timings{
		DeriveMs:   deriveMs,
		ClassifyMs: classifyMs,
		SolveMs:    solveMs,
		NarrateMs:  narrateMs,
		ValidateMs: validateMs,
		TotalMs:    totalMs,
	}

	audit.PerfMetric("answer", totalMs, e.cfg.GetSlowThreshold().Milliseconds())
	audit.RequestComplete(requestID, totalMs, true, "")
	rlog.Info("Answered from %s in %dms (confidence %s)", answer.Source, totalMs, answer.Confidence)

	return answer, nil
}

// fallbackReason names why the fallback composer ran, for the audit trail.
func fallbackReason(narrateErr error, report *grounding.Result) string {
	switch {
	case errors.Is(narrateErr, errNoNarrator):
		return "no narrator configured"
	case narrateErr != nil:
		return fmt.Sprintf("narration failed: %v", narrateErr)
	case report != nil && !report.Valid:
		return fmt.Sprintf("narrated answer failed grounding: %d violation(s)", len(report.Violations))
	default:
		return "narrated answer empty"
	}
}

func (e *Engine) narrate(ctx context.Context, req *narrator.Request) (string, error) {
	if e.narrator == nil {
		return "", errNoNarrator
	}
	return e.narrator.Narrate(ctx, req)
}

// runCalc executes the routed calculation and attaches its inputs and
// outcome to the narration request. A substitution query that arrived
// without a usable parameter degrades to the baseline projection; the routed
// type stays on the request so the audit trail shows what was asked.
func runCalc(req *narrator.Request, policy *config.Policy, audit *logging.AuditLogger, requestID string) {
	calc := req.Calc
	if !calc.IsCalc() {
		return
	}

	// Baseline inputs come from the fact set: the investable balance grows
	// by the monthly surplus toward the FI number. A query that names no
	// rate is modeled at the age-band ceiling, the highest rate the policy
	// permits for this user.
	base := solver.Inputs{
		CurrentAssets:       req.Facts.InvestableTotal,
		TargetGoal:          req.Facts.FINumber,
		MonthlyContribution: req.Facts.MonthlySurplus,
		Age:                 req.Facts.Snapshot.Age,
	}
	base.AnnualRate, _ = policy.CapForAge(base.Age)

	runBaseline := func() {
		start := time.Now()
		res := solver.YearsToGoal(base, policy)
		req.Inputs, req.Result = &base, &res
		audit.SolverRun(requestID, string(calc.Type), res.Years, res.Unbounded, time.Since(start).Milliseconds())
	}

	switch calc.Type {
	case types.CalcYearsToRetirementGoal:
		if calc.HasTargetAmount {
			base.TargetGoal = calc.TargetAmount
		}
		if calc.HasGrowthRate {
			base.AnnualRate = calc.GrowthRate
		}
		runBaseline()

	case types.CalcRetirementGoalAdjustment:
		// An explicit rate applies to both sides; the substitution must
		// isolate the goal change.
		if calc.HasGrowthRate {
			base.AnnualRate = calc.GrowthRate
		}
		if !calc.HasTargetAmount {
			runBaseline()
			return
		}
		start := time.Now()
		w := solver.GoalAdjustment(base, calc.TargetAmount, policy)
		req.Inputs, req.WhatIf = &base, &w
		audit.SolverRun(requestID, string(calc.Type), w.Variant.Years, w.Variant.Unbounded, time.Since(start).Milliseconds())

	case types.CalcGrowthRateSensitivity:
		// The baseline keeps the default rate here so the variant isolates
		// the queried one.
		if !calc.HasGrowthRate {
			runBaseline()
			return
		}
		start := time.Now()
		w := solver.GrowthRateSensitivity(base, calc.GrowthRate, policy)
		req.Inputs, req.WhatIf = &base, &w
		audit.SolverRun(requestID, string(calc.Type), w.Variant.Years, w.Variant.Unbounded, time.Since(start).Milliseconds())
	}
}

// Plan validates input and builds a deterministic plan under the policy
// currently in force.
func (e *Engine) Plan(ctx context.Context, in *plan.PlanInput) (*plan.PlanOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	if err := plan.Validate(in); err != nil {
		logging.Audit().PlanBuilt(time.Since(started).Milliseconds(), false, err.Error())
		return nil, err
	}

	policy, _, _ := e.tooling()
	out, err := plan.Build(in, policy)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		logging.Audit().PlanBuilt(elapsed, false, err.Error())
		return nil, err
	}

	logging.Audit().PlanBuilt(elapsed, true, "")
	logging.Engine("Plan built in %dms: %d trade(s), %d debt action(s), %d stress scenario(s)",
		elapsed, len(out.Trades), len(out.Debts), len(out.Stress))
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
