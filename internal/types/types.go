// Package types provides shared type definitions used across fincore packages.
// This package exists to break import cycles between facts, plan, solver,
// grounding, and engine. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// =============================================================================
// FINANCIAL SNAPSHOT - Validated Input Contract
// =============================================================================

// FinancialSnapshot is the wire contract for a user's financial state.
// Field names are fixed: upstream ingestion and downstream consumers both
// serialize against these exact JSON keys.
type FinancialSnapshot struct {
	TotalAssets      float64 `json:"totalAssets"`
	TotalLiabilities float64 `json:"totalLiabilities"`
	MonthlyIncome    float64 `json:"monthlyIncome"`
	MonthlyExpenses  float64 `json:"monthlyExpenses"`
	LiquidAssets     float64 `json:"liquidAssets"`
	InvestmentTotal  float64 `json:"investmentTotal"`
	RetirementTotal  float64 `json:"retirementTotal"`
	Age              int     `json:"age"`
	State            string  `json:"state"`
	FilingStatus     string  `json:"filingStatus"`
	Dependents       int     `json:"dependents"`
	MaritalStatus    string  `json:"maritalStatus"`
	RiskTolerance    int     `json:"riskTolerance"` // 1 (conservative) to 10 (aggressive)

	// Optional detail. Absent slices mean the per-account breakdown was not
	// provided; aggregate fields above remain authoritative.
	Accounts    []Account   `json:"accounts,omitempty"`
	Liabilities []Liability `json:"liabilities,omitempty"`
}

// Account is one holding within a snapshot.
type Account struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"` // "401k", "ira", "hsa", "taxable", "checking", "savings"
	Balance     float64 `json:"balance"`
	EquityShare float64 `json:"equityShare"` // 0 to 1, portion held in equities
}

// Liability is one debt within a snapshot.
type Liability struct {
	Name           string  `json:"name"`
	Balance        float64 `json:"balance"`
	AnnualRate     float64 `json:"annualRate"` // 0.22 means 22% APR
	MinimumPayment float64 `json:"minimumPayment"`
}

// =============================================================================
// FACT SET - Derived, Auditable Facts
// =============================================================================

// FactSet holds every derived fact the engine is allowed to quote, along
// with the evidence line that produced each one. All downstream numbers
// trace back here; the grounding validator rejects anything that does not.
type FactSet struct {
	NetWorth             float64 `json:"net_worth"`
	MonthlySurplus       float64 `json:"monthly_surplus"`
	SavingsRate          float64 `json:"savings_rate"`
	AnnualIncome         float64 `json:"annual_income"`
	AnnualExpenses       float64 `json:"annual_expenses"`
	AnnualSurplus        float64 `json:"annual_surplus"`
	FINumber             float64 `json:"fi_number"`
	FIProgress           float64 `json:"fi_progress"` // net_worth / fi_number, may exceed 1
	YearsToFI            float64 `json:"years_to_fi"` // +Inf when unreachable
	LiquidMonths         float64 `json:"liquid_months"`
	DebtToAssetRatio     float64 `json:"debt_to_asset_ratio"`
	DebtToIncome         float64 `json:"debt_to_income"`
	InvestableTotal      float64 `json:"investable_total"`
	InvestmentAllocation float64 `json:"investment_allocation"` // investable share of total assets

	Snapshot FinancialSnapshot `json:"snapshot"`

	// Evidence maps fact name to the arithmetic that produced it, rendered
	// with the same formatter the narrator uses so quoted figures match.
	Evidence map[string]string `json:"evidence"`

	// Warnings carries data quality findings. Derivation never fails on
	// malformed numeric input; it coerces and records the coercion here.
	Warnings []string `json:"warnings"`
}

// factSetJSON mirrors FactSet with a pointer field for the one value that
// may be +Inf. encoding/json rejects infinities, so unreachable horizons
// encode as null and decode back to +Inf.
type factSetJSON struct {
	NetWorth             float64           `json:"net_worth"`
	MonthlySurplus       float64           `json:"monthly_surplus"`
	SavingsRate          float64           `json:"savings_rate"`
	AnnualIncome         float64           `json:"annual_income"`
	AnnualExpenses       float64           `json:"annual_expenses"`
	AnnualSurplus        float64           `json:"annual_surplus"`
	FINumber             float64           `json:"fi_number"`
	FIProgress           float64           `json:"fi_progress"`
	YearsToFI            *float64          `json:"years_to_fi"`
	LiquidMonths         float64           `json:"liquid_months"`
	DebtToAssetRatio     float64           `json:"debt_to_asset_ratio"`
	DebtToIncome         float64           `json:"debt_to_income"`
	InvestableTotal      float64           `json:"investable_total"`
	InvestmentAllocation float64           `json:"investment_allocation"`
	Snapshot             FinancialSnapshot `json:"snapshot"`
	Evidence             map[string]string `json:"evidence"`
	Warnings             []string          `json:"warnings"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// MarshalJSON encodes unreachable horizons (+Inf) as null.
func (f FactSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(factSetJSON{
		NetWorth:             f.NetWorth,
		MonthlySurplus:       f.MonthlySurplus,
		SavingsRate:          f.SavingsRate,
		AnnualIncome:         f.AnnualIncome,
		AnnualExpenses:       f.AnnualExpenses,
		AnnualSurplus:        f.AnnualSurplus,
		FINumber:             f.FINumber,
		FIProgress:           f.FIProgress,
		YearsToFI:            finiteOrNil(f.YearsToFI),
		LiquidMonths:         f.LiquidMonths,
		DebtToAssetRatio:     f.DebtToAssetRatio,
		DebtToIncome:         f.DebtToIncome,
		InvestableTotal:      f.InvestableTotal,
		InvestmentAllocation: f.InvestmentAllocation,
		Snapshot:             f.Snapshot,
		Evidence:             f.Evidence,
		Warnings:             f.Warnings,
	})
}

// UnmarshalJSON restores null horizons to +Inf.
func (f *FactSet) UnmarshalJSON(data []byte) error {
	var raw factSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.NetWorth = raw.NetWorth
	f.MonthlySurplus = raw.MonthlySurplus
	f.SavingsRate = raw.SavingsRate
	f.AnnualIncome = raw.AnnualIncome
	f.AnnualExpenses = raw.AnnualExpenses
	f.AnnualSurplus = raw.AnnualSurplus
	f.FINumber = raw.FINumber
	f.FIProgress = raw.FIProgress
	f.YearsToFI = math.Inf(1)
	if raw.YearsToFI != nil {
		f.YearsToFI = *raw.YearsToFI
	}
	f.LiquidMonths = raw.LiquidMonths
	f.DebtToAssetRatio = raw.DebtToAssetRatio
	f.DebtToIncome = raw.DebtToIncome
	f.InvestableTotal = raw.InvestableTotal
	f.InvestmentAllocation = raw.InvestmentAllocation
	f.Snapshot = raw.Snapshot
	f.Evidence = raw.Evidence
	f.Warnings = raw.Warnings
	return nil
}

// NumericFacts returns every quotable figure by name, including the snapshot
// echo. Infinite values are excluded; they have no quotable representation.
func (f *FactSet) NumericFacts() map[string]float64 {
	facts := map[string]float64{
		"net_worth":             f.NetWorth,
		"monthly_surplus":       f.MonthlySurplus,
		"savings_rate":          f.SavingsRate,
		"annual_income":         f.AnnualIncome,
		"annual_expenses":       f.AnnualExpenses,
		"annual_surplus":        f.AnnualSurplus,
		"fi_number":             f.FINumber,
		"fi_progress":           f.FIProgress,
		"liquid_months":         f.LiquidMonths,
		"debt_to_asset_ratio":   f.DebtToAssetRatio,
		"debt_to_income":        f.DebtToIncome,
		"investable_total":      f.InvestableTotal,
		"investment_allocation": f.InvestmentAllocation,
		"total_assets":          f.Snapshot.TotalAssets,
		"total_liabilities":     f.Snapshot.TotalLiabilities,
		"monthly_income":        f.Snapshot.MonthlyIncome,
		"monthly_expenses":      f.Snapshot.MonthlyExpenses,
		"liquid_assets":         f.Snapshot.LiquidAssets,
		"investment_total":      f.Snapshot.InvestmentTotal,
		"retirement_total":      f.Snapshot.RetirementTotal,
	}
	if !math.IsInf(f.YearsToFI, 0) && !math.IsNaN(f.YearsToFI) {
		facts["years_to_fi"] = f.YearsToFI
	}
	return facts
}

// =============================================================================
// CALCULATION REQUESTS - Routed User Intent
// =============================================================================

// CalcType identifies which deterministic calculation a user query maps to.
type CalcType string

const (
	// CalcNone means no calculation rule matched; the engine answers from
	// facts alone.
	CalcNone CalcType = ""

	CalcYearsToRetirementGoal    CalcType = "years_to_retirement_goal"
	CalcRetirementGoalAdjustment CalcType = "retirement_goal_adjustment"
	CalcGrowthRateSensitivity    CalcType = "growth_rate_sensitivity"
)

// CalcRequest is the routed form of a user query: which calculation to run
// and the parameters extracted from the text. Has* flags distinguish an
// extracted zero from an absent parameter.
type CalcRequest struct {
	Type            CalcType `json:"type"`
	TargetAmount    float64  `json:"target_amount,omitempty"`
	HasTargetAmount bool     `json:"has_target_amount"`
	GrowthRate      float64  `json:"growth_rate,omitempty"` // fraction, 0.06 means 6%
	HasGrowthRate   bool     `json:"has_growth_rate"`
	Matched         string   `json:"matched,omitempty"` // rule text that fired, for the audit trail
}

// IsCalc reports whether a calculation was routed.
func (r CalcRequest) IsCalc() bool {
	return r.Type != CalcNone
}

// =============================================================================
// CONFIDENCE - Grounding Assessment Levels
// =============================================================================

// Confidence grades how well an answer's figures trace back to the fact set.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"   // every figure grounded, no hedged assumptions
	ConfidenceMedium Confidence = "MEDIUM" // grounded, but hedged assumptions present
	ConfidenceLow    Confidence = "LOW"    // validation failed
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrNilSnapshot is returned when derivation receives no snapshot.
var ErrNilSnapshot = errors.New("financial snapshot is nil")

// ValidationError reports rejected input. These are caller errors, not
// data quality findings; malformed numerics inside an otherwise usable
// snapshot become warnings instead.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// DataQualityWarning records a non-fatal input coercion. It is carried in
// FactSet.Warnings as a string, never returned as an error.
type DataQualityWarning struct {
	Field  string
	Detail string
}

func (w DataQualityWarning) String() string {
	return fmt.Sprintf("data quality: %s: %s", w.Field, w.Detail)
}

// UnboundedError reports a projection that never converges within the
// maximum horizon. Solvers return it alongside a capped result so callers
// can still render the capped path.
type UnboundedError struct {
	Metric       string
	HorizonYears int
}

func (e *UnboundedError) Error() string {
	return fmt.Sprintf("%s does not converge within %d years", e.Metric, e.HorizonYears)
}

// GroundingError reports generated prose that failed figure validation.
type GroundingError struct {
	Violations []string
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("answer failed grounding: %d ungrounded figure(s)", len(e.Violations))
}
