package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Statutory and model defaults. Every figure the plan engine treats as a
// rule lives here by name, never as an inline literal, so a policy file can
// override it and an auditor can find it.
const (
	// Statutory contribution limits (single filer, under 50).
	DefaultLimitsYear = 2025
	DefaultLimit401K  = 23_500.0
	DefaultLimitIRA   = 7_000.0
	DefaultLimitHSA   = 4_300.0

	// Monte Carlo projection.
	DefaultMonteCarloPaths = 1000
	DefaultMonteCarloSeed  = 42

	// Solver bounds.
	DefaultMaxHorizonYears  = 50
	DefaultMinPlausibleGoal = 1_000.0
	DefaultMaxPlausibleRate = 0.50

	// Grounding tolerances.
	DefaultBaseTolerance      = 0.01
	DefaultAggregateTolerance = 0.05
	DefaultAggregateFloor     = 100_000.0
	DefaultMaxUngrounded      = 10

	// Plan model.
	DefaultRebalanceDrift      = 0.05
	DefaultDebtMaxMonths       = 600
	DefaultEmergencyFundMonths = 6.0
)

// Policy is the numeric rulebook for all deterministic calculations. It is
// loadable from YAML; absent files and absent fields fall back to the named
// defaults above. The engine treats a loaded Policy as immutable.
type Policy struct {
	LimitsYear   int                `yaml:"limits_year"`
	RateCaps     []RateCapBand      `yaml:"rate_caps"`
	Contribution ContributionPolicy `yaml:"contribution"`
	MonteCarlo   MonteCarloPolicy   `yaml:"monte_carlo"`
	Allocation   AllocationPolicy   `yaml:"allocation"`
	Rebalance    RebalancePolicy    `yaml:"rebalance"`
	Stress       StressPolicy       `yaml:"stress"`
	Debt         DebtPolicy         `yaml:"debt"`
	Solver       SolverPolicy       `yaml:"solver"`
	Grounding    GroundingPolicy    `yaml:"grounding"`
}

// RateCapBand caps assumed growth rates by age. Bands are ordered by MinAge
// descending; the first band whose MinAge the user has reached applies.
type RateCapBand struct {
	MinAge int     `yaml:"min_age"`
	Cap    float64 `yaml:"cap"`
}

// ContributionPolicy carries statutory annual limits for tax-advantaged
// accounts plus the emergency fund floor used by the contribution schedule.
type ContributionPolicy struct {
	Limit401K           float64 `yaml:"limit_401k"`
	LimitIRA            float64 `yaml:"limit_ira"`
	LimitHSA            float64 `yaml:"limit_hsa"`
	EmergencyFundMonths float64 `yaml:"emergency_fund_months"`
}

// MonteCarloPolicy configures the gap-analysis projection. The seed is part
// of policy: identical inputs must produce identical percentile bands.
type MonteCarloPolicy struct {
	Paths        int     `yaml:"paths"`
	Seed         uint64  `yaml:"seed"`
	Mean         float64 `yaml:"mean"`           // annual return at risk tolerance 5
	Volatility   float64 `yaml:"volatility"`     // annual stddev at risk tolerance 5
	RiskMeanStep float64 `yaml:"risk_mean_step"` // mean shift per risk point from 5
	RiskVolStep  float64 `yaml:"risk_vol_step"`  // volatility shift per risk point from 5
}

// HorizonBand maps an investment horizon to an equity range. MaxYears 0
// marks the open-ended final band.
type HorizonBand struct {
	Name      string  `yaml:"name"`
	MaxYears  int     `yaml:"max_years"`
	MinEquity float64 `yaml:"min_equity"`
	MaxEquity float64 `yaml:"max_equity"`
}

// EquitySplit divides the equity share across equity-bearing buckets.
// Components must sum to 1.
type EquitySplit struct {
	USEquity   float64 `yaml:"us_equity"`
	IntlEquity float64 `yaml:"intl_equity"`
	REITs      float64 `yaml:"reits"`
}

// ReserveSplit divides the non-equity share. Components must sum to 1;
// the cash component is realized as the residual after rounding so bucket
// weights always total exactly 1.
type ReserveSplit struct {
	Bonds       float64 `yaml:"bonds"`
	Cash        float64 `yaml:"cash"`
	Commodities float64 `yaml:"commodities"`
}

// AllocationPolicy parameterizes the seven-bucket target allocation model.
type AllocationPolicy struct {
	Horizons        []HorizonBand `yaml:"horizons"`
	EquitySplit     EquitySplit   `yaml:"equity_split"`
	ReserveSplit    ReserveSplit  `yaml:"reserve_split"`
	CryptoMinRisk   int           `yaml:"crypto_min_risk"`
	CryptoMaxWeight float64       `yaml:"crypto_max_weight"`
}

// RebalancePolicy sets the drift beyond which trades are emitted.
type RebalancePolicy struct {
	DriftThreshold float64 `yaml:"drift_threshold"`
}

// StressPolicy lists equity shocks to apply, ordered shallow to deep.
type StressPolicy struct {
	Shocks []float64 `yaml:"shocks"`
}

// DebtPolicy bounds debt amortization loops.
type DebtPolicy struct {
	MaxMonths int `yaml:"max_months"`
}

// SolverPolicy bounds iterative projections and parameter extraction.
type SolverPolicy struct {
	MaxHorizonYears  int     `yaml:"max_horizon_years"`
	MinPlausibleGoal float64 `yaml:"min_plausible_goal"`
	MaxPlausibleRate float64 `yaml:"max_plausible_rate"`
}

// GroundingPolicy sets figure-matching tolerances for answer validation.
type GroundingPolicy struct {
	BaseTolerance      float64 `yaml:"base_tolerance"`
	AggregateTolerance float64 `yaml:"aggregate_tolerance"`
	AggregateFloor     float64 `yaml:"aggregate_floor"`
	MaxUngrounded      int     `yaml:"max_ungrounded"`
}

// DefaultPolicy returns the built-in rulebook.
func DefaultPolicy() *Policy {
	return &Policy{
		LimitsYear: DefaultLimitsYear,

		RateCaps: []RateCapBand{
			{MinAge: 60, Cap: 0.05},
			{MinAge: 50, Cap: 0.06},
			{MinAge: 0, Cap: 0.07},
		},

		Contribution: ContributionPolicy{
			Limit401K:           DefaultLimit401K,
			LimitIRA:            DefaultLimitIRA,
			LimitHSA:            DefaultLimitHSA,
			EmergencyFundMonths: DefaultEmergencyFundMonths,
		},

		MonteCarlo: MonteCarloPolicy{
			Paths:        DefaultMonteCarloPaths,
			Seed:         DefaultMonteCarloSeed,
			Mean:         0.06,
			Volatility:   0.12,
			RiskMeanStep: 0.004,
			RiskVolStep:  0.01,
		},

		Allocation: AllocationPolicy{
			Horizons: []HorizonBand{
				{Name: "short", MaxYears: 5, MinEquity: 0.25, MaxEquity: 0.55},
				{Name: "medium", MaxYears: 15, MinEquity: 0.40, MaxEquity: 0.75},
				{Name: "long", MaxYears: 0, MinEquity: 0.50, MaxEquity: 0.90},
			},
			EquitySplit: EquitySplit{
				USEquity:   0.65,
				IntlEquity: 0.25,
				REITs:      0.10,
			},
			ReserveSplit: ReserveSplit{
				Bonds:       0.70,
				Cash:        0.20,
				Commodities: 0.10,
			},
			CryptoMinRisk:   8,
			CryptoMaxWeight: 0.05,
		},

		Rebalance: RebalancePolicy{
			DriftThreshold: DefaultRebalanceDrift,
		},

		Stress: StressPolicy{
			Shocks: []float64{-0.10, -0.30, -0.50},
		},

		Debt: DebtPolicy{
			MaxMonths: DefaultDebtMaxMonths,
		},

		Solver: SolverPolicy{
			MaxHorizonYears:  DefaultMaxHorizonYears,
			MinPlausibleGoal: DefaultMinPlausibleGoal,
			MaxPlausibleRate: DefaultMaxPlausibleRate,
		},

		Grounding: GroundingPolicy{
			BaseTolerance:      DefaultBaseTolerance,
			AggregateTolerance: DefaultAggregateTolerance,
			AggregateFloor:     DefaultAggregateFloor,
			MaxUngrounded:      DefaultMaxUngrounded,
		},
	}
}

// LoadPolicy loads a policy file over the defaults. An empty path or a
// missing file returns the built-in rulebook.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()

	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}

	return policy, nil
}

// Save writes the policy to a YAML file.
func (p *Policy) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	return nil
}

// CapForAge returns the growth rate ceiling for a user's age and the band
// that produced it.
func (p *Policy) CapForAge(age int) (float64, RateCapBand) {
	for _, band := range p.RateCaps {
		if age >= band.MinAge {
			return band.Cap, band
		}
	}
	// Validation guarantees a MinAge 0 band; this is unreachable on a
	// validated policy but keeps the zero value safe.
	last := p.RateCaps[len(p.RateCaps)-1]
	return last.Cap, last
}

// HorizonBandFor returns the equity band for an investment horizon.
func (p *Policy) HorizonBandFor(years float64) HorizonBand {
	for _, band := range p.Allocation.Horizons {
		if band.MaxYears == 0 {
			return band
		}
		if years <= float64(band.MaxYears) {
			return band
		}
	}
	return p.Allocation.Horizons[len(p.Allocation.Horizons)-1]
}

// MeanForRisk returns the Monte Carlo mean return for a risk tolerance.
func (p *Policy) MeanForRisk(risk int) float64 {
	return p.MonteCarlo.Mean + float64(clampRisk(risk)-5)*p.MonteCarlo.RiskMeanStep
}

// VolatilityForRisk returns the Monte Carlo volatility for a risk tolerance.
func (p *Policy) VolatilityForRisk(risk int) float64 {
	vol := p.MonteCarlo.Volatility + float64(clampRisk(risk)-5)*p.MonteCarlo.RiskVolStep
	if vol < 0.02 {
		vol = 0.02
	}
	return vol
}

func clampRisk(risk int) int {
	if risk < 1 {
		return 1
	}
	if risk > 10 {
		return 10
	}
	return risk
}

// Validate checks internal consistency of the rulebook.
func (p *Policy) Validate() error {
	if p.LimitsYear < 2000 {
		return fmt.Errorf("limits_year %d is not plausible", p.LimitsYear)
	}

	if len(p.RateCaps) == 0 {
		return fmt.Errorf("rate_caps must not be empty")
	}
	for i, band := range p.RateCaps {
		if band.Cap <= 0 || band.Cap >= 1 {
			return fmt.Errorf("rate cap %d: cap %.4f out of range (0, 1)", i, band.Cap)
		}
		if i > 0 && band.MinAge >= p.RateCaps[i-1].MinAge {
			return fmt.Errorf("rate_caps must be ordered by min_age descending")
		}
	}
	if p.RateCaps[len(p.RateCaps)-1].MinAge != 0 {
		return fmt.Errorf("rate_caps must end with a min_age 0 band")
	}

	if p.Contribution.Limit401K <= 0 || p.Contribution.LimitIRA <= 0 || p.Contribution.LimitHSA <= 0 {
		return fmt.Errorf("contribution limits must be positive")
	}
	if p.Contribution.EmergencyFundMonths < 0 {
		return fmt.Errorf("emergency_fund_months must not be negative")
	}

	if p.MonteCarlo.Paths <= 0 {
		return fmt.Errorf("monte_carlo paths must be positive")
	}
	if p.MonteCarlo.Volatility < 0 {
		return fmt.Errorf("monte_carlo volatility must not be negative")
	}
	if p.MonteCarlo.Mean <= -1 {
		return fmt.Errorf("monte_carlo mean %.4f is not plausible", p.MonteCarlo.Mean)
	}

	if len(p.Allocation.Horizons) == 0 {
		return fmt.Errorf("allocation horizons must not be empty")
	}
	for i, band := range p.Allocation.Horizons {
		if band.MinEquity < 0 || band.MaxEquity > 1 || band.MinEquity > band.MaxEquity {
			return fmt.Errorf("horizon band %q: equity range [%.2f, %.2f] invalid", band.Name, band.MinEquity, band.MaxEquity)
		}
		isLast := i == len(p.Allocation.Horizons)-1
		if isLast {
			if band.MaxYears != 0 {
				return fmt.Errorf("final horizon band must be open-ended (max_years 0)")
			}
		} else {
			if band.MaxYears <= 0 {
				return fmt.Errorf("horizon band %q: max_years must be positive", band.Name)
			}
			if i > 0 && band.MaxYears <= p.Allocation.Horizons[i-1].MaxYears {
				return fmt.Errorf("horizon bands must have ascending max_years")
			}
		}
	}

	eq := p.Allocation.EquitySplit
	if err := checkSplit("equity_split", eq.USEquity, eq.IntlEquity, eq.REITs); err != nil {
		return err
	}
	rs := p.Allocation.ReserveSplit
	if err := checkSplit("reserve_split", rs.Bonds, rs.Cash, rs.Commodities); err != nil {
		return err
	}

	if p.Allocation.CryptoMinRisk < 1 || p.Allocation.CryptoMinRisk > 10 {
		return fmt.Errorf("crypto_min_risk must be within 1..10")
	}
	if p.Allocation.CryptoMaxWeight < 0 || p.Allocation.CryptoMaxWeight > 0.2 {
		return fmt.Errorf("crypto_max_weight %.4f out of range [0, 0.2]", p.Allocation.CryptoMaxWeight)
	}

	if p.Rebalance.DriftThreshold <= 0 || p.Rebalance.DriftThreshold >= 1 {
		return fmt.Errorf("rebalance drift_threshold must be within (0, 1)")
	}

	if len(p.Stress.Shocks) == 0 {
		return fmt.Errorf("stress shocks must not be empty")
	}
	for i, shock := range p.Stress.Shocks {
		if shock >= 0 || shock <= -1 {
			return fmt.Errorf("stress shock %.2f out of range (-1, 0)", shock)
		}
		if i > 0 && shock >= p.Stress.Shocks[i-1] {
			return fmt.Errorf("stress shocks must deepen monotonically")
		}
	}

	if p.Debt.MaxMonths <= 0 {
		return fmt.Errorf("debt max_months must be positive")
	}

	if p.Solver.MaxHorizonYears <= 0 {
		return fmt.Errorf("solver max_horizon_years must be positive")
	}
	if p.Solver.MinPlausibleGoal < 0 {
		return fmt.Errorf("solver min_plausible_goal must not be negative")
	}
	if p.Solver.MaxPlausibleRate <= 0 || p.Solver.MaxPlausibleRate > 1 {
		return fmt.Errorf("solver max_plausible_rate must be within (0, 1]")
	}

	if p.Grounding.BaseTolerance <= 0 {
		return fmt.Errorf("grounding base_tolerance must be positive")
	}
	if p.Grounding.AggregateTolerance < p.Grounding.BaseTolerance {
		return fmt.Errorf("grounding aggregate_tolerance must not be below base_tolerance")
	}
	if p.Grounding.MaxUngrounded < 0 {
		return fmt.Errorf("grounding max_ungrounded must not be negative")
	}

	return nil
}

func checkSplit(name string, parts ...float64) error {
	sum := 0.0
	for _, part := range parts {
		if part < 0 {
			return fmt.Errorf("%s components must not be negative", name)
		}
		sum += part
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%s must sum to 1, got %.6f", name, sum)
	}
	return nil
}
