package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPolicyValidates(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy should validate: %v", err)
	}
}

func TestCapForAge(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		age     int
		wantCap float64
	}{
		{age: 25, wantCap: 0.07},
		{age: 49, wantCap: 0.07},
		{age: 50, wantCap: 0.06},
		{age: 59, wantCap: 0.06},
		{age: 60, wantCap: 0.05},
		{age: 75, wantCap: 0.05},
		{age: 0, wantCap: 0.07},
	}

	for _, tt := range tests {
		got, band := policy.CapForAge(tt.age)
		if got != tt.wantCap {
			t.Errorf("CapForAge(%d) = %.2f, want %.2f", tt.age, got, tt.wantCap)
		}
		if got != band.Cap {
			t.Errorf("CapForAge(%d) band mismatch: cap %.2f, band %.2f", tt.age, got, band.Cap)
		}
	}
}

func TestHorizonBandFor(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		years    float64
		wantName string
	}{
		{years: 1, wantName: "short"},
		{years: 5, wantName: "short"},
		{years: 5.5, wantName: "medium"},
		{years: 15, wantName: "medium"},
		{years: 16, wantName: "long"},
		{years: 45, wantName: "long"},
	}

	for _, tt := range tests {
		if got := policy.HorizonBandFor(tt.years); got.Name != tt.wantName {
			t.Errorf("HorizonBandFor(%.1f) = %q, want %q", tt.years, got.Name, tt.wantName)
		}
	}
}

func TestRiskAdjustments(t *testing.T) {
	policy := DefaultPolicy()

	if got := policy.MeanForRisk(5); got != policy.MonteCarlo.Mean {
		t.Errorf("MeanForRisk(5) = %.4f, want base mean %.4f", got, policy.MonteCarlo.Mean)
	}

	// Mean and volatility both rise with risk tolerance.
	for risk := 2; risk <= 10; risk++ {
		if policy.MeanForRisk(risk) <= policy.MeanForRisk(risk-1) {
			t.Errorf("MeanForRisk not increasing at risk %d", risk)
		}
		if policy.VolatilityForRisk(risk) <= policy.VolatilityForRisk(risk-1) {
			t.Errorf("VolatilityForRisk not increasing at risk %d", risk)
		}
	}

	// Out-of-range risk clamps rather than extrapolating.
	if policy.MeanForRisk(0) != policy.MeanForRisk(1) {
		t.Error("MeanForRisk(0) should clamp to risk 1")
	}
	if policy.MeanForRisk(15) != policy.MeanForRisk(10) {
		t.Error("MeanForRisk(15) should clamp to risk 10")
	}
}

func TestVolatilityFloor(t *testing.T) {
	policy := DefaultPolicy()
	policy.MonteCarlo.Volatility = 0.03

	if got := policy.VolatilityForRisk(1); got != 0.02 {
		t.Errorf("VolatilityForRisk(1) = %.4f, want floor 0.02", got)
	}
}

func TestLoadPolicyMissingReturnsDefaults(t *testing.T) {
	policy, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if policy.Contribution.Limit401K != DefaultLimit401K {
		t.Errorf("Limit401K = %.0f, want %.0f", policy.Contribution.Limit401K, DefaultLimit401K)
	}

	policy, err = LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy(\"\") error = %v", err)
	}
	if policy.LimitsYear != DefaultLimitsYear {
		t.Errorf("LimitsYear = %d, want %d", policy.LimitsYear, DefaultLimitsYear)
	}
}

func TestLoadPolicyPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `monte_carlo:
  paths: 250
  seed: 7
rebalance:
  drift_threshold: 0.03
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}

	if policy.MonteCarlo.Paths != 250 {
		t.Errorf("MonteCarlo.Paths = %d, want 250", policy.MonteCarlo.Paths)
	}
	if policy.MonteCarlo.Seed != 7 {
		t.Errorf("MonteCarlo.Seed = %d, want 7", policy.MonteCarlo.Seed)
	}
	if policy.Rebalance.DriftThreshold != 0.03 {
		t.Errorf("DriftThreshold = %.2f, want 0.03", policy.Rebalance.DriftThreshold)
	}
	// Untouched sections keep their defaults.
	if policy.MonteCarlo.Mean != 0.06 {
		t.Errorf("MonteCarlo.Mean = %.4f, want default 0.06", policy.MonteCarlo.Mean)
	}
	if len(policy.RateCaps) != 3 {
		t.Errorf("RateCaps length = %d, want 3", len(policy.RateCaps))
	}
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `stress:
  shocks: [-0.30, -0.10, -0.50]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("LoadPolicy() = nil error, want validation failure for out-of-order shocks")
	}
}

func TestPolicyValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{
			name:    "empty rate caps",
			mutate:  func(p *Policy) { p.RateCaps = nil },
			wantErr: "rate_caps",
		},
		{
			name:    "rate caps not descending",
			mutate:  func(p *Policy) { p.RateCaps[0].MinAge = 10 },
			wantErr: "descending",
		},
		{
			name:    "missing base rate band",
			mutate:  func(p *Policy) { p.RateCaps = p.RateCaps[:2] },
			wantErr: "min_age 0",
		},
		{
			name:    "zero contribution limit",
			mutate:  func(p *Policy) { p.Contribution.LimitIRA = 0 },
			wantErr: "contribution",
		},
		{
			name:    "zero monte carlo paths",
			mutate:  func(p *Policy) { p.MonteCarlo.Paths = 0 },
			wantErr: "paths",
		},
		{
			name:    "equity split off by a margin",
			mutate:  func(p *Policy) { p.Allocation.EquitySplit.USEquity = 0.70 },
			wantErr: "equity_split",
		},
		{
			name:    "reserve split negative component",
			mutate:  func(p *Policy) { p.Allocation.ReserveSplit.Cash = -0.1 },
			wantErr: "reserve_split",
		},
		{
			name:    "final horizon not open ended",
			mutate:  func(p *Policy) { p.Allocation.Horizons[2].MaxYears = 40 },
			wantErr: "open-ended",
		},
		{
			name:    "horizon bands out of order",
			mutate:  func(p *Policy) { p.Allocation.Horizons[1].MaxYears = 3 },
			wantErr: "ascending",
		},
		{
			name:    "drift threshold too large",
			mutate:  func(p *Policy) { p.Rebalance.DriftThreshold = 1.5 },
			wantErr: "drift_threshold",
		},
		{
			name:    "positive stress shock",
			mutate:  func(p *Policy) { p.Stress.Shocks[0] = 0.10 },
			wantErr: "shock",
		},
		{
			name:    "shocks not deepening",
			mutate:  func(p *Policy) { p.Stress.Shocks = []float64{-0.30, -0.10} },
			wantErr: "monotonically",
		},
		{
			name:    "zero debt months",
			mutate:  func(p *Policy) { p.Debt.MaxMonths = 0 },
			wantErr: "max_months",
		},
		{
			name:    "zero horizon years",
			mutate:  func(p *Policy) { p.Solver.MaxHorizonYears = 0 },
			wantErr: "max_horizon_years",
		},
		{
			name:    "aggregate tolerance below base",
			mutate:  func(p *Policy) { p.Grounding.AggregateTolerance = 0.001 },
			wantErr: "aggregate_tolerance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			tt.mutate(policy)

			err := policy.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestPolicySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules", "policy.yaml")

	policy := DefaultPolicy()
	policy.MonteCarlo.Seed = 99
	policy.Grounding.MaxUngrounded = 4

	if err := policy.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}

	if loaded.MonteCarlo.Seed != 99 {
		t.Errorf("Seed = %d, want 99", loaded.MonteCarlo.Seed)
	}
	if loaded.Grounding.MaxUngrounded != 4 {
		t.Errorf("MaxUngrounded = %d, want 4", loaded.Grounding.MaxUngrounded)
	}
	if math.Abs(loaded.Allocation.EquitySplit.USEquity-0.65) > 1e-9 {
		t.Errorf("USEquity = %.4f, want 0.65", loaded.Allocation.EquitySplit.USEquity)
	}
}
