package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fincore/internal/engine"
	"fincore/internal/money"
	"fincore/internal/plan"
	"fincore/internal/types"
)

var (
	planSnapshotPath string
	planTarget       float64
	planHorizon      int
	planPolicyPath   string
)

// defaultRiskTolerance stands in when the snapshot omits one; 5 is the
// midpoint of the 1..10 scale.
const defaultRiskTolerance = 5

var planCmd = &cobra.Command{
	Use:   "plan --snapshot s.json --target 3500000 --horizon 20",
	Short: "Build a deterministic financial plan",
	Long: `Builds the full plan for a snapshot: gap analysis with Monte Carlo
bands, target allocation, rebalancing trades, contribution schedule, debt
avalanche, stress tests, and the tax strategy. Identical input always
produces byte-identical output.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planSnapshotPath, "snapshot", "", "Snapshot JSON file (required)")
	planCmd.Flags().Float64Var(&planTarget, "target", 0, "Target net worth (required)")
	planCmd.Flags().IntVar(&planHorizon, "horizon", 20, "Horizon in years")
	planCmd.Flags().StringVar(&planPolicyPath, "policy", "", "Policy YAML (default from config)")
	_ = planCmd.MarkFlagRequired("snapshot")
	_ = planCmd.MarkFlagRequired("target")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := loadSnapshot(planSnapshotPath)
	if err != nil {
		return err
	}

	if planPolicyPath != "" {
		cfg.PolicyPath = planPolicyPath
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	in := planInputFromSnapshot(snap, planTarget, planHorizon)
	logger.Debug("Building plan",
		zap.Float64("target", planTarget),
		zap.Int("horizon", planHorizon),
		zap.Int("risk", in.Goal.RiskTolerance))

	out, err := eng.Plan(ctx, in)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(out)
	}
	renderPlan(out)
	return nil
}

// planInputFromSnapshot assembles a PlanInput from snapshot aggregates and
// the command flags. The current allocation comes from per-account detail
// when present; otherwise a neutral 60/30/10 split stands in, which only
// affects the rebalancing trades, never the target allocation.
func planInputFromSnapshot(snap *types.FinancialSnapshot, target float64, horizon int) *plan.PlanInput {
	risk := snap.RiskTolerance
	if risk < 1 || risk > 10 {
		risk = defaultRiskTolerance
	}

	return &plan.PlanInput{
		State: plan.CurrentState{
			NetWorth:         snap.TotalAssets - snap.TotalLiabilities,
			InvestableAssets: snap.InvestmentTotal + snap.RetirementTotal,
			LiquidAssets:     snap.LiquidAssets,
			MonthlyIncome:    snap.MonthlyIncome,
			MonthlyExpenses:  snap.MonthlyExpenses,
			Age:              snap.Age,
			Allocation:       currentAllocation(snap),
			Liabilities:      snap.Liabilities,
			Accounts:         snap.Accounts,
		},
		Goal: plan.Goal{
			TargetNetWorth: target,
			RetirementAge:  snap.Age + horizon,
			AnnualSpending: snap.MonthlyExpenses * 12,
			RiskTolerance:  risk,
		},
		// Zero constraints defer to policy defaults; tax bracket 0 leaves
		// the tax strategy out of the plan.
	}
}

// currentAllocation reduces per-account detail to bucket weights: equity
// shares to us_equity, checking/savings remainders to cash, everything else
// to bonds.
func currentAllocation(snap *types.FinancialSnapshot) map[string]float64 {
	var equity, cash, other float64
	for _, a := range snap.Accounts {
		equity += a.Balance * a.EquityShare
		rest := a.Balance * (1 - a.EquityShare)
		switch strings.ToLower(a.Kind) {
		case "checking", "savings":
			cash += rest
		default:
			other += rest
		}
	}

	total := equity + cash + other
	if total <= 0 {
		return map[string]float64{
			plan.BucketUSEquity: 0.60,
			plan.BucketBonds:    0.30,
			plan.BucketCash:     0.10,
		}
	}
	return map[string]float64{
		plan.BucketUSEquity: equity / total,
		plan.BucketCash:     cash / total,
		plan.BucketBonds:    other / total,
	}
}

func renderPlan(out *plan.PlanOutput) {
	gap := out.Gap
	fmt.Println("gap analysis:")
	fmt.Printf("  investable %s, target %s, gap %s over %d years\n",
		money.FormatUSD(gap.CurrentInvestable), money.FormatUSD(gap.TargetNetWorth),
		money.FormatUSD(gap.Gap), gap.HorizonYears)
	fmt.Printf("  required monthly %s against capacity %s\n",
		money.FormatUSD(gap.RequiredMonthly), money.FormatUSD(gap.MonthlyCapacity))
	if gap.CapacityShortfall > 0 {
		fmt.Printf("  capacity shortfall %s\n", money.FormatUSD(gap.CapacityShortfall))
	}
	fmt.Printf("  rate %s (%s)\n", money.FormatPercent(gap.RateUsed), gap.RateRationale)
	p := gap.Projection
	fmt.Printf("  projection (%s, %d paths): success %s, p5 %s, p50 %s, p95 %s\n",
		p.Method, p.Paths, money.FormatPercent(p.SuccessRate),
		money.FormatUSD(p.P5), money.FormatUSD(p.P50), money.FormatUSD(p.P95))

	fmt.Println("target allocation:")
	for _, bucket := range plan.Buckets {
		if w := out.Target[bucket]; w > 0 {
			fmt.Printf("  %-12s %s\n", bucket, money.FormatPercent(w))
		}
	}

	if len(out.Trades) > 0 {
		fmt.Println("rebalancing trades:")
		for _, tr := range out.Trades {
			fmt.Printf("  %-4s %-12s %s\n", tr.Direction, tr.Bucket, money.FormatUSD(tr.Amount))
		}
	}

	c := out.Contributions
	fmt.Println("monthly contributions:")
	for _, line := range c.Lines {
		capNote := ""
		if line.CapReached {
			capNote = fmt.Sprintf(" (annual cap %s reached)", money.FormatUSD(line.AnnualCap))
		}
		fmt.Printf("  %-16s %s%s\n", line.Account, money.FormatUSD(line.Monthly), capNote)
	}
	fmt.Printf("  routed %s of %s capacity\n",
		money.FormatUSD(c.TotalRouted), money.FormatUSD(c.MonthlyCapacity))

	if len(out.Debts) > 0 {
		fmt.Println("debt avalanche:")
		for _, d := range out.Debts {
			if d.Unbounded {
				fmt.Printf("  #%d %s at %s: does not amortize at the minimum payment\n",
					d.Priority, d.Name, money.FormatPercent(d.AnnualRate))
				continue
			}
			fmt.Printf("  #%d %s at %s: %d months at minimum (%s interest), %d accelerated (%s)\n",
				d.Priority, d.Name, money.FormatPercent(d.AnnualRate),
				d.MonthsToPayoffMin, money.FormatUSD(d.InterestMin),
				d.MonthsToPayoffExtra, money.FormatUSD(d.InterestExtra))
		}
	}

	if len(out.Stress) > 0 {
		fmt.Println("stress tests:")
		for _, s := range out.Stress {
			recovery := fmt.Sprintf("recovery %.1f years", s.RecoveryYears)
			if s.Unbounded {
				recovery = "no recovery within the horizon"
			}
			fmt.Printf("  equity %s: portfolio %s, loss %s, %s\n",
				money.FormatPercent(s.Shock), money.FormatUSD(s.PortfolioValue),
				money.FormatUSD(s.Loss), recovery)
		}
	}

	if out.Tax != nil {
		fmt.Println("tax strategy:")
		fmt.Printf("  pretax room %s/yr, estimated deferral %s at the %s bracket\n",
			money.FormatUSD(out.Tax.PretaxRoomAnnual),
			money.FormatUSD(out.Tax.EstimatedDeferral),
			money.FormatPercent(out.Tax.MarginalBracket))
		fmt.Printf("  advantaged share %s, taxable share %s\n",
			money.FormatPercent(out.Tax.AdvantagedShare),
			money.FormatPercent(out.Tax.TaxableShare))
	}

	m := out.Metrics
	fmt.Println("metrics:")
	fmt.Printf("  savings rate %s, debt/income %s, emergency fund %.1f months, equity %s\n",
		money.FormatPercent(m.SavingsRate), money.FormatPercent(m.DebtToIncome),
		m.EmergencyMonths, money.FormatPercent(m.EquityShare))
}
