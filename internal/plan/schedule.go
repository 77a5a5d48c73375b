package plan

import (
	"math"
	"sort"

	"fincore/internal/config"
	"fincore/internal/types"
)

// Contribution routing order: emergency fund gap first, then tax-advantaged
// space up to the statutory caps, then taxable absorbs the rest.
const (
	AccountEmergencyFund = "emergency_fund"
	Account401K          = "401k"
	AccountHSA           = "hsa"
	AccountIRA           = "ira"
	AccountTaxable       = "taxable"
)

// ContributionLine routes part of the monthly surplus to one account.
type ContributionLine struct {
	Account    string  `json:"account"`
	Monthly    float64 `json:"monthly"`
	AnnualCap  float64 `json:"annual_cap,omitempty"`
	CapReached bool    `json:"cap_reached,omitempty"`
}

// ContributionSchedule is the full monthly routing. Lines appear in routing
// order and never total more than MonthlyCapacity.
type ContributionSchedule struct {
	MonthlyCapacity float64            `json:"monthly_capacity"`
	Lines           []ContributionLine `json:"lines,omitempty"`
	TotalRouted     float64            `json:"total_routed"`
	Unallocated     float64            `json:"unallocated,omitempty"`
}

func (s ContributionSchedule) line(account string) float64 {
	for _, l := range s.Lines {
		if l.Account == account {
			return l.Monthly
		}
	}
	return 0
}

func buildContributions(in *PlanInput, policy *config.Policy) ContributionSchedule {
	capacity := in.State.MonthlyIncome - in.State.MonthlyExpenses
	s := ContributionSchedule{MonthlyCapacity: round2(capacity)}
	if capacity <= 0 {
		return s
	}

	remaining := capacity
	routed := 0.0

	// Emergency fund gap first, spread over EmergencyTopUpMonths.
	months := in.Constraints.EmergencyFundMonths
	if months <= 0 {
		months = policy.Contribution.EmergencyFundMonths
	}
	if gap := months*in.State.MonthlyExpenses - in.State.LiquidAssets; gap > 0 {
		monthly := math.Min(remaining, gap/EmergencyTopUpMonths)
		s.Lines = append(s.Lines, ContributionLine{
			Account: AccountEmergencyFund,
			Monthly: round2(monthly),
		})
		remaining -= monthly
		routed += monthly
	}

	// Tax-advantaged space at statutory caps, pretax first.
	tiers := []struct {
		account string
		cap     float64
	}{
		{Account401K, policy.Contribution.Limit401K},
		{AccountHSA, policy.Contribution.LimitHSA},
		{AccountIRA, policy.Contribution.LimitIRA},
	}
	for _, tier := range tiers {
		if remaining <= 0 {
			break
		}
		capMonthly := tier.cap / 12
		monthly := math.Min(remaining, capMonthly)
		s.Lines = append(s.Lines, ContributionLine{
			Account:    tier.account,
			Monthly:    round2(monthly),
			AnnualCap:  tier.cap,
			CapReached: remaining >= capMonthly,
		})
		remaining -= monthly
		routed += monthly
	}

	if remaining > 0 {
		s.Lines = append(s.Lines, ContributionLine{
			Account: AccountTaxable,
			Monthly: round2(remaining),
		})
		routed += remaining
		remaining = 0
	}

	s.TotalRouted = round2(routed)
	s.Unallocated = round2(capacity - routed)
	return s
}

// DebtAction is one row of the avalanche schedule. Priority 1 carries the
// highest rate. Month counts are capped at the policy ceiling; Unbounded
// marks a balance still open at that ceiling even under the accelerated
// schedule.
type DebtAction struct {
	Priority       int     `json:"priority"`
	Name           string  `json:"name"`
	Balance        float64 `json:"balance"`
	AnnualRate     float64 `json:"annual_rate"`
	MinimumPayment float64 `json:"minimum_payment"`

	MonthsToPayoffMin int     `json:"months_to_payoff_minimum"`
	InterestMin       float64 `json:"interest_minimum"`

	MonthsToPayoffExtra int     `json:"months_to_payoff_accelerated"`
	InterestExtra       float64 `json:"interest_accelerated"`

	Unbounded bool `json:"unbounded,omitempty"`
}

// avalanche orders debts by rate and compares two schedules per debt:
// minimums only, and minimums plus the extra pool attacking the highest
// rate first. Paid-off minimums cascade into the pool.
func avalanche(debts []types.Liability, extra float64, maxMonths int) []DebtAction {
	actions := make([]DebtAction, 0, len(debts))
	for _, d := range debts {
		if d.Balance <= 0 {
			continue
		}
		actions = append(actions, DebtAction{
			Name:           d.Name,
			Balance:        round2(d.Balance),
			AnnualRate:     d.AnnualRate,
			MinimumPayment: round2(d.MinimumPayment),
		})
	}
	if len(actions) == 0 {
		return nil
	}

	// Highest rate first; ties break toward the larger balance.
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].AnnualRate != actions[j].AnnualRate {
			return actions[i].AnnualRate > actions[j].AnnualRate
		}
		return actions[i].Balance > actions[j].Balance
	})
	for i := range actions {
		actions[i].Priority = i + 1
	}

	for i := range actions {
		months, interest := amortize(actions[i].Balance, actions[i].AnnualRate, actions[i].MinimumPayment, maxMonths)
		actions[i].MonthsToPayoffMin = months
		actions[i].InterestMin = interest
	}

	cascade(actions, extra, maxMonths)
	return actions
}

// amortize runs a minimum-only payoff. The month count is capped at
// maxMonths; a payment that never covers accrual simply rides to the cap.
func amortize(balance, annualRate, payment float64, maxMonths int) (int, float64) {
	if balance <= 0 {
		return 0, 0
	}
	monthlyRate := annualRate / 12
	months := 0
	interest := 0.0
	for balance > 0.005 && months < maxMonths {
		accrued := balance * monthlyRate
		interest += accrued
		balance += accrued
		balance -= math.Min(payment, balance)
		months++
	}
	return months, round2(interest)
}

// cascade simulates all debts month by month. Every active debt receives
// its minimum; the extra pool, plus minimums freed by payoffs, attacks the
// remaining debts in priority order within the same month.
func cascade(actions []DebtAction, extra float64, maxMonths int) {
	type state struct {
		balance  float64
		interest float64
		paid     bool
	}
	states := make([]state, len(actions))
	active := len(actions)
	for i := range actions {
		states[i].balance = actions[i].Balance
	}

	freed := 0.0
	for month := 1; month <= maxMonths && active > 0; month++ {
		for i := range states {
			if states[i].paid {
				continue
			}
			accrued := states[i].balance * actions[i].AnnualRate / 12
			states[i].interest += accrued
			states[i].balance += accrued
		}

		// Minimums on every active debt; the unused slice of a minimum
		// against a nearly cleared balance rejoins the pool.
		pool := extra + freed
		for i := range states {
			if states[i].paid {
				continue
			}
			pay := math.Min(actions[i].MinimumPayment, states[i].balance)
			states[i].balance -= pay
			pool += actions[i].MinimumPayment - pay
		}

		for i := range states {
			if pool <= 0 {
				break
			}
			if states[i].paid || states[i].balance <= 0 {
				continue
			}
			pay := math.Min(pool, states[i].balance)
			states[i].balance -= pay
			pool -= pay
		}

		for i := range states {
			if states[i].paid || states[i].balance > 0.005 {
				continue
			}
			states[i].paid = true
			states[i].balance = 0
			actions[i].MonthsToPayoffExtra = month
			freed += actions[i].MinimumPayment
			active--
		}
	}

	for i := range states {
		actions[i].InterestExtra = round2(states[i].interest)
		if !states[i].paid {
			actions[i].MonthsToPayoffExtra = maxMonths
			actions[i].Unbounded = true
		}
	}
}
