package plan

import (
	"math"
	"math/rand/v2"
	"sort"

	"fincore/internal/config"
)

// ProjectionMethod names the generator behind the percentile bands, so
// consumers can tell which declared method produced them.
const ProjectionMethod = "monte_carlo_lognormal_pcg"

// Projection is the distribution of terminal portfolio values at the
// horizon. The generator is seeded from policy, never from the clock;
// identical inputs always produce identical bands.
type Projection struct {
	Method      string  `json:"method"`
	Paths       int     `json:"paths"`
	Seed        uint64  `json:"seed"`
	MeanReturn  float64 `json:"mean_return"`
	Volatility  float64 `json:"volatility"`
	SuccessRate float64 `json:"success_rate"` // share of paths ending at or above target
	P5          float64 `json:"p5"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
}

// project simulates annual lognormal growth steps with end-of-year
// contributions. The step is parameterized so the expected gross return
// equals 1+mean.
func project(start, monthlyContribution float64, years, risk int, target float64, policy *config.Policy) Projection {
	mean := policy.MeanForRisk(risk)
	vol := policy.VolatilityForRisk(risk)
	mc := policy.MonteCarlo

	p := Projection{
		Method:     ProjectionMethod,
		Paths:      mc.Paths,
		Seed:       mc.Seed,
		MeanReturn: mean,
		Volatility: vol,
	}

	if years <= 0 || mc.Paths <= 0 {
		p.P5, p.P50, p.P95 = round2(start), round2(start), round2(start)
		if start >= target {
			p.SuccessRate = 1
		}
		return p
	}

	// E[exp(mu + sigma*Z)] = 1+mean requires mu = ln(1+mean) - sigma^2/2.
	sigma := vol
	mu := math.Log(1+mean) - sigma*sigma/2

	annual := monthlyContribution * 12
	rng := rand.New(rand.NewPCG(mc.Seed, mc.Seed))

	terminals := make([]float64, mc.Paths)
	successes := 0
	for i := 0; i < mc.Paths; i++ {
		balance := start
		for y := 0; y < years; y++ {
			balance = balance*math.Exp(mu+sigma*rng.NormFloat64()) + annual
		}
		terminals[i] = balance
		if balance >= target {
			successes++
		}
	}
	sort.Float64s(terminals)

	p.SuccessRate = round4(float64(successes) / float64(mc.Paths))
	p.P5 = round2(percentile(terminals, 0.05))
	p.P50 = round2(percentile(terminals, 0.50))
	p.P95 = round2(percentile(terminals, 0.95))
	return p
}

// percentile is nearest-rank on an already sorted slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
