package plan

import (
	"math"

	"fincore/internal/config"
)

// The seven allocation buckets. These names are part of the output contract.
const (
	BucketUSEquity    = "us_equity"
	BucketIntlEquity  = "intl_equity"
	BucketBonds       = "bonds"
	BucketREITs       = "reits"
	BucketCash        = "cash"
	BucketCommodities = "commodities"
	BucketCrypto      = "crypto"
)

// Buckets lists the buckets in canonical order. Trades iterate in this
// order so plan output is stable across runs.
var Buckets = []string{
	BucketUSEquity, BucketIntlEquity, BucketBonds, BucketREITs,
	BucketCash, BucketCommodities, BucketCrypto,
}

// equityBuckets take stress shocks; bonds, cash and commodities do not.
var equityBuckets = []string{BucketUSEquity, BucketIntlEquity, BucketREITs, BucketCrypto}

func knownBucket(name string) bool {
	for _, b := range Buckets {
		if b == name {
			return true
		}
	}
	return false
}

func equityShare(weights map[string]float64) float64 {
	share := 0.0
	for _, b := range equityBuckets {
		share += weights[b]
	}
	return share
}

// TargetAllocation maps risk tolerance and horizon to the seven bucket
// weights. The equity share interpolates linearly across the 1..10 risk
// scale inside the horizon band, so within a band more risk strictly means
// more equity. Crypto opens only at the policy risk gate and is capped.
// Cash absorbs the rounding residual, so the weights sum to exactly 1.
func TargetAllocation(risk int, horizonYears float64, policy *config.Policy) map[string]float64 {
	r := clampRisk(risk)
	band := policy.HorizonBandFor(horizonYears)

	equity := band.MinEquity + (band.MaxEquity-band.MinEquity)*float64(r-1)/9

	split := policy.Allocation.EquitySplit
	us := round4(equity * split.USEquity)
	intl := round4(equity * split.IntlEquity)
	reits := round4(equity * split.REITs)

	remainder := 1 - us - intl - reits

	crypto := 0.0
	if r >= policy.Allocation.CryptoMinRisk {
		crypto = round4(math.Min(policy.Allocation.CryptoMaxWeight, remainder))
	}
	rest := remainder - crypto

	reserve := policy.Allocation.ReserveSplit
	bonds := round4(rest * reserve.Bonds)
	commodities := round4(rest * reserve.Commodities)
	cash := round4(1 - us - intl - reits - crypto - bonds - commodities)

	return map[string]float64{
		BucketUSEquity:    us,
		BucketIntlEquity:  intl,
		BucketBonds:       bonds,
		BucketREITs:       reits,
		BucketCash:        cash,
		BucketCommodities: commodities,
		BucketCrypto:      crypto,
	}
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

// Trade is one rebalancing action: move Amount dollars into or out of a
// bucket to close its drift from target.
type Trade struct {
	Bucket       string  `json:"bucket"`
	Direction    string  `json:"direction"` // "buy" or "sell"
	Amount       float64 `json:"amount"`
	CurrentShare float64 `json:"current_share"`
	TargetShare  float64 `json:"target_share"`
	Drift        float64 `json:"drift"` // target - current, signed
}

// RebalancingTrades emits one trade per bucket whose drift from target
// exceeds the threshold, in canonical bucket order. Amounts apply the
// drift to the investable base. Buckets inside the threshold are left
// alone, so small residual drift is expected after executing the trades.
func RebalancingTrades(current, target map[string]float64, investable, threshold float64) []Trade {
	if investable <= 0 {
		return nil
	}

	var trades []Trade
	for _, bucket := range Buckets {
		drift := target[bucket] - current[bucket]
		if math.Abs(drift) <= threshold {
			continue
		}
		direction := "buy"
		if drift < 0 {
			direction = "sell"
		}
		trades = append(trades, Trade{
			Bucket:       bucket,
			Direction:    direction,
			Amount:       round2(math.Abs(drift) * investable),
			CurrentShare: round4(current[bucket]),
			TargetShare:  target[bucket],
			Drift:        round4(drift),
		})
	}
	return trades
}
