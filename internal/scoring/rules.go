package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ruleScore evaluates the built-in tiered rule set. Each rule family
// contributes at most one tier; the summed score is clamped to [0,1].
// Reasons are appended in fixed evaluation order so identical inputs
// always yield identical reason lists.
func ruleScore(fv domain.FeatureVector) (float64, []string) {
	var score float64
	reasons := []string{}

	// Amount tiers
	switch {
	case fv.Amount > 10000:
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("Very large transaction: $%s", formatAmount(fv.Amount)))
	case fv.Amount > 5000:
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("Large transaction: $%s", formatAmount(fv.Amount)))
	case fv.Amount > 1000:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("Above average amount: $%s", formatAmount(fv.Amount)))
	}

	// Velocity tiers
	vel := int(fv.Velocity)
	switch {
	case vel >= 20:
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("Very high velocity: %d txns/hour", vel))
	case vel >= 10:
		score += 0.35
		reasons = append(reasons, fmt.Sprintf("High velocity: %d txns/hour", vel))
	case vel >= 5:
		score += 0.20
		reasons = append(reasons, fmt.Sprintf("Moderate velocity: %d txns/hour", vel))
	case vel >= 3:
		score += 0.10
		reasons = append(reasons, fmt.Sprintf("Elevated velocity: %d txns/hour", vel))
	}

	// Z-score tiers
	absZ := math.Abs(fv.AmountZScore)
	switch {
	case absZ > 5:
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("Extreme amount anomaly (z-score: %.2f)", fv.AmountZScore))
	case absZ > 3:
		score += 0.25
		reasons = append(reasons, fmt.Sprintf("Unusual amount (z-score: %.2f)", fv.AmountZScore))
	case absZ > 2:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("Above average amount deviation (z-score: %.2f)", fv.AmountZScore))
	}

	// Rapid-succession tiers
	switch {
	case fv.TimeSinceLast < 1:
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("Extremely rapid: %.1f min since last", fv.TimeSinceLast))
	case fv.TimeSinceLast < 2:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("Rapid transaction: %.1f min since last", fv.TimeSinceLast))
	case fv.TimeSinceLast < 5:
		score += 0.10
		reasons = append(reasons, fmt.Sprintf("Quick transaction: %.1f min since last", fv.TimeSinceLast))
	case fv.TimeSinceLast < 10:
		score += 0.05
		reasons = append(reasons, fmt.Sprintf("Short interval: %.1f min since last", fv.TimeSinceLast))
	}

	// Change flags
	if fv.LocationChange >= 1 {
		score += 0.20
		reasons = append(reasons, "Unusual location detected")
	}

	// Merchant risk tiers
	switch {
	case fv.MerchantRisk > 0.8:
		score += 0.25
		reasons = append(reasons, fmt.Sprintf("Very high-risk merchant (score: %.2f)", fv.MerchantRisk))
	case fv.MerchantRisk > 0.7:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("High-risk merchant (score: %.2f)", fv.MerchantRisk))
	case fv.MerchantRisk > 0.5:
		score += 0.08
		reasons = append(reasons, fmt.Sprintf("Moderate-risk merchant (score: %.2f)", fv.MerchantRisk))
	}

	if fv.DeviceChange >= 1 {
		score += 0.15
		reasons = append(reasons, "Device change detected")
	}

	// IP reputation tiers (lower = worse)
	switch {
	case fv.IPReputation < 0.2:
		score += 0.20
		reasons = append(reasons, fmt.Sprintf("Low IP reputation (score: %.2f)", fv.IPReputation))
	case fv.IPReputation < 0.4:
		score += 0.12
		reasons = append(reasons, fmt.Sprintf("Poor IP reputation (score: %.2f)", fv.IPReputation))
	}

	return clamp01(score), reasons
}

// formatAmount renders an amount with thousands separators and two
// decimals, e.g. 12345.6 -> "12,345.60".
func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	dot := len(s) - 3 // index of the decimal point
	intPart, frac := s[:dot], s[dot:]

	var out []byte
	for i, c := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out) + frac
	}
	return string(out) + frac
}
