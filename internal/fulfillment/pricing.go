package fulfillment

import (
	"math"

	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/pkg/protocol"
)

type priceRange struct {
	min, max   float64
	multiplier float64
}

// Consultation prices in COP.
var prices = map[protocol.Category]priceRange{
	protocol.CategoryLabor:      {80_000, 150_000, 1.3},
	protocol.CategoryCriminal:   {150_000, 300_000, 1.5},
	protocol.CategoryFamily:     {100_000, 200_000, 1.2},
	protocol.CategoryCivil:      {90_000, 180_000, 1.25},
	protocol.CategoryCommercial: {120_000, 250_000, 1.3},
	protocol.CategoryTraffic:    {60_000, 120_000, 1.2},
	protocol.CategoryRealEstate: {100_000, 200_000, 1.25},
}

// CommissionRate is the share of the estimated consultation price booked as
// revenue for each registered case.
const CommissionRate = 0.15

// Estimate prices a consultation. HIGH urgency applies the category
// multiplier to both bounds, MEDIUM half of its deviation from 1, LOW none.
// The point estimate is the midpoint plus up to ±10% of the range; a nil
// rnd yields the midpoint. Unknown categories are priced as Civil.
func Estimate(category protocol.Category, urgency protocol.Urgency, rnd random.Source) protocol.Estimate {
	p, ok := prices[category]
	if !ok {
		p = prices[protocol.CategoryCivil]
	}

	factor := 1.0
	switch urgency {
	case protocol.UrgencyHigh:
		factor = p.multiplier
	case protocol.UrgencyMedium:
		factor = 1 + (p.multiplier-1)*0.5
	}
	lo := math.Round(p.min * factor)
	hi := math.Round(p.max * factor)

	jitter := 0.5
	if rnd != nil {
		jitter = rnd.Float64()
	}
	point := math.Round((lo+hi)/2 + (jitter-0.5)*0.2*(hi-lo))

	return protocol.Estimate{Min: int64(lo), Max: int64(hi), Estimated: int64(point)}
}

// Revenue is the commission on an estimate, rounded to whole pesos.
func Revenue(e protocol.Estimate) int64 {
	return int64(math.Round(float64(e.Estimated) * CommissionRate))
}
