package domain

import (
	"math"
	"time"
)

// PriceQuote is one freshness-checked oracle reading. Downstream comparisons
// use the raw Mantissa; Display is for logging only, so no rounding drift can
// creep in between entry and settlement.
type PriceQuote struct {
	Mantissa    int64
	Exponent    int32
	PublishedAt time.Time
}

// Display returns the normalized price Mantissa * 10^Exponent.
func (q PriceQuote) Display() float64 {
	return float64(q.Mantissa) * math.Pow10(int(q.Exponent))
}
