package activity

import (
	"fmt"
	"math"

	"github.com/goodtune/ktrack/internal/model"
)

const (
	// DefaultPointerFactor scales pointer events per minute into [0,100].
	DefaultPointerFactor = 2.0
	// DefaultKeyFactor scales key events per minute into [0,100].
	DefaultKeyFactor = 5.0
)

// DefaultThresholds are the lower bounds of low, medium, high and very_high.
var DefaultThresholds = Thresholds{20, 40, 60, 80}

// Thresholds are ascending lower bounds for the low..very_high buckets.
type Thresholds [4]int

// Validate checks that the thresholds ascend strictly inside (0,100].
func (t Thresholds) Validate() error {
	prev := 0
	for i, v := range t {
		if v <= prev || v > 100 {
			return fmt.Errorf("threshold %d (%d) must be greater than %d and at most 100", i, v, prev)
		}
		prev = v
	}
	return nil
}

// Classify maps an activity level onto a productivity bucket.
func (t Thresholds) Classify(level int) model.ProductivityLevel {
	switch {
	case level >= t[3]:
		return model.ProductivityVeryHigh
	case level >= t[2]:
		return model.ProductivityHigh
	case level >= t[1]:
		return model.ProductivityMedium
	case level >= t[0]:
		return model.ProductivityLow
	default:
		return model.ProductivityVeryLow
	}
}

// Score converts a per-minute rate into an integer in [0,100].
func Score(ratePerMinute, factor float64) int {
	if ratePerMinute <= 0 || factor <= 0 || math.IsNaN(ratePerMinute) || math.IsInf(ratePerMinute, 0) {
		return 0
	}
	v := math.Round(ratePerMinute * factor)
	if v > 100 {
		return 100
	}
	return int(v)
}

// Combine averages pointer and key activity into the overall level.
func Combine(pointer, key int) int {
	return int(math.Round(float64(pointer+key) / 2))
}
