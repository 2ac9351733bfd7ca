package activity

import (
	"testing"

	"github.com/goodtune/ktrack/internal/model"
)

func TestScore(t *testing.T) {
	tests := []struct {
		rate   float64
		factor float64
		want   int
	}{
		{60, 2, 100},
		{20, 5, 100},
		{10, 2, 20},
		{12.3, 2, 25},
		{0, 2, 0},
		{-4, 2, 0},
	}

	for _, tt := range tests {
		if got := Score(tt.rate, tt.factor); got != tt.want {
			t.Errorf("Score(%v, %v) = %d, want %d", tt.rate, tt.factor, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		level int
		want  model.ProductivityLevel
	}{
		{0, model.ProductivityVeryLow},
		{19, model.ProductivityVeryLow},
		{20, model.ProductivityLow},
		{40, model.ProductivityMedium},
		{59, model.ProductivityMedium},
		{60, model.ProductivityHigh},
		{80, model.ProductivityVeryHigh},
		{100, model.ProductivityVeryHigh},
	}

	for _, tt := range tests {
		if got := DefaultThresholds.Classify(tt.level); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds.Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}
	if err := (Thresholds{20, 20, 60, 80}).Validate(); err == nil {
		t.Fatal("expected non-ascending thresholds to be rejected")
	}
	if err := (Thresholds{20, 40, 60, 120}).Validate(); err == nil {
		t.Fatal("expected threshold above 100 to be rejected")
	}
}
