package main

import (
	"testing"

	"github.com/guregu/null/v6"

	"manin/internal/scanner"
)

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		v    null.Float
		want string
	}{
		{null.FloatFrom(42.345), "42.3"},
		{null.Float{}, "-"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.v, "%.1f"); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Vertical Move", 8); got != "Vertical..." {
		t.Errorf("Expected Vertical..., got %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Errorf("Expected short, got %q", got)
	}
}

func TestPhaseLabel(t *testing.T) {
	if phaseLabel(scanner.PhaseScreen) != "Screening" || phaseLabel(scanner.PhaseAnalyze) != "Analyzing" {
		t.Error("Expected a label per scan phase")
	}
}
