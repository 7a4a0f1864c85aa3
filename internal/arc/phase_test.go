package arc

import (
	"testing"
	"time"
)

func TestDeterminePhase(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		age      time.Duration
		history  []float64
		peak     float64
		expected Phase
	}{
		{"new single entry", 4 * time.Hour, []float64{0.5}, 0.5, PhaseEmerging},
		{"young and rising", 12 * time.Hour, []float64{0.3, 0.5}, 0.5, PhaseEmerging},
		{"young and flat", 8 * time.Hour, []float64{0.5, 0.5}, 0.5, PhaseEmerging},
		{"day two sustained", 36 * time.Hour, []float64{0.5, 0.48}, 0.5, PhaseDeveloping},
		{"exactly 24h is not emerging", 24 * time.Hour, []float64{0.3, 0.5}, 0.5, PhaseDeveloping},
		{"old rising to new high", 100 * time.Hour, []float64{0.3, 0.6}, 0.6, PhasePeak},
		{"collapsed from peak", 100 * time.Hour, []float64{0.9, 0.3}, 0.9, PhaseFading},
		{"old mild decline", 100 * time.Hour, []float64{0.6, 0.55}, 0.9, PhaseDeveloping},
		{"young but declining", 12 * time.Hour, []float64{0.9, 0.3}, 0.9, PhaseFading},
	}

	for _, tt := range tests {
		firstSeen := now.Add(-tt.age)
		if got := determinePhase(firstSeen, now, tt.history, tt.peak); got != tt.expected {
			t.Errorf("%s: phase = %s, want %s", tt.name, got, tt.expected)
		}
	}
}

func TestNeverEmergingPastDay(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	histories := [][]float64{
		{0.1, 0.9},
		{0.5},
		{0.2, 0.2, 0.2},
	}
	for _, age := range []time.Duration{24 * time.Hour, 48 * time.Hour, 30 * 24 * time.Hour} {
		for _, h := range histories {
			peak := 0.0
			for _, v := range h {
				if v > peak {
					peak = v
				}
			}
			if got := determinePhase(now.Add(-age), now, h, peak); got == PhaseEmerging {
				t.Errorf("age %v history %v: phase EMERGING past the 24h bound", age, h)
			}
		}
	}
}
