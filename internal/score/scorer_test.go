package score

import (
	"math"
	"testing"
	"time"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/divergence"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

var scoreTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func neutralRecord(id string) divergence.Record {
	return divergence.Record{ClusterID: id, Band: divergence.BandNeutral, Multiplier: 1.0}
}

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range Weights() {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weights sum to %v, want 1.0", sum)
	}
}

func TestFreshness(t *testing.T) {
	if f := Freshness(0); f != 1.0 {
		t.Errorf("Freshness(0) = %v, want 1.0", f)
	}
	if f := Freshness(-5); f != 1.0 {
		t.Errorf("Freshness(-5) = %v, want 1.0 (clamped)", f)
	}

	prev := 1.0
	for _, h := range []float64{1, 4, 24, 168} {
		f := Freshness(h)
		if f >= prev {
			t.Errorf("Freshness(%v) = %v, not decreasing from %v", h, f, prev)
		}
		if f < 0 || f > 1 {
			t.Errorf("Freshness(%v) = %v out of [0,1]", h, f)
		}
		prev = f
	}
}

func TestCredibilityMapping(t *testing.T) {
	tests := []struct {
		tier     int
		expected float64
	}{
		{1, 1.0},
		{2, 0.875},
		{3, 0.75},
		{4, 0.625},
		{5, 0.5},
	}
	for _, tt := range tests {
		members := []signal.Item{{Tier: tt.tier}}
		if got := credibility(members); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("credibility(tier %d) = %v, want %v", tt.tier, got, tt.expected)
		}
	}
}

func TestEmotionalIntensityArousalWeighting(t *testing.T) {
	// One high-arousal 1.0 and one low-arousal 0.0 item: double weighting
	// pulls the aggregate to 2/3 instead of 1/2.
	members := []signal.Item{
		{External: signal.External{EmotionScore: 1.0, EmotionCategory: "anger"}},
		{External: signal.External{EmotionScore: 0.0, EmotionCategory: "sadness"}},
	}
	if got := emotionalIntensity(members); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("emotionalIntensity = %v, want 2/3", got)
	}
}

func TestCategoryBoostBinary(t *testing.T) {
	s := NewScorer(config.DefaultConfig().Score)
	if got := categoryBoost(s.viral, "CRISIS"); got != 1.0 {
		t.Errorf("CRISIS boost = %v", got)
	}
	if got := categoryBoost(s.viral, "POLITICS"); got != 0.0 {
		t.Errorf("POLITICS boost = %v", got)
	}
}

func TestScoreAppliesDivergenceMultiplier(t *testing.T) {
	s := NewScorer(config.DefaultConfig().Score)
	c := &cluster.Cluster{
		ID:            "c0",
		DominantTheme: "POLITICS",
		Members: []signal.Item{{
			ID: "m0", Kind: signal.SourceNews, Tier: 1,
			Published: scoreTime.Add(-time.Hour),
			External:  signal.External{EmotionScore: 0.5, EmotionCategory: "anger"},
		}},
	}

	neutral := s.Score(c, neutralRecord("c0"), arc.Link{StoryID: "s"}, nil, scoreTime)
	boosted := s.Score(c, divergence.Record{
		ClusterID: "c0", Band: divergence.BandBoost, Multiplier: 1.15,
	}, arc.Link{StoryID: "s"}, nil, scoreTime)

	if neutral.Adjusted != neutral.Raw {
		t.Errorf("neutral adjusted %v != raw %v", neutral.Adjusted, neutral.Raw)
	}
	if math.Abs(boosted.Adjusted-neutral.Raw*1.15) > 1e-9 {
		t.Errorf("boosted adjusted = %v, want %v", boosted.Adjusted, neutral.Raw*1.15)
	}
	if boosted.Raw != neutral.Raw {
		t.Errorf("raw score depends on divergence: %v vs %v", boosted.Raw, neutral.Raw)
	}
}

func TestScoreCarriesFlagsAndStory(t *testing.T) {
	s := NewScorer(config.DefaultConfig().Score)
	c := &cluster.Cluster{ID: "c0", DominantTheme: "POLITICS",
		Members: []signal.Item{{ID: "m0", Tier: 3, Published: scoreTime.Add(-2 * time.Hour)}}}
	story := &arc.Story{
		ID:        "s",
		FirstSeen: scoreTime.Add(-30 * time.Hour),
		Phase:     arc.PhaseDeveloping,
	}

	rec := divergence.Record{ClusterID: "c0", Band: divergence.BandSaturated,
		Multiplier: 0.90, Flag: divergence.FlagSkepticism}
	out := s.Score(c, rec, arc.Link{StoryID: "s"}, story, scoreTime)

	if len(out.Flags) != 1 || out.Flags[0] != divergence.FlagSkepticism {
		t.Errorf("flags = %v", out.Flags)
	}
	if out.Phase != arc.PhaseDeveloping {
		t.Errorf("phase = %s", out.Phase)
	}
	if out.StoryAge != 30*time.Hour {
		t.Errorf("story age = %v", out.StoryAge)
	}
	if len(out.MemberIDs) != 1 || out.MemberIDs[0] != "m0" {
		t.Errorf("member ids = %v", out.MemberIDs)
	}
}

func TestMissingExternalScoresFailSoft(t *testing.T) {
	// No external collaborator scores at all: factors default to 0 and the
	// item still scores (freshness and credibility are internal).
	s := NewScorer(config.DefaultConfig().Score)
	c := &cluster.Cluster{ID: "c0", DominantTheme: "GENERAL",
		Members: []signal.Item{{ID: "m0", Kind: signal.SourceNews, Tier: 1, Published: scoreTime}}}

	out := s.Score(c, neutralRecord("c0"), arc.Link{StoryID: "s"}, nil, scoreTime)
	if out.Breakdown.Emotional != 0 || out.Breakdown.Practical != 0 || out.Breakdown.Trend != 0 {
		t.Errorf("external factors nonzero: %+v", out.Breakdown)
	}
	want := 0.12*1.0 + 0.05*1.0 // freshness at age 0, tier-1 credibility
	if math.Abs(out.Raw-want) > 1e-9 {
		t.Errorf("raw = %v, want %v", out.Raw, want)
	}
}
