package divergence

import (
	"fmt"
	"math"
	"testing"

	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

func mixCluster(id string, news, social int) *cluster.Cluster {
	c := &cluster.Cluster{ID: id}
	for i := 0; i < news; i++ {
		c.Members = append(c.Members, signal.Item{
			ID: fmt.Sprintf("%s-n%d", id, i), Kind: signal.SourceNews, Tier: 2,
		})
	}
	for i := 0; i < social; i++ {
		c.Members = append(c.Members, signal.Item{
			ID: fmt.Sprintf("%s-s%d", id, i), Kind: signal.SourceSocial, Tier: 5,
		})
	}
	return c
}

func testAnalyzer() *Analyzer {
	return NewAnalyzer(config.DefaultConfig().Divergence)
}

func TestNoMainstreamCoverageIsSevere(t *testing.T) {
	// Zero mainstream, heavy grassroots: the strongest underreported signal.
	// Must clamp to the sentinel, never error or go infinite, and must land
	// above the severe threshold.
	rec := testAnalyzer().Analyze(mixCluster("c0", 0, 100))

	if math.IsInf(rec.Index, 0) || math.IsNaN(rec.Index) {
		t.Fatalf("index = %v", rec.Index)
	}
	if rec.Index <= 3.0 {
		t.Errorf("index = %v, want > 3.0", rec.Index)
	}
	if rec.Band != BandSevere {
		t.Errorf("band = %s, want %s", rec.Band, BandSevere)
	}
	if rec.Flag != FlagSevere {
		t.Errorf("flag = %q", rec.Flag)
	}
}

func TestBands(t *testing.T) {
	// Baseline seed is 10.0. actual = news/max(social,1), index = 10/actual.
	tests := []struct {
		name       string
		news       int
		social     int
		band       Band
		multiplier float64
	}{
		{"boost band", 40, 10, BandBoost, 1.15},         // actual 4, index 2.5
		{"neutral band", 100, 10, BandNeutral, 1.0},     // actual 10, index 1.0
		{"oversaturated", 300, 10, BandSaturated, 0.90}, // actual 30, index 0.33
		{"severe", 20, 10, BandSevere, 1.15},            // actual 2, index 5
		{"no grassroots", 10, 0, BandNeutral, 1.0},      // actual 10, index 1.0
	}

	for _, tt := range tests {
		rec := testAnalyzer().Analyze(mixCluster("c", tt.news, tt.social))
		if rec.Band != tt.band {
			t.Errorf("%s: band = %s, want %s (index %v)", tt.name, rec.Band, tt.band, rec.Index)
		}
		if rec.Multiplier != tt.multiplier {
			t.Errorf("%s: multiplier = %v, want %v", tt.name, rec.Multiplier, tt.multiplier)
		}
	}
}

func TestSevereFlagOnlyWhenConfigured(t *testing.T) {
	cfg := config.DefaultConfig().Divergence
	cfg.SevereBoostsScore = false
	rec := NewAnalyzer(cfg).Analyze(mixCluster("c", 0, 50))
	if rec.Flag != FlagSevere {
		t.Errorf("flag = %q", rec.Flag)
	}
	if rec.Multiplier != 1.0 {
		t.Errorf("multiplier = %v, want 1.0 with boost disabled", rec.Multiplier)
	}
}

func TestMajorTierRestriction(t *testing.T) {
	c := &cluster.Cluster{ID: "c"}
	c.Members = append(c.Members,
		signal.Item{ID: "wire", Kind: signal.SourceNews, Tier: 1},
		signal.Item{ID: "tabloid", Kind: signal.SourceNews, Tier: 5},
		signal.Item{ID: "post", Kind: signal.SourceSocial, Tier: 5},
	)

	rec := testAnalyzer().Analyze(c)
	if rec.Mainstream != 1 {
		t.Errorf("mainstream = %d, want 1 (tier 5 outlet excluded)", rec.Mainstream)
	}
	if rec.Grassroots != 1 {
		t.Errorf("grassroots = %d, want 1", rec.Grassroots)
	}
}

func TestBaselineAdapts(t *testing.T) {
	a := testAnalyzer()
	seed, _ := a.Baseline()

	// A run of clusters with actual ratio 2 pulls the baseline down from 10.
	for i := 0; i < 50; i++ {
		a.Observe(mixCluster("c", 20, 10))
	}
	expected, observations := a.Baseline()
	if observations != 50 {
		t.Errorf("observations = %d", observations)
	}
	if expected >= seed {
		t.Errorf("baseline did not adapt: %v", expected)
	}
	if expected < 2.0 {
		t.Errorf("baseline overshot the observed ratio: %v", expected)
	}
}

func TestRestoreBaseline(t *testing.T) {
	a := testAnalyzer()
	a.Restore(4.5, 12)
	expected, observations := a.Baseline()
	if expected != 4.5 || observations != 12 {
		t.Errorf("restored baseline = (%v, %d)", expected, observations)
	}

	// A zero-observation snapshot is ignored in favor of the seed.
	b := testAnalyzer()
	b.Restore(99, 0)
	if expected, _ := b.Baseline(); expected != config.DefaultConfig().Divergence.BaselineSeed {
		t.Errorf("empty restore overwrote the seed: %v", expected)
	}
}

func TestHiddenStories(t *testing.T) {
	records := []Record{
		{ClusterID: "a", Band: BandNeutral, Index: 1.0},
		{ClusterID: "b", Band: BandSevere, Index: 5.0},
		{ClusterID: "c", Band: BandSevere, Index: 100.0},
		{ClusterID: "d", Band: BandBoost, Index: 2.5},
	}
	hidden := HiddenStories(records)
	if len(hidden) != 3 {
		t.Fatalf("got %d hidden, want 3 (both underreported bands)", len(hidden))
	}
	wantOrder := []string{"c", "b", "d"}
	for i, id := range wantOrder {
		if hidden[i].ClusterID != id {
			t.Errorf("hidden[%d] = %s, want %s (highest index first)", i, hidden[i].ClusterID, id)
		}
	}
}
