package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// offlineEmbedder reports unavailable, so cycles rely entirely on
// precomputed embeddings supplied with the raw items.
type offlineEmbedder struct{}

func (offlineEmbedder) Available() bool { return false }
func (offlineEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("offline")
}

var cycleStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

var groupATexts = []string{
	"Senate passes sweeping budget legislation after marathon session",
	"Lawmakers approve spending package following lengthy negotiations",
	"Congress clears fiscal bill despite opposition objections",
	"Budget measure advances through upper chamber vote",
	"Appropriations deal wins approval in late night tally",
	"Spending framework secures passage amid partisan friction",
}

var groupBTexts = []string{
	"Rocket carries crew toward orbital research platform",
	"Astronauts launch on resupply flight to station",
	"Capsule docks successfully with laboratory module",
	"Mission delivers experiments for microgravity studies",
	"Spacecraft completes rendezvous maneuver above planet",
	"Crewed vehicle reaches destination after smooth ascent",
}

func testRaws(now time.Time) []signal.Raw {
	offsets := []float32{0, 0.01, -0.01, 0.02, -0.02, 0.015}
	var raws []signal.Raw
	for i, text := range groupATexts {
		off := offsets[i]
		raws = append(raws, signal.Raw{
			Text:      text,
			URL:       "https://example.com/a/" + text[:10],
			Kind:      signal.SourceNews,
			Tier:      2,
			Published: now.Add(-time.Duration(i+1) * time.Hour),
			Themes:    []string{"POLITICS"},
			Embedding: []float32{1 + off, off, 0, 0},
		})
	}
	for i, text := range groupBTexts {
		off := offsets[i]
		raws = append(raws, signal.Raw{
			Text:      text,
			URL:       "https://example.com/b/" + text[:10],
			Kind:      signal.SourceNews,
			Tier:      3,
			Published: now.Add(-time.Duration(i+1) * time.Hour),
			Themes:    []string{"SCI_SPACE"},
			Embedding: []float32{0, off, 1 + off, 0},
		})
	}
	return raws
}

func testEngine(t *testing.T) (*Engine, *arc.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Arc.DBPath = filepath.Join(t.TempDir(), "registry.db")
	// The synthetic embeddings within a topic group are nearly colinear.
	// Push the semantic threshold out of reach so the sieve keeps them as
	// distinct items for the clusterer.
	cfg.Dedup.SemanticThreshold = 2

	reg, err := arc.OpenRegistry(cfg.Arc)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	engine, err := New(cfg, reg, offlineEmbedder{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, reg
}

func TestCycleProducesDigest(t *testing.T) {
	engine, reg := testEngine(t)

	digest, err := engine.Run(context.Background(), testRaws(cycleStart), cycleStart)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if digest.CycleID != "2026-03-01-08" {
		t.Errorf("cycle id = %q", digest.CycleID)
	}
	if digest.ClusterCount != 2 {
		t.Fatalf("clusters = %d, want 2", digest.ClusterCount)
	}
	if len(digest.Stories) != 2 {
		t.Fatalf("ranked stories = %d, want 2", len(digest.Stories))
	}
	for _, st := range digest.Stories {
		if !st.IsNew {
			t.Errorf("story %s not marked new on first cycle", st.StoryID)
		}
		if st.Phase != arc.PhaseEmerging {
			t.Errorf("story %s phase = %s, want EMERGING", st.StoryID, st.Phase)
		}
		if st.Raw <= 0 {
			t.Errorf("story %s raw score = %v", st.StoryID, st.Raw)
		}
	}

	if got := len(reg.All()); got != 2 {
		t.Errorf("registry holds %d stories, want 2", got)
	}
}

func TestSecondCycleLinksStories(t *testing.T) {
	engine, reg := testEngine(t)

	if _, err := engine.Run(context.Background(), testRaws(cycleStart), cycleStart); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	later := cycleStart.Add(8 * time.Hour)
	digest, err := engine.Run(context.Background(), testRaws(later), later)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	for _, st := range digest.Stories {
		if st.IsNew {
			t.Errorf("story %s created anew instead of linking", st.StoryID)
		}
	}
	if got := len(reg.All()); got != 2 {
		t.Errorf("registry holds %d stories after two cycles, want 2", got)
	}
	for _, story := range reg.All() {
		if len(story.Velocity) != 2 {
			t.Errorf("story %s velocity history = %v, want two entries", story.ID, story.Velocity)
		}
		if len(story.Links) != 2 {
			t.Errorf("story %s links = %d, want 2", story.ID, len(story.Links))
		}
	}
}

func TestFailedCycleLeavesRegistryUntouched(t *testing.T) {
	engine, reg := testEngine(t)

	if _, err := engine.Run(context.Background(), testRaws(cycleStart), cycleStart); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	before := reg.All()

	// A malformed embedding dimension is cycle-fatal.
	later := cycleStart.Add(8 * time.Hour)
	raws := testRaws(later)
	raws = append(raws, signal.Raw{
		Text:      "corrupted record with wrong embedding width",
		Kind:      signal.SourceNews,
		Tier:      2,
		Published: later,
		Embedding: []float32{1, 0},
	})

	digest, err := engine.Run(context.Background(), raws, later)
	if !errors.Is(err, ErrCycleAborted) {
		t.Fatalf("err = %v, want ErrCycleAborted", err)
	}
	if digest != nil {
		t.Error("failed cycle published a digest")
	}

	after := reg.All()
	if len(after) != len(before) {
		t.Fatalf("registry changed size: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if len(after[i].Velocity) != len(before[i].Velocity) {
			t.Errorf("story %s velocity mutated by failed cycle", after[i].ID)
		}
		if after[i].MissedCycles != before[i].MissedCycles {
			t.Errorf("story %s missed cycles mutated by failed cycle", after[i].ID)
		}
	}
}

func TestEmptyInputIsSuccessfulEmptyCycle(t *testing.T) {
	engine, _ := testEngine(t)

	digest, err := engine.Run(context.Background(), nil, cycleStart)
	if err != nil {
		t.Fatalf("empty cycle errored: %v", err)
	}
	if digest == nil || len(digest.Stories) != 0 {
		t.Errorf("empty input digest = %+v", digest)
	}
}

func TestCycleID(t *testing.T) {
	tests := []struct {
		at       time.Time
		expected string
	}{
		{time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), "2026-03-01-08"},
		{time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), "2026-12-31-23"},
	}
	for _, tt := range tests {
		if got := CycleID(tt.at); got != tt.expected {
			t.Errorf("CycleID(%v) = %q, want %q", tt.at, got, tt.expected)
		}
	}
}
