package arc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/entity"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.DefaultConfig().Arc
	cfg.DBPath = filepath.Join(t.TempDir(), "registry.db")
	reg, err := OpenRegistry(cfg)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func testCluster(id string, centroid []float32, entities entity.Set, members int) cluster.Cluster {
	c := cluster.Cluster{
		ID:            id,
		Centroid:      centroid,
		DominantTheme: "POLITICS",
		Entities:      entities,
	}
	for i := 0; i < members; i++ {
		c.Members = append(c.Members, signal.Item{ID: id + "-m" + string(rune('a'+i))})
	}
	return c
}

var cycleTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func runCycle(t *testing.T, reg *Registry, cycle string, now time.Time, clusters []cluster.Cluster, velocity float64) *Plan {
	t.Helper()
	plan, err := reg.PlanCycle(context.Background(), cycle, now, clusters)
	if err != nil {
		t.Fatalf("PlanCycle: %v", err)
	}
	velocities := make(map[string]float64)
	for _, l := range plan.Links {
		velocities[l.ClusterID] = velocity
	}
	if err := reg.Commit(plan, velocities); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return plan
}

func TestNewStoryCreated(t *testing.T) {
	reg := testRegistry(t)
	ents := entity.Set{"name:federal_reserve": 2, "theme:POLITICS": 1}
	plan := runCycle(t, reg, "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)}, 0.5)

	if len(plan.Links) != 1 || !plan.Links[0].IsNew {
		t.Fatalf("links = %+v, want one new story", plan.Links)
	}

	st, ok := reg.ByID(plan.Links[0].StoryID)
	if !ok {
		t.Fatal("created story not queryable")
	}
	if st.Phase != PhaseEmerging {
		t.Errorf("new story phase = %s, want EMERGING", st.Phase)
	}
	if len(st.Velocity) != 1 || st.Velocity[0] != 0.5 {
		t.Errorf("velocity = %v, want [0.5]", st.Velocity)
	}
	if st.CanonicalTitle != "POLITICS: Federal Reserve" {
		t.Errorf("title = %q", st.CanonicalTitle)
	}
}

func TestMatchRequiresBothGates(t *testing.T) {
	reg := testRegistry(t)
	ents := entity.Set{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}
	first := runCycle(t, reg, "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)}, 0.5)
	existing := first.Links[0].StoryID

	// High similarity but low entity overlap: 2 shared of 8 union = 0.25.
	// No link; a new story is created instead.
	weak := entity.Set{"a": 1, "b": 1, "x": 1, "y": 1, "z": 1}
	second := runCycle(t, reg, "2026-03-01-16", cycleTime.Add(8*time.Hour),
		[]cluster.Cluster{testCluster("c0", []float32{0.98, 0.1, 0}, weak, 5)}, 0.5)

	if !second.Links[0].IsNew {
		t.Error("cluster linked despite entity overlap below threshold")
	}
	if second.Links[0].StoryID == existing {
		t.Error("cluster claimed the existing story")
	}

	// Both gates pass: links to the existing story.
	third := runCycle(t, reg, "2026-03-02-00", cycleTime.Add(16*time.Hour),
		[]cluster.Cluster{testCluster("cX", []float32{0.99, 0.05, 0}, ents, 5)}, 0.6)
	if third.Links[0].IsNew {
		t.Error("qualifying cluster did not link")
	}
	if third.Links[0].StoryID != existing {
		t.Errorf("linked to %s, want %s", third.Links[0].StoryID, existing)
	}
}

func TestLinkExclusivity(t *testing.T) {
	reg := testRegistry(t)
	ents := entity.Set{"a": 1, "b": 1, "c": 1}
	first := runCycle(t, reg, "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)}, 0.5)
	existing := first.Links[0].StoryID

	// Two clusters both qualify for the same story; the larger wins it and
	// the other creates a new story.
	clusters := []cluster.Cluster{
		testCluster("c0", []float32{0.99, 0.05, 0}, ents, 3),
		testCluster("c1", []float32{0.98, 0.08, 0}, ents, 8),
	}
	plan := runCycle(t, reg, "2026-03-01-16", cycleTime.Add(8*time.Hour), clusters, 0.5)

	byCluster := map[string]Link{}
	storyLinks := map[string]int{}
	for _, l := range plan.Links {
		byCluster[l.ClusterID] = l
		storyLinks[l.StoryID]++
	}
	for id, n := range storyLinks {
		if n > 1 {
			t.Errorf("story %s received %d links in one cycle", id, n)
		}
	}
	if byCluster["c1"].StoryID != existing || byCluster["c1"].IsNew {
		t.Errorf("larger cluster did not claim the existing story: %+v", byCluster["c1"])
	}
	if !byCluster["c0"].IsNew {
		t.Errorf("smaller cluster should have created a new story: %+v", byCluster["c0"])
	}
}

func TestFingerprintDriftsTowardRecent(t *testing.T) {
	reg := testRegistry(t)
	ents := entity.Set{"a": 1, "b": 1}
	first := runCycle(t, reg, "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)}, 0.5)
	id := first.Links[0].StoryID

	runCycle(t, reg, "2026-03-01-16", cycleTime.Add(8*time.Hour),
		[]cluster.Cluster{testCluster("c0", []float32{0.9, 0.2, 0}, ents, 5)}, 0.5)

	st, _ := reg.ByID(id)
	// alpha 0.3: fp = 0.3*new + 0.7*old
	wantX := float32(0.3*0.9 + 0.7*1.0)
	if diff := st.Fingerprint[0] - wantX; diff > 1e-5 || diff < -1e-5 {
		t.Errorf("fingerprint[0] = %v, want %v", st.Fingerprint[0], wantX)
	}
	if len(st.Links) != 2 {
		t.Errorf("links = %d, want 2", len(st.Links))
	}
	if st.FirstCentroid[0] != 1.0 {
		t.Errorf("first centroid mutated: %v", st.FirstCentroid)
	}
}

func TestDormantStoriesExcludedFromMatching(t *testing.T) {
	cfg := config.DefaultConfig().Arc
	cfg.DBPath = filepath.Join(t.TempDir(), "registry.db")
	cfg.DormantAfterCycles = 2
	reg, err := OpenRegistry(cfg)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	ents := entity.Set{"a": 1, "b": 1}
	first, err := reg.PlanCycle(context.Background(), "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Commit(first, map[string]float64{"c0": 0.5}); err != nil {
		t.Fatal(err)
	}
	id := first.Links[0].StoryID

	// Two empty cycles: the story misses both and goes dormant.
	for i := 0; i < 2; i++ {
		now := cycleTime.Add(time.Duration(8*(i+1)) * time.Hour)
		plan, err := reg.PlanCycle(context.Background(), cycleIDFor(now), now, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.Commit(plan, nil); err != nil {
			t.Fatal(err)
		}
	}

	st, ok := reg.ByID(id)
	if !ok {
		t.Fatal("dormant story no longer queryable")
	}
	if !st.Dormant(cfg.DormantAfterCycles) {
		t.Fatalf("story not dormant after 2 missed cycles: %d", st.MissedCycles)
	}

	// An identical cluster now creates a new story instead of reviving it.
	later := cycleTime.Add(24 * time.Hour)
	plan, err := reg.PlanCycle(context.Background(), "2026-03-02-08", later,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Links[0].IsNew {
		t.Error("dormant story was matched")
	}
}

func TestApproxLookup(t *testing.T) {
	reg := testRegistry(t)
	ents := entity.Set{"a": 1, "b": 1, "c": 1}
	first := runCycle(t, reg, "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)}, 0.5)

	st, ok := reg.Approx([]float32{0.99, 0.05, 0}, entity.Set{"a": 1, "b": 1, "c": 1, "d": 1})
	if !ok {
		t.Fatal("approximate lookup found nothing")
	}
	if st.ID != first.Links[0].StoryID {
		t.Errorf("found %s, want %s", st.ID, first.Links[0].StoryID)
	}

	if _, ok := reg.Approx([]float32{0, 1, 0}, ents); ok {
		t.Error("orthogonal centroid matched a story")
	}
}

func TestRegistrySurvivesReopen(t *testing.T) {
	cfg := config.DefaultConfig().Arc
	cfg.DBPath = filepath.Join(t.TempDir(), "registry.db")

	reg, err := OpenRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ents := entity.Set{"a": 1, "b": 1}
	plan := runCycle(t, reg, "2026-03-01-08", cycleTime,
		[]cluster.Cluster{testCluster("c0", []float32{1, 0, 0}, ents, 5)}, 0.5)
	id := plan.Links[0].StoryID
	reg.Close()

	reg2, err := OpenRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer reg2.Close()
	if _, ok := reg2.ByID(id); !ok {
		t.Error("story lost across reopen")
	}
}

// cycleIDFor mirrors the pipeline's cycle id format without importing it.
func cycleIDFor(t time.Time) string {
	return t.UTC().Format("2006-01-02-15")
}
