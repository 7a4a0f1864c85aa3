package arc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/embed"
	"github.com/abelbrown/zeitgeist/internal/entity"
	"github.com/abelbrown/zeitgeist/internal/logging"
)

// Registry owns the persistent story set. Matching runs read-only and in
// parallel; mutations are staged on clones and applied as one batch per
// cycle, so a cancelled cycle leaves the registry as of the last commit.
type Registry struct {
	cfg   config.ArcConfig
	store *Store

	mu      sync.RWMutex
	stories map[string]*Story
}

// Link is one cluster-to-story assignment from a cycle plan.
type Link struct {
	ClusterID  string
	StoryID    string
	IsNew      bool
	Similarity float64 // 1.0 for new stories
	Overlap    float64
}

// Plan is the staged outcome of matching one cycle's clusters. Nothing in
// the live registry changes until Commit.
type Plan struct {
	CycleID string
	Now     time.Time
	Links   []Link

	// staged holds a mutated clone per linked story, keyed by story id.
	staged map[string]*Story
}

// Story returns the staged story for a cluster's link, or nil.
func (p *Plan) Story(clusterID string) *Story {
	for _, l := range p.Links {
		if l.ClusterID == clusterID {
			return p.staged[l.StoryID]
		}
	}
	return nil
}

// OpenRegistry loads the registry from the configured database, creating it
// on first run. Corrupt state fails with ErrCorrupt rather than silently
// starting empty.
func OpenRegistry(cfg config.ArcConfig) (*Registry, error) {
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return newRegistry(cfg, store)
}

// NewRegistry wraps an already-open store.
func NewRegistry(cfg config.ArcConfig, store *Store) (*Registry, error) {
	return newRegistry(cfg, store)
}

func newRegistry(cfg config.ArcConfig, store *Store) (*Registry, error) {
	loaded, err := store.LoadStories()
	if err != nil {
		store.Close()
		return nil, err
	}

	stories := make(map[string]*Story, len(loaded))
	for _, st := range loaded {
		stories[st.ID] = st
	}
	logging.Info("Story registry loaded", "stories", len(stories))

	return &Registry{cfg: cfg, store: store, stories: stories}, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Store exposes the persistence layer, shared with the divergence baseline.
func (r *Registry) Store() *Store {
	return r.store
}

// candidate is one qualifying story for a cluster, pre-ranked.
type candidate struct {
	storyID    string
	similarity float64
	overlap    float64
	lastSeen   time.Time
}

// PlanCycle matches every cluster against the non-dormant stories and stages
// the resulting mutations. Per-cluster candidate scoring runs in parallel;
// assignment is serialized so two clusters never claim the same story.
func (r *Registry) PlanCycle(ctx context.Context, cycleID string, now time.Time, clusters []cluster.Cluster) (*Plan, error) {
	r.mu.RLock()
	candidates := make([]*Story, 0, len(r.stories))
	for _, st := range r.stories {
		if !st.Dormant(r.cfg.DormantAfterCycles) {
			candidates = append(candidates, st)
		}
	}
	r.mu.RUnlock()

	// Phase 1: read-only scoring, one ranked candidate list per cluster.
	ranked := make([][]candidate, len(clusters))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range clusters {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ranked[i] = r.rankCandidates(&clusters[i], candidates)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Phase 2: serialized assignment. Larger clusters choose first so the
	// strongest signal of the cycle wins contested stories.
	order := make([]int, len(clusters))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := &clusters[order[a]], &clusters[order[b]]
		if len(ca.Members) != len(cb.Members) {
			return len(ca.Members) > len(cb.Members)
		}
		return ca.ID < cb.ID
	})

	plan := &Plan{
		CycleID: cycleID,
		Now:     now,
		staged:  make(map[string]*Story, len(clusters)),
	}
	claimed := make(map[string]bool, len(clusters))

	for _, idx := range order {
		c := &clusters[idx]
		if len(c.Members) == 0 {
			logging.Warn("Skipping empty cluster", "cluster", c.ID)
			continue
		}

		var link Link
		if best, ok := firstUnclaimed(ranked[idx], claimed); ok {
			claimed[best.storyID] = true
			staged := r.mustClone(best.storyID)
			r.applyLink(staged, c, cycleID, now)
			plan.staged[staged.ID] = staged
			link = Link{
				ClusterID:  c.ID,
				StoryID:    staged.ID,
				Similarity: best.similarity,
				Overlap:    best.overlap,
			}
		} else {
			staged := r.newStory(c, cycleID, now)
			plan.staged[staged.ID] = staged
			link = Link{ClusterID: c.ID, StoryID: staged.ID, IsNew: true, Similarity: 1.0, Overlap: 1.0}
		}
		plan.Links = append(plan.Links, link)
	}

	// Output order follows cluster input order, not assignment order.
	sort.SliceStable(plan.Links, func(a, b int) bool {
		return clusterIndex(clusters, plan.Links[a].ClusterID) < clusterIndex(clusters, plan.Links[b].ClusterID)
	})
	return plan, nil
}

// rankCandidates returns the stories qualifying for the cluster under the
// dual gate, best first.
func (r *Registry) rankCandidates(c *cluster.Cluster, stories []*Story) []candidate {
	var out []candidate
	for _, st := range stories {
		sim := embed.CosineSimilarity(c.Centroid, st.Fingerprint)
		if sim < r.cfg.SimilarityThreshold {
			continue
		}
		overlap := entity.Jaccard(c.Entities, st.Entities)
		if overlap < r.cfg.EntityOverlapThreshold {
			continue
		}
		out = append(out, candidate{
			storyID:    st.ID,
			similarity: sim,
			overlap:    overlap,
			lastSeen:   st.LastSeen,
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].similarity != out[b].similarity {
			return out[a].similarity > out[b].similarity
		}
		if !out[a].lastSeen.Equal(out[b].lastSeen) {
			return out[a].lastSeen.After(out[b].lastSeen)
		}
		return out[a].storyID < out[b].storyID
	})
	return out
}

func firstUnclaimed(ranked []candidate, claimed map[string]bool) (candidate, bool) {
	for _, cand := range ranked {
		if !claimed[cand.storyID] {
			return cand, true
		}
	}
	return candidate{}, false
}

func clusterIndex(clusters []cluster.Cluster, id string) int {
	for i := range clusters {
		if clusters[i].ID == id {
			return i
		}
	}
	return len(clusters)
}

func (r *Registry) mustClone(storyID string) *Story {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stories[storyID].clone()
}

// applyLink stages a match: link ref, last seen, recency-weighted
// fingerprint, merged entities. Velocity is appended at commit, once the
// cycle's score is known.
func (r *Registry) applyLink(st *Story, c *cluster.Cluster, cycleID string, now time.Time) {
	st.Links = append(st.Links, LinkRef{Cycle: cycleID, ClusterID: c.ID, At: now})
	st.LastSeen = now
	st.MissedCycles = 0

	alpha := float32(r.cfg.FingerprintAlpha)
	if len(st.Fingerprint) == len(c.Centroid) {
		for i := range st.Fingerprint {
			st.Fingerprint[i] = alpha*c.Centroid[i] + (1-alpha)*st.Fingerprint[i]
		}
	} else {
		logging.Warn("Fingerprint dimension mismatch, replacing",
			"story", st.ID, "old", len(st.Fingerprint), "new", len(c.Centroid))
		st.Fingerprint = append([]float32(nil), c.Centroid...)
	}

	st.Entities.Add(c.Entities)
}

func (r *Registry) newStory(c *cluster.Cluster, cycleID string, now time.Time) *Story {
	st := &Story{
		ID:             uuid.NewString(),
		CanonicalTitle: canonicalTitle(c),
		Fingerprint:    append([]float32(nil), c.Centroid...),
		FirstCentroid:  append([]float32(nil), c.Centroid...),
		FirstSeen:      now,
		LastSeen:       now,
		Links:          []LinkRef{{Cycle: cycleID, ClusterID: c.ID, At: now}},
		Entities:       make(entity.Set, len(c.Entities)),
		Phase:          PhaseEmerging,
	}
	for k, v := range c.Entities {
		st.Entities[k] = v
	}
	return st
}

// canonicalTitle labels a new story from its dominant theme and the most
// frequent named entities. Set once at creation.
func canonicalTitle(c *cluster.Cluster) string {
	type ent struct {
		name  string
		count int
	}
	var names []ent
	for id, count := range c.Entities {
		if name, ok := strings.CutPrefix(id, "name:"); ok {
			names = append(names, ent{name: name, count: count})
		}
	}
	sort.Slice(names, func(a, b int) bool {
		if names[a].count != names[b].count {
			return names[a].count > names[b].count
		}
		return names[a].name < names[b].name
	})
	if len(names) > 2 {
		names = names[:2]
	}

	parts := make([]string, 0, 3)
	for _, n := range names {
		parts = append(parts, titleCase(n.name))
	}
	if len(parts) == 0 {
		return c.DominantTheme
	}
	return fmt.Sprintf("%s: %s", c.DominantTheme, strings.Join(parts, ", "))
}

// titleCase turns a normalized entity id ("federal_reserve") back into a
// display form ("Federal Reserve").
func titleCase(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Commit applies a planned cycle: per-story velocity append and phase
// recompute, missed-cycle bookkeeping for unlinked stories, then one
// transaction. The in-memory set is swapped only after the write succeeds.
func (r *Registry) Commit(plan *Plan, velocities map[string]float64) error {
	changed := make([]*Story, 0, len(plan.staged))

	for _, link := range plan.Links {
		st := plan.staged[link.StoryID]
		v := velocities[link.ClusterID]
		st.Velocity = append(st.Velocity, v)
		if v > st.PeakVelocity {
			st.PeakVelocity = v
		}
		st.Phase = determinePhase(st.FirstSeen, plan.Now, st.Velocity, st.PeakVelocity)
		changed = append(changed, st)
	}

	// Unlinked stories age: missed-cycle counters advance and phases are
	// re-evaluated against the new cycle time.
	r.mu.RLock()
	for id, st := range r.stories {
		if _, linked := plan.staged[id]; linked {
			continue
		}
		if st.Dormant(r.cfg.DormantAfterCycles) {
			continue
		}
		aged := st.clone()
		aged.MissedCycles++
		aged.Phase = determinePhase(aged.FirstSeen, plan.Now, aged.Velocity, aged.PeakVelocity)
		changed = append(changed, aged)
	}
	r.mu.RUnlock()

	sort.Slice(changed, func(a, b int) bool { return changed[a].ID < changed[b].ID })
	if err := r.store.UpsertStories(changed); err != nil {
		return fmt.Errorf("commit cycle %s: %w", plan.CycleID, err)
	}

	r.mu.Lock()
	for _, st := range changed {
		r.stories[st.ID] = st
	}
	r.mu.Unlock()

	logging.Info("Cycle committed", "cycle", plan.CycleID,
		"links", len(plan.Links), "stories", len(r.stories))
	return nil
}

// ByID looks up a story. Dormant stories remain queryable.
func (r *Registry) ByID(id string) (*Story, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stories[id]
	if !ok {
		return nil, false
	}
	return st.clone(), true
}

// Approx finds the best story for a centroid and entity set under the same
// dual gate used for linking. Dormant stories are included, for continuity
// references to narratives that have left the active set.
func (r *Registry) Approx(centroid []float32, entities entity.Set) (*Story, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Story
	var bestSim float64
	for _, st := range r.stories {
		sim := embed.CosineSimilarity(centroid, st.Fingerprint)
		if sim < r.cfg.SimilarityThreshold {
			continue
		}
		if entity.Jaccard(entities, st.Entities) < r.cfg.EntityOverlapThreshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && st.ID < best.ID) {
			best, bestSim = st, sim
		}
	}
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

// All returns a snapshot of every story, most recently seen first.
func (r *Registry) All() []*Story {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Story, 0, len(r.stories))
	for _, st := range r.stories {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].LastSeen.Equal(out[b].LastSeen) {
			return out[a].LastSeen.After(out[b].LastSeen)
		}
		return out[a].ID < out[b].ID
	})
	return out
}
