// Package pipeline runs one full processing cycle: normalize, dedup, embed,
// cluster, match against the story registry, analyze divergence, score and
// rank. Stages are sequential and data-dependent; item and cluster level
// work inside a stage fans out where safe.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/dedup"
	"github.com/abelbrown/zeitgeist/internal/divergence"
	"github.com/abelbrown/zeitgeist/internal/embed"
	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/score"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// ErrCycleAborted marks a failed cycle: no digest was produced and the
// story registry was left as of the previous commit. Distinct from a
// successful cycle that happened to rank zero stories.
var ErrCycleAborted = errors.New("cycle aborted")

// Digest is the output artifact of one successful cycle.
type Digest struct {
	CycleID     string              `json:"cycle_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Stories     []score.ScoredStory `json:"stories"`
	// Hidden lists underreported and severely underreported clusters for
	// manual review, whether or not they made the digest.
	Hidden []divergence.Record `json:"hidden,omitempty"`

	InputCount   int `json:"input_count"`
	DedupedCount int `json:"deduped_count"`
	ClusterCount int `json:"cluster_count"`
	NoiseCount   int `json:"noise_count"`
}

// CycleID formats a cycle timestamp as its stable identifier.
func CycleID(t time.Time) string {
	return t.UTC().Format("2006-01-02-15")
}

// Engine executes cycles. One engine serializes its cycles: cycle N+1 never
// begins until cycle N's registry batch has fully committed.
type Engine struct {
	cfg      *config.Config
	registry *arc.Registry
	analyzer *divergence.Analyzer

	sieve     *dedup.Sieve
	filler    *embed.Filler
	clusterer *cluster.Clusterer
	scorer    *score.Scorer
	ranker    *score.Ranker

	mu sync.Mutex
}

// New assembles an engine around an open registry. The divergence baseline
// resumes from the registry's store when one was persisted.
func New(cfg *config.Config, registry *arc.Registry, embedder embed.Embedder) (*Engine, error) {
	analyzer := divergence.NewAnalyzer(cfg.Divergence)
	expected, observations, ok, err := registry.Store().LoadBaseline()
	if err != nil {
		return nil, err
	}
	if ok {
		analyzer.Restore(expected, observations)
		logging.Info("Divergence baseline restored",
			"expected", expected, "observations", observations)
	}

	return &Engine{
		cfg:      cfg,
		registry: registry,
		analyzer: analyzer,
		sieve:    dedup.NewSieve(cfg.Dedup),
		filler: embed.NewFiller(embedder, cfg.Embed.Parallelism,
			cfg.Embed.RatePerSec, time.Duration(cfg.Embed.TimeoutSecs)*time.Second),
		clusterer: cluster.NewClusterer(cfg.Cluster),
		scorer:    score.NewScorer(cfg.Score),
		ranker:    score.NewRanker(cfg.Score),
	}, nil
}

// Run executes one cycle over the given raw items at time now. On error the
// registry is untouched and no digest is returned.
func (e *Engine) Run(ctx context.Context, raws []signal.Raw, now time.Time) (*Digest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cycleID := CycleID(now)
	logging.Info("Cycle starting", "cycle", cycleID, "raw_items", len(raws))

	items := signal.Normalize(raws)
	digest := &Digest{CycleID: cycleID, GeneratedAt: now, InputCount: len(items)}
	if len(items) == 0 {
		logging.Info("Cycle complete with no input", "cycle", cycleID)
		return digest, nil
	}

	res, err := e.sieve.RunCtx(ctx, items, e.filler.Fill)
	if err != nil {
		return nil, fmt.Errorf("%w: dedup: %v", ErrCycleAborted, err)
	}
	digest.DedupedCount = len(res.Items)

	out, err := e.clusterer.Run(res.Items)
	if err != nil {
		// Malformed embeddings poison density estimation for everything,
		// so the whole cycle is abandoned with the registry untouched.
		return nil, fmt.Errorf("%w: cluster: %v", ErrCycleAborted, err)
	}
	digest.ClusterCount = len(out.Clusters)
	digest.NoiseCount = len(out.Noise)

	plan, err := e.registry.PlanCycle(ctx, cycleID, now, out.Clusters)
	if err != nil {
		return nil, fmt.Errorf("%w: story matching: %v", ErrCycleAborted, err)
	}

	records, scored, err := e.analyzeAndScore(ctx, out.Clusters, plan, now)
	if err != nil {
		return nil, fmt.Errorf("%w: scoring: %v", ErrCycleAborted, err)
	}

	digest.Stories = e.ranker.Rank(scored)
	digest.Hidden = divergence.HiddenStories(records)

	// Velocity history records the divergence-adjusted score per cycle.
	velocities := make(map[string]float64, len(scored))
	for _, st := range scored {
		velocities[st.ClusterID] = st.Adjusted
	}
	if err := e.registry.Commit(plan, velocities); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycleAborted, err)
	}

	// The baseline only shifts after the cycle's clusters are final.
	for i := range out.Clusters {
		e.analyzer.Observe(&out.Clusters[i])
	}
	expected, observations := e.analyzer.Baseline()
	if err := e.registry.Store().SaveBaseline(expected, observations); err != nil {
		logging.Error("Baseline persist failed, continuing on in-memory state", "error", err)
	}

	logging.Info("Cycle complete", "cycle", cycleID,
		"ranked", len(digest.Stories), "hidden", len(digest.Hidden))
	return digest, nil
}

// analyzeAndScore fans divergence analysis and scoring out across clusters.
// Both are read-only per cluster; results land at fixed indexes.
func (e *Engine) analyzeAndScore(ctx context.Context, clusters []cluster.Cluster, plan *arc.Plan, now time.Time) ([]divergence.Record, []score.ScoredStory, error) {
	links := make(map[string]arc.Link, len(plan.Links))
	for _, l := range plan.Links {
		links[l.ClusterID] = l
	}

	records := make([]divergence.Record, len(clusters))
	results := make([]score.ScoredStory, len(clusters))
	valid := make([]bool, len(clusters))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range clusters {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := &clusters[i]
			link, ok := links[c.ID]
			if !ok {
				// Excluded during planning (zero members). Local failure
				// only; the rest of the cycle proceeds.
				logging.Warn("Cluster excluded from ranking", "cluster", c.ID)
				return nil
			}
			records[i] = e.analyzer.Analyze(c)
			results[i] = e.scorer.Score(c, records[i], link, plan.Story(c.ID), now)
			valid[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	recs := records[:0]
	scored := make([]score.ScoredStory, 0, len(clusters))
	for i := range clusters {
		if valid[i] {
			recs = append(recs, records[i])
			scored = append(scored, results[i])
		}
	}
	return recs, scored, nil
}
