// Package divergence computes the Narrative Divergence Index: how far a
// cluster's mainstream-to-grassroots coverage ratio sits from the
// historical norm. A high index means social sources are talking about
// something the major outlets are not.
package divergence

import (
	"sort"

	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// Band is the interpretation of an index value.
type Band string

const (
	BandSevere    Band = "SEVERELY_UNDERREPORTED" // index > 3.0
	BandBoost     Band = "UNDERREPORTED"          // 2.0 < index <= 3.0
	BandNeutral   Band = "NEUTRAL"                // 0.5 <= index <= 2.0
	BandSaturated Band = "OVERSATURATED"          // index < 0.5
)

// Flags attached to scored output.
const (
	FlagSevere     = "severely_underreported"
	FlagSkepticism = "skepticism"
)

// Record is the cycle-scoped divergence annotation for one cluster.
type Record struct {
	ClusterID  string
	Mainstream int // NEWS volume, optionally major tiers only
	Grassroots int // SOCIAL volume
	Index      float64
	Band       Band
	Multiplier float64
	Flag       string // empty when the band carries no flag
}

// Analyzer maintains the rolling expected ratio across cycles. The baseline
// is an exponential moving average so memory stays bounded and the norm can
// drift if the coverage mix shifts structurally.
// Not safe for concurrent Observe; the pipeline serializes baseline updates.
type Analyzer struct {
	cfg          config.DivergenceConfig
	expected     float64
	observations int
}

// NewAnalyzer starts from the seed ratio.
func NewAnalyzer(cfg config.DivergenceConfig) *Analyzer {
	return &Analyzer{cfg: cfg, expected: cfg.BaselineSeed}
}

// Restore resumes from a persisted baseline.
func (a *Analyzer) Restore(expected float64, observations int) {
	if observations > 0 {
		a.expected = expected
		a.observations = observations
	}
}

// Baseline exposes the current rolling state for persistence.
func (a *Analyzer) Baseline() (expected float64, observations int) {
	return a.expected, a.observations
}

// Analyze computes the divergence record for one cluster against the
// current baseline. Read-only; safe to run for many clusters in parallel.
func (a *Analyzer) Analyze(c *cluster.Cluster) Record {
	mainstream, grassroots := a.volumes(c)
	actual := float64(mainstream) / float64(max(grassroots, 1))

	var index float64
	if actual < a.cfg.Epsilon {
		// No mainstream coverage at all: the strongest signal there is.
		// Clamp to the sentinel instead of dividing toward infinity.
		index = a.cfg.SentinelMax
	} else {
		index = a.expected / actual
		if index > a.cfg.SentinelMax {
			index = a.cfg.SentinelMax
		}
	}

	rec := Record{
		ClusterID:  c.ID,
		Mainstream: mainstream,
		Grassroots: grassroots,
		Index:      index,
	}
	switch {
	case index > 3.0:
		rec.Band = BandSevere
		rec.Flag = FlagSevere
		rec.Multiplier = 1.0
		if a.cfg.SevereBoostsScore {
			rec.Multiplier = 1.15
		}
	case index > 2.0:
		rec.Band = BandBoost
		rec.Multiplier = 1.15
	case index >= 0.5:
		rec.Band = BandNeutral
		rec.Multiplier = 1.0
	default:
		rec.Band = BandSaturated
		rec.Flag = FlagSkepticism
		rec.Multiplier = 0.90
	}

	if rec.Flag != "" {
		logging.Debug("Divergence flag", "cluster", c.ID,
			"index", index, "band", rec.Band)
	}
	return rec
}

// Observe folds one cluster's actual ratio into the rolling baseline.
// Called once per cluster per cycle, after analysis.
func (a *Analyzer) Observe(c *cluster.Cluster) {
	mainstream, grassroots := a.volumes(c)
	actual := float64(mainstream) / float64(max(grassroots, 1))
	a.expected = a.cfg.BaselineLambda*actual + (1-a.cfg.BaselineLambda)*a.expected
	a.observations++
}

func (a *Analyzer) volumes(c *cluster.Cluster) (mainstream, grassroots int) {
	for _, m := range c.Members {
		switch m.Kind {
		case signal.SourceNews:
			if a.cfg.MajorTierMax <= 0 || m.Tier <= a.cfg.MajorTierMax {
				mainstream++
			}
		case signal.SourceSocial:
			grassroots++
		}
	}
	return mainstream, grassroots
}

// HiddenStories returns the underreported and severely underreported
// records, highest index first. Downstream surfaces these for manual review.
func HiddenStories(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if r.Band == BandSevere || r.Band == BandBoost {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Index != out[b].Index {
			return out[a].Index > out[b].Index
		}
		return out[a].ClusterID < out[b].ClusterID
	})
	return out
}
