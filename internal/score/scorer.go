// Package score turns clusters into the cycle's ranked story list: a
// weighted multi-factor velocity score, divergence adjustment, then a
// single-pass diversity re-rank.
package score

import (
	"math"
	"time"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/cluster"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/divergence"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// Factor weights. They sum to exactly 1.0.
const (
	weightEmotional   = 0.28
	weightEngagement  = 0.22
	weightCategory    = 0.15
	weightFreshness   = 0.12
	weightPractical   = 0.10
	weightTrend       = 0.08
	weightCredibility = 0.05
)

// Weights returns the seven factor weights in declaration order.
func Weights() []float64 {
	return []float64{
		weightEmotional, weightEngagement, weightCategory,
		weightFreshness, weightPractical, weightTrend, weightCredibility,
	}
}

// highArousal emotion categories count double when aggregating emotional
// intensity. Everything else is low-arousal.
var highArousal = map[string]bool{
	"anxiety":    true,
	"anger":      true,
	"awe":        true,
	"excitement": true,
}

// Breakdown records each normalized factor before weighting, for the
// digest's transparency output.
type Breakdown struct {
	Emotional   float64 `json:"emotional"`
	Engagement  float64 `json:"engagement"`
	Category    float64 `json:"category"`
	Freshness   float64 `json:"freshness"`
	Practical   float64 `json:"practical"`
	Trend       float64 `json:"trend"`
	Credibility float64 `json:"credibility"`
}

// ScoredStory is one ranked output unit, recomputed every cycle.
type ScoredStory struct {
	ClusterID string    `json:"cluster_id"`
	MemberIDs []string  `json:"member_ids"`
	Theme     string    `json:"theme"`
	Raw       float64   `json:"raw_score"`
	Adjusted  float64   `json:"adjusted_score"` // after divergence multiplier
	Final     float64   `json:"final_score"`    // after diversity demotion
	FinalRank int       `json:"final_rank"`
	Breakdown Breakdown `json:"breakdown"`
	Flags     []string  `json:"flags,omitempty"`

	StoryID  string        `json:"story_id"`
	Phase    arc.Phase     `json:"phase"`
	IsNew    bool          `json:"is_new_story"`
	StoryAge time.Duration `json:"story_age"`
}

// Scorer computes raw and adjusted scores per cluster.
type Scorer struct {
	cfg   config.ScoreConfig
	viral map[string]bool
}

func NewScorer(cfg config.ScoreConfig) *Scorer {
	viral := make(map[string]bool, len(cfg.ViralCategories))
	for _, c := range cfg.ViralCategories {
		viral[c] = true
	}
	return &Scorer{cfg: cfg, viral: viral}
}

// Score computes one cluster's scored output at time now. Read-only over
// its inputs; safe to call for many clusters in parallel.
func (s *Scorer) Score(c *cluster.Cluster, rec divergence.Record, link arc.Link, story *arc.Story, now time.Time) ScoredStory {
	b := Breakdown{
		Emotional:   emotionalIntensity(c.Members),
		Engagement:  s.engagementVelocity(c.Members, now),
		Category:    categoryBoost(s.viral, c.DominantTheme),
		Freshness:   Freshness(hoursSinceFirstMention(c.Members, now)),
		Practical:   meanExternal(c.Members, func(e signal.External) float64 { return e.PracticalValue }),
		Trend:       meanExternal(c.Members, func(e signal.External) float64 { return e.TrendAlignment }),
		Credibility: credibility(c.Members),
	}

	raw := weightEmotional*b.Emotional +
		weightEngagement*b.Engagement +
		weightCategory*b.Category +
		weightFreshness*b.Freshness +
		weightPractical*b.Practical +
		weightTrend*b.Trend +
		weightCredibility*b.Credibility

	out := ScoredStory{
		ClusterID: c.ID,
		MemberIDs: c.MemberIDs(),
		Theme:     c.DominantTheme,
		Raw:       raw,
		Adjusted:  raw * rec.Multiplier,
		Breakdown: b,
		StoryID:   link.StoryID,
		IsNew:     link.IsNew,
	}
	if rec.Flag != "" {
		out.Flags = append(out.Flags, rec.Flag)
	}
	if story != nil {
		out.Phase = story.Phase
		out.StoryAge = story.Age(now)
	}
	return out
}

// emotionalIntensity aggregates member emotion scores into [0,1], weighting
// high-arousal categories double.
func emotionalIntensity(members []signal.Item) float64 {
	var sum, weights float64
	for _, m := range members {
		w := 1.0
		if highArousal[m.External.EmotionCategory] {
			w = 2.0
		}
		sum += w * clamp01(m.External.EmotionScore)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return clamp01(sum / weights)
}

// engagementVelocity normalizes the cycle's engagement delta per hour.
// Counters are frozen at cycle close, so the total over the window is the
// delta for the window.
func (s *Scorer) engagementVelocity(members []signal.Item, now time.Time) float64 {
	var total int
	for _, m := range members {
		if m.Kind == signal.SourceSocial {
			total += m.Engagement.Total()
		}
	}
	if total == 0 || s.cfg.EngagementNorm <= 0 {
		return 0
	}
	hours := hoursSinceFirstMention(members, now)
	if hours < 1 {
		hours = 1
	}
	return clamp01(float64(total) / hours / s.cfg.EngagementNorm)
}

// categoryBoost is binary: the dominant theme is viral or it is not.
func categoryBoost(viral map[string]bool, theme string) float64 {
	if viral[theme] {
		return 1.0
	}
	return 0
}

// Freshness is 1/(1+ln(1+hours)), clamped to [0,1]. Exactly 1.0 at age 0,
// monotonically decreasing, never negative.
func Freshness(hours float64) float64 {
	if hours < 0 {
		hours = 0
	}
	return clamp01(1 / (1 + math.Log(1+hours)))
}

func hoursSinceFirstMention(members []signal.Item, now time.Time) float64 {
	if len(members) == 0 {
		return 0
	}
	first := members[0].Published
	for _, m := range members[1:] {
		if m.Published.Before(first) {
			first = m.Published
		}
	}
	h := now.Sub(first).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func meanExternal(members []signal.Item, f func(signal.External) float64) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += clamp01(f(m.External))
	}
	return sum / float64(len(members))
}

// credibility maps the mean source tier linearly: tier 1 -> 1.0, tier 5 -> 0.5.
func credibility(members []signal.Item) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += float64(m.Tier)
	}
	mean := sum / float64(len(members))
	return 1.0 - (mean-float64(signal.TierHighest))*0.125
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
