// Package signal defines the unified content item that flows through the
// processing core, and the normalizer that produces it from raw source
// records.
package signal

import "time"

// SourceKind identifies the population a content item came from
type SourceKind string

const (
	SourceNews   SourceKind = "news"
	SourceSocial SourceKind = "social"
)

// Source tier bounds. Tier 1 is the most authoritative (wire services),
// tier 5 the least. Social posts default to the lowest tier; news records
// missing a tier get the mid-tier default rather than inheriting wire-level
// authority.
const (
	TierHighest     = 1
	TierLowest      = 5
	TierDefaultNews = 3
)

// Engagement holds social engagement counters. Counters are mutable only
// during the ingestion window and are frozen by the time the cycle runs.
type Engagement struct {
	Likes   int `json:"likes"`
	Shares  int `json:"shares"`
	Replies int `json:"replies"`
}

// Total returns the combined engagement count.
func (e Engagement) Total() int {
	return e.Likes + e.Shares + e.Replies
}

// External carries collaborator-supplied scores in [0,1]. Zero values are
// the documented fail-soft defaults when a collaborator is unavailable.
type External struct {
	EmotionScore    float64 `json:"emotion_score"`
	EmotionCategory string  `json:"emotion_category"` // "anger", "awe", "sadness", ...
	PracticalValue  float64 `json:"practical_value"`
	TrendAlignment  float64 `json:"trend_alignment"`
}

// Item is one normalized unit of ingested content (article or post).
// Items are immutable once the sieve accepts them and are not persisted
// across cycles; only cluster/story level artifacts survive.
type Item struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Embedding []float32  `json:"embedding,omitempty"`
	Kind      SourceKind `json:"kind"`
	Tier      int        `json:"tier"` // 1-5, authority weighting
	Published time.Time  `json:"published"`

	Engagement Engagement `json:"engagement"`
	External   External   `json:"external"`

	// Themes are categorical tags supplied by the source (GDELT-style) and
	// feed the cluster's dominant theme.
	Themes []string `json:"themes,omitempty"`
}

// Raw is the minimal record consumed from upstream collectors.
type Raw struct {
	Text       string     `json:"text"`
	URL        string     `json:"url"`
	Kind       SourceKind `json:"kind"`
	Tier       int        `json:"tier,omitempty"`
	Published  time.Time  `json:"published"`
	Engagement Engagement `json:"engagement"`
	External   External   `json:"external"`
	Themes     []string   `json:"themes,omitempty"`
	// Embedding is optional; when absent the sieve requests one from the
	// embedding collaborator.
	Embedding []float32 `json:"embedding,omitempty"`
}
