// Package arc maintains the story arc registry: the persistent, cross-cycle
// narrative entities that give the digest continuity. Stories are never
// deleted; after enough linkless cycles they go dormant, drop out of
// matching, and remain queryable for continuity references.
package arc

import (
	"time"

	"github.com/abelbrown/zeitgeist/internal/entity"
)

// Phase is a story's lifecycle stage, recomputed every cycle.
type Phase string

const (
	PhaseEmerging   Phase = "EMERGING"
	PhaseDeveloping Phase = "DEVELOPING"
	PhasePeak       Phase = "PEAK"
	PhaseFading     Phase = "FADING"
)

// LinkRef records one cluster linked to a story. Insertion order is
// chronological and meaningful.
type LinkRef struct {
	Cycle     string    `json:"cycle"`
	ClusterID string    `json:"cluster_id"`
	At        time.Time `json:"at"`
}

// Story is the persistent cross-cycle narrative entity.
type Story struct {
	ID             string     `json:"id"`
	CanonicalTitle string     `json:"canonical_title"`
	Fingerprint    []float32  `json:"fingerprint"` // recency-weighted running centroid
	FirstCentroid  []float32  `json:"first_centroid"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	Links          []LinkRef  `json:"links"`
	Entities       entity.Set `json:"entities"`
	Phase          Phase      `json:"phase"`
	Velocity       []float64  `json:"velocity_history"` // one score per linked cycle
	PeakVelocity   float64    `json:"peak_velocity"`
	MissedCycles   int        `json:"missed_cycles"` // consecutive cycles without a link
}

// Dormant reports whether the story has gone linkless for at least
// threshold cycles. Dormant stories are excluded from matching.
func (s *Story) Dormant(threshold int) bool {
	return threshold > 0 && s.MissedCycles >= threshold
}

// Age returns the story's age at the given time.
func (s *Story) Age(now time.Time) time.Duration {
	return now.Sub(s.FirstSeen)
}

// clone returns a deep copy, so planned mutations never touch live state
// before the cycle commits.
func (s *Story) clone() *Story {
	c := *s
	c.Fingerprint = append([]float32(nil), s.Fingerprint...)
	c.FirstCentroid = append([]float32(nil), s.FirstCentroid...)
	c.Links = append([]LinkRef(nil), s.Links...)
	c.Velocity = append([]float64(nil), s.Velocity...)
	c.Entities = make(entity.Set, len(s.Entities))
	for k, v := range s.Entities {
		c.Entities[k] = v
	}
	return &c
}
