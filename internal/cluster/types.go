// Package cluster groups a cycle's deduplicated items into topic clusters
// using density-based hierarchical clustering. Each cycle reclusters from
// scratch over an immutable snapshot of embeddings; cross-cycle continuity
// is the story arc registry's job, not the clusterer's.
package cluster

import (
	"github.com/abelbrown/zeitgeist/internal/entity"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// Cluster is a cycle-scoped group of semantically related items.
type Cluster struct {
	ID            string // scoped to the current cycle only
	Members       []signal.Item
	Centroid      []float32 // mean of member embeddings, frozen at cycle end
	DominantTheme string
	Entities      entity.Set
}

// MemberIDs returns the member item ids.
func (c *Cluster) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// Output is the clusterer result: every input item appears in exactly one of
// a cluster's member list or the noise set.
type Output struct {
	Clusters []Cluster
	Noise    []signal.Item
}
