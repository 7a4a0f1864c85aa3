package cluster

import (
	"fmt"
	"sort"

	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/embed"
	"github.com/abelbrown/zeitgeist/internal/entity"
	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// Clusterer runs density-based clustering over one cycle's items.
type Clusterer struct {
	cfg config.ClusterConfig
}

// NewClusterer creates a clusterer with the given configuration.
func NewClusterer(cfg config.ClusterConfig) *Clusterer {
	return &Clusterer{cfg: cfg}
}

// Run clusters the items. Items without embeddings go straight to the noise
// set. Mismatched embedding dimensions are a cycle-fatal error: the caller
// abandons the cycle rather than clustering a corrupt snapshot.
func (c *Clusterer) Run(items []signal.Item) (*Output, error) {
	out := &Output{}

	var embedded []signal.Item
	for _, it := range items {
		if len(it.Embedding) == 0 {
			out.Noise = append(out.Noise, it)
			continue
		}
		embedded = append(embedded, it)
	}

	if len(embedded) == 0 {
		logging.Warn("Clusterer received no embedded items", "noise", len(out.Noise))
		return out, nil
	}

	dims := len(embedded[0].Embedding)
	vectors := make([][]float64, len(embedded))
	for i, it := range embedded {
		if len(it.Embedding) != dims {
			return nil, fmt.Errorf("malformed embedding for item %s: got %d dims, want %d", it.ID, len(it.Embedding), dims)
		}
		v := make([]float64, dims)
		for j, x := range it.Embedding {
			v[j] = float64(x)
		}
		vectors[i] = v
	}

	// Density estimation degrades in high-dimensional spaces; reduce first.
	if dims > c.cfg.MaxDims {
		vectors = project(vectors, c.cfg.ProjectionDims, c.cfg.ProjectionSeed)
		logging.Debug("Projected embeddings for density estimation",
			"from", dims, "to", len(vectors[0]))
	}

	labels := hdbscanLabels(vectors, c.cfg.MinClusterSize, c.cfg.MinSamples)

	byLabel := make(map[int][]signal.Item)
	for i, lbl := range labels {
		if lbl < 0 {
			out.Noise = append(out.Noise, embedded[i])
			continue
		}
		byLabel[lbl] = append(byLabel[lbl], embedded[i])
	}

	for lbl := 0; lbl < len(byLabel); lbl++ {
		members := byLabel[lbl]
		out.Clusters = append(out.Clusters, Cluster{
			Members:  members,
			Centroid: centroid(members),
		})
	}

	recovered := c.recoverNoise(out)

	// Finalize: ids ordered by size (ties by first member id), themes and
	// entities computed from final membership, centroids frozen.
	sort.SliceStable(out.Clusters, func(a, b int) bool {
		ca, cb := &out.Clusters[a], &out.Clusters[b]
		if len(ca.Members) != len(cb.Members) {
			return len(ca.Members) > len(cb.Members)
		}
		return ca.Members[0].ID < cb.Members[0].ID
	})
	for i := range out.Clusters {
		cl := &out.Clusters[i]
		cl.ID = fmt.Sprintf("c%d", i)
		cl.DominantTheme = dominantTheme(cl.Members)
		cl.Entities = clusterEntities(cl.Members)
	}

	logging.Info("Clustering complete",
		"items", len(items),
		"clusters", len(out.Clusters),
		"noise", len(out.Noise),
		"recovered", recovered)
	return out, nil
}

// recoverNoise runs the secondary proximity pass: a noise item whose best
// centroid similarity exceeds the threshold is absorbed into that cluster,
// with an incremental centroid update. Everything else stays noise for the
// cycle.
func (c *Clusterer) recoverNoise(out *Output) int {
	if len(out.Clusters) == 0 {
		return 0
	}

	recovered := 0
	remaining := out.Noise[:0]
	for _, it := range out.Noise {
		if len(it.Embedding) == 0 {
			remaining = append(remaining, it)
			continue
		}

		best := -1
		bestSim := 0.0
		for i := range out.Clusters {
			sim := embed.CosineSimilarity(it.Embedding, out.Clusters[i].Centroid)
			if sim > bestSim {
				bestSim = sim
				best = i
			}
		}
		if best < 0 || bestSim <= c.cfg.NoiseRecoveryThreshold {
			remaining = append(remaining, it)
			continue
		}

		cl := &out.Clusters[best]
		cl.Centroid = addToCentroid(cl.Centroid, len(cl.Members), it.Embedding)
		cl.Members = append(cl.Members, it)
		recovered++
	}
	out.Noise = remaining
	return recovered
}

// centroid computes the arithmetic mean of member embeddings.
func centroid(members []signal.Item) []float32 {
	if len(members) == 0 {
		return nil
	}
	dims := len(members[0].Embedding)
	acc := make([]float64, dims)
	for _, m := range members {
		for j, x := range m.Embedding {
			acc[j] += float64(x)
		}
	}
	out := make([]float32, dims)
	for j := range acc {
		out[j] = float32(acc[j] / float64(len(members)))
	}
	return out
}

// addToCentroid updates a mean of n vectors with one more vector.
func addToCentroid(cent []float32, n int, vec []float32) []float32 {
	if len(cent) != len(vec) {
		return cent
	}
	out := make([]float32, len(cent))
	fn := float64(n)
	for j := range cent {
		out[j] = float32((float64(cent[j])*fn + float64(vec[j])) / (fn + 1))
	}
	return out
}

// dominantTheme is the most frequent categorical tag among members, with a
// lexicographic tie-break for determinism.
func dominantTheme(members []signal.Item) string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, t := range m.Themes {
			counts[t]++
		}
	}
	if len(counts) == 0 {
		return "GENERAL"
	}

	best := ""
	bestCount := 0
	for theme, n := range counts {
		if n > bestCount || (n == bestCount && theme < best) {
			best = theme
			bestCount = n
		}
	}
	return best
}

// clusterEntities merges entity extractions across member texts and themes.
func clusterEntities(members []signal.Item) entity.Set {
	set := make(entity.Set)
	for _, m := range members {
		set.Add(entity.Extract(m.Text))
		for _, t := range m.Themes {
			set["theme:"+t]++
		}
	}
	return set
}
