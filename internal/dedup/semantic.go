package dedup

import (
	"sort"

	"github.com/coder/hnsw"

	"github.com/abelbrown/zeitgeist/internal/embed"
	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// stageSemantic merges items whose embeddings exceed the cosine similarity
// threshold. Items are visited in authority order (higher source tier, then
// earliest published, then lexicographic id) so the representative of each
// semantic-duplicate set is always the most authoritative member. An HNSW
// index over accepted representatives keeps the search sublinear; the final
// threshold check uses the exact cosine similarity of the stored vectors.
//
// Items without an embedding skip this stage entirely and survive as
// non-duplicates (fail-open).
func (s *Sieve) stageSemantic(items []signal.Item, res *Result) []signal.Item {
	idx := authorityOrder(items)

	graph := hnsw.NewGraph[string]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32

	vectors := make(map[string][]float32, len(items))
	keep := make(map[string]bool, len(items))
	skipped := 0

	for _, i := range idx {
		it := items[i]
		if len(it.Embedding) == 0 {
			skipped++
			keep[it.ID] = true
			continue
		}

		var bestID string
		var bestSim float64
		if graph.Len() > 0 {
			for _, n := range graph.Search(it.Embedding, 5) {
				vec, ok := vectors[n.Key]
				if !ok || len(vec) != len(it.Embedding) {
					continue
				}
				sim := embed.CosineSimilarity(it.Embedding, vec)
				if sim > s.cfg.SemanticThreshold && sim > bestSim {
					bestSim = sim
					bestID = n.Key
				}
			}
		}

		if bestID != "" {
			res.absorb(bestID, it.ID)
			continue
		}

		graph.Add(hnsw.MakeNode(it.ID, it.Embedding))
		vectors[it.ID] = it.Embedding
		keep[it.ID] = true
	}

	if skipped > 0 {
		logging.Debug("Semantic stage skipped items without embeddings", "skipped", skipped)
	}
	return filter(items, keep)
}

// authorityOrder returns item indexes sorted most-authoritative first:
// lower tier number, then earliest published, then smallest id.
func authorityOrder(items []signal.Item) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := items[idx[a]], items[idx[b]]
		if ia.Tier != ib.Tier {
			return ia.Tier < ib.Tier
		}
		if !ia.Published.Equal(ib.Published) {
			return ia.Published.Before(ib.Published)
		}
		return ia.ID < ib.ID
	})
	return idx
}
