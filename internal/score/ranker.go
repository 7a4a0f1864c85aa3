package score

import (
	"sort"

	"github.com/abelbrown/zeitgeist/internal/config"
)

// Ranker produces the final diversity-balanced ordering.
type Ranker struct {
	cfg config.ScoreConfig
}

func NewRanker(cfg config.ScoreConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank orders stories by adjusted score with a single-pass diversity
// demotion, then truncates to the digest size. Each position is locked in
// as it is chosen; the demotion for a candidate depends only on the themes
// already locked in above it, so the pass cannot oscillate.
func (r *Ranker) Rank(stories []ScoredStory) []ScoredStory {
	pool := make([]ScoredStory, len(stories))
	copy(pool, stories)
	sort.SliceStable(pool, func(a, b int) bool {
		if pool[a].Adjusted != pool[b].Adjusted {
			return pool[a].Adjusted > pool[b].Adjusted
		}
		return pool[a].ClusterID < pool[b].ClusterID
	})

	out := make([]ScoredStory, 0, len(pool))
	themeCount := make(map[string]int)

	for len(pool) > 0 {
		best := 0
		bestEff := effective(pool[0], themeCount, r.cfg)
		for i := 1; i < len(pool); i++ {
			eff := effective(pool[i], themeCount, r.cfg)
			if eff > bestEff {
				best, bestEff = i, eff
			}
		}

		chosen := pool[best]
		chosen.Final = bestEff
		chosen.FinalRank = len(out) + 1
		out = append(out, chosen)
		themeCount[chosen.Theme]++
		pool = append(pool[:best], pool[best+1:]...)
	}

	if r.cfg.DigestSize > 0 && len(out) > r.cfg.DigestSize {
		out = out[:r.cfg.DigestSize]
	}
	return out
}

// effective applies the demotion penalty when the theme has already filled
// its repeat allowance among locked-in selections.
func effective(s ScoredStory, themeCount map[string]int, cfg config.ScoreConfig) float64 {
	if themeCount[s.Theme] >= cfg.DiversityRepeatLimit {
		return s.Adjusted * (1 - cfg.DiversityPenalty)
	}
	return s.Adjusted
}
