// Package dedup implements the three-stage deduplication sieve: exact
// content hash, simhash near-duplicates, then embedding similarity. Stages
// run in order of increasing cost, each only over the survivors of the
// previous one.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"sort"
	"sync"

	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// Result is the sieve output: surviving items in input order, plus the ids
// each survivor represents (its merged duplicates, not including itself).
type Result struct {
	Items       []signal.Item
	Represented map[string][]string
}

// SourceCount returns how many raw items a survivor stands for.
func (r *Result) SourceCount(id string) int {
	return 1 + len(r.Represented[id])
}

// Sieve applies the three dedup stages.
type Sieve struct {
	cfg config.DedupConfig
}

// NewSieve creates a sieve with the given thresholds.
func NewSieve(cfg config.DedupConfig) *Sieve {
	return &Sieve{cfg: cfg}
}

// FillFunc computes missing embeddings in place for the given items. It
// reports how many items still lack an embedding after the attempt.
type FillFunc func(ctx context.Context, items []signal.Item) (missing int, err error)

// Run executes all three stages over items carrying whatever embeddings
// they already have. Items without embeddings skip the semantic stage and
// are treated as non-duplicates (fail-open).
func (s *Sieve) Run(items []signal.Item) *Result {
	res, _ := s.RunCtx(context.Background(), items, nil)
	return res
}

// RunCtx executes all three stages, invoking fill between the cheap stages
// and the semantic stage so only exact/near survivors pay for embedding.
// Only a cancelled context propagates as an error; per-item embedding
// failures fail open inside fill.
func (s *Sieve) RunCtx(ctx context.Context, items []signal.Item, fill FillFunc) (*Result, error) {
	res := &Result{Represented: make(map[string][]string)}

	survivors := s.stageExact(items, res)
	afterExact := len(survivors)

	survivors = s.stageNear(survivors, res)
	afterNear := len(survivors)

	if fill != nil {
		missing, err := fill(ctx, survivors)
		if err != nil {
			return nil, err
		}
		if missing > 0 {
			logging.Warn("Items missing embeddings after fill", "missing", missing)
		}
	}

	survivors = s.stageSemantic(survivors, res)

	logging.Info("Dedup sieve complete",
		"input", len(items),
		"after_exact", afterExact,
		"after_near", afterNear,
		"output", len(survivors))

	res.Items = survivors
	return res, nil
}

// absorb records that rep now represents dup and everything dup represented.
func (r *Result) absorb(rep, dup string) {
	r.Represented[rep] = append(r.Represented[rep], dup)
	r.Represented[rep] = append(r.Represented[rep], r.Represented[dup]...)
	delete(r.Represented, dup)
}

// stageExact merges items with identical normalized-text hashes, keeping the
// earliest-published item as representative.
func (s *Sieve) stageExact(items []signal.Item, res *Result) []signal.Item {
	byHash := make(map[string][]int, len(items))
	order := make([]string, 0, len(items))
	for i := range items {
		h := contentHash(items[i].Text)
		if _, seen := byHash[h]; !seen {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], i)
	}

	keep := make(map[string]bool, len(items))
	for _, h := range order {
		group := byHash[h]
		rep := group[0]
		for _, i := range group[1:] {
			if earlier(items[i], items[rep]) {
				rep = i
			}
		}
		keep[items[rep].ID] = true
		for _, i := range group {
			if i != rep {
				res.absorb(items[rep].ID, items[i].ID)
			}
		}
	}

	return filter(items, keep)
}

// stageNear merges items whose simhash fingerprints are within the
// configured Hamming distance. Representatives are accepted in publish
// order, so the earliest item in a near-duplicate set is kept, the same
// rule as stage one. Fingerprints are computed in parallel; grouping itself
// is sequential and deterministic.
func (s *Sieve) stageNear(items []signal.Item, res *Result) []signal.Item {
	fps := fingerprintAll(items)

	idx := publishOrder(items)

	type rep struct {
		id string
		fp uint64
	}
	var reps []rep
	keep := make(map[string]bool, len(items))

	for _, i := range idx {
		it := items[i]
		merged := false
		for _, r := range reps {
			if HammingDistance(fps[i], r.fp) < s.cfg.SimhashMaxDistance {
				res.absorb(r.id, it.ID)
				merged = true
				break
			}
		}
		if !merged {
			reps = append(reps, rep{id: it.ID, fp: fps[i]})
			keep[it.ID] = true
		}
	}

	return filter(items, keep)
}

func fingerprintAll(items []signal.Item) []uint64 {
	fps := make([]uint64, len(items))
	workers := runtime.NumCPU()
	if workers > len(items) {
		workers = len(items)
	}
	if workers <= 1 {
		for i := range items {
			fps[i] = Fingerprint(signal.NormalizeText(items[i].Text))
		}
		return fps
	}

	var wg sync.WaitGroup
	next := make(chan int, len(items))
	for i := range items {
		next <- i
	}
	close(next)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				fps[i] = Fingerprint(signal.NormalizeText(items[i].Text))
			}
		}()
	}
	wg.Wait()
	return fps
}

// contentHash hashes whitespace/case/punctuation-normalized text.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(signal.NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// earlier reports whether a should be representative over b under the
// earliest-timestamp rule, with the id as the deterministic tie-break.
func earlier(a, b signal.Item) bool {
	if !a.Published.Equal(b.Published) {
		return a.Published.Before(b.Published)
	}
	return a.ID < b.ID
}

// publishOrder returns item indexes sorted earliest-first.
func publishOrder(items []signal.Item) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return earlier(items[idx[a]], items[idx[b]])
	})
	return idx
}

// filter returns items whose ID is in keep, preserving input order.
func filter(items []signal.Item, keep map[string]bool) []signal.Item {
	out := make([]signal.Item, 0, len(keep))
	for _, it := range items {
		if keep[it.ID] {
			out = append(out, it)
		}
	}
	return out
}
