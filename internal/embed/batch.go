package embed

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abelbrown/zeitgeist/internal/logging"
	"github.com/abelbrown/zeitgeist/internal/signal"
)

// Filler computes missing embeddings with bounded parallelism and a per-item
// timeout. Embedding is the only external I/O inside a cycle; failures are
// fail-open: the item simply keeps a nil embedding and downstream stages
// treat it as non-comparable.
type Filler struct {
	embedder    Embedder
	limiter     *rate.Limiter
	parallelism int
	timeout     time.Duration
}

// NewFiller creates a Filler. parallelism <= 0 defaults to 4.
func NewFiller(embedder Embedder, parallelism int, ratePerSec float64, timeout time.Duration) *Filler {
	if parallelism <= 0 {
		parallelism = 4
	}
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Filler{
		embedder:    embedder,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), 1),
		parallelism: parallelism,
		timeout:     timeout,
	}
}

// batchSize is how many texts go into one EmbedBatch request.
const batchSize = 32

// Fill populates item.Embedding for every item that lacks one. Items whose
// embedding cannot be computed are left untouched. Returns the number of
// items still missing embeddings afterward. Only a cancelled context is an
// error; individual failures are not.
//
// Embedders that support batching get grouped requests; everything else
// falls back to one bounded-parallel request per item.
func (f *Filler) Fill(ctx context.Context, items []signal.Item) (missing int, err error) {
	if f.embedder == nil || !f.embedder.Available() {
		for i := range items {
			if len(items[i].Embedding) == 0 {
				missing++
			}
		}
		if missing > 0 {
			logging.Warn("Embedder unavailable, items skip semantic stages", "missing", missing)
		}
		return missing, nil
	}

	if be, ok := f.embedder.(BatchEmbedder); ok {
		return f.fillBatch(ctx, be, items)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)

	start := time.Now()
	requested := 0
	for i := range items {
		if len(items[i].Embedding) > 0 {
			continue
		}
		requested++
		item := &items[i]
		g.Go(func() error {
			if err := f.limiter.Wait(gctx); err != nil {
				return err
			}
			ectx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()

			vec, err := f.embedder.Embed(ectx, item.Text)
			if err != nil {
				logging.Debug("Embedding failed, item fails open", "item", item.ID, "error", err)
				return nil
			}
			if len(vec) == 0 {
				logging.Warn("Empty embedding returned", "item", item.ID)
				return nil
			}
			item.Embedding = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i := range items {
		if len(items[i].Embedding) == 0 {
			missing++
		}
	}
	logging.Info("Embedding fill complete",
		"requested", requested,
		"missing", missing,
		"duration", time.Since(start).Round(time.Millisecond))
	return missing, nil
}

// fillBatch embeds the missing items in fixed-size batches. A failed batch
// fails open for its items only; the remaining batches still run.
func (f *Filler) fillBatch(ctx context.Context, be BatchEmbedder, items []signal.Item) (missing int, err error) {
	var pending []int
	for i := range items {
		if len(items[i].Embedding) == 0 {
			pending = append(pending, i)
		}
	}

	start := time.Now()
	for lo := 0; lo < len(pending); lo += batchSize {
		hi := lo + batchSize
		if hi > len(pending) {
			hi = len(pending)
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		texts := make([]string, 0, hi-lo)
		for _, idx := range pending[lo:hi] {
			texts = append(texts, items[idx].Text)
		}

		ectx, cancel := context.WithTimeout(ctx, f.timeout)
		vecs, err := be.EmbedBatch(ectx, texts)
		cancel()
		if err != nil {
			logging.Debug("Batch embedding failed, items fail open",
				"batch_size", hi-lo, "error", err)
			continue
		}
		for j, idx := range pending[lo:hi] {
			if len(vecs[j]) > 0 {
				items[idx].Embedding = vecs[j]
			}
		}
	}

	for i := range items {
		if len(items[i].Embedding) == 0 {
			missing++
		}
	}
	logging.Info("Embedding fill complete",
		"requested", len(pending),
		"missing", missing,
		"duration", time.Since(start).Round(time.Millisecond))
	return missing, nil
}
