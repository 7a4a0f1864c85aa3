package cluster

import (
	"math"
	"math/rand"
)

// project maps vectors to outDims dimensions with a seeded Gaussian random
// projection. Random projections preserve pairwise distance structure in
// expectation (Johnson–Lindenstrauss), which is all the density estimator
// needs; the seed keeps cluster assignment stable across repeated runs on
// identical input. The projection is internal to the clusterer; stored
// embeddings are never altered.
func project(vectors [][]float64, outDims int, seed int64) [][]float64 {
	if len(vectors) == 0 {
		return vectors
	}
	inDims := len(vectors[0])
	if outDims >= inDims {
		return vectors
	}

	rng := rand.New(rand.NewSource(seed))
	scale := 1.0 / math.Sqrt(float64(outDims))
	matrix := make([][]float64, outDims)
	for r := range matrix {
		row := make([]float64, inDims)
		for c := range row {
			row[c] = rng.NormFloat64() * scale
		}
		matrix[r] = row
	}

	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		proj := make([]float64, outDims)
		for r, row := range matrix {
			var sum float64
			for c, x := range v {
				sum += row[c] * x
			}
			proj[r] = sum
		}
		out[i] = proj
	}
	return out
}
