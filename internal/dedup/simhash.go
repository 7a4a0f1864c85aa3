package dedup

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint computes a 64-bit simhash over word trigrams of already
// normalized text. Minor edits (an inserted timestamp, a trailing ad blurb)
// perturb only a few trigrams, so near-duplicates land within a small
// Hamming distance of each other.
func Fingerprint(normalized string) uint64 {
	words := strings.Fields(normalized)
	var counts [64]int

	accumulate := func(token string) {
		h := fnv.New64a()
		h.Write([]byte(token))
		v := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if v&(1<<uint(bit)) != 0 {
				counts[bit]++
			} else {
				counts[bit]--
			}
		}
	}

	if len(words) < 3 {
		// Short texts fall back to single-word tokens.
		for _, w := range words {
			accumulate(w)
		}
	} else {
		for i := 0; i+2 < len(words); i++ {
			accumulate(words[i] + " " + words[i+1] + " " + words[i+2])
		}
	}

	var fp uint64
	for bit := 0; bit < 64; bit++ {
		if counts[bit] > 0 {
			fp |= 1 << uint(bit)
		}
	}
	return fp
}

// HammingDistance returns the number of differing bits between fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
