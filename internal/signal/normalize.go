package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/abelbrown/zeitgeist/internal/logging"
)

// Normalize converts raw source records into Items. Records with no text are
// dropped. IDs are stable: the same raw record always normalizes to the same
// item ID, so re-ingesting a window is harmless.
func Normalize(raws []Raw) []Item {
	items := make([]Item, 0, len(raws))
	dropped := 0

	for _, r := range raws {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			dropped++
			continue
		}

		tier := r.Tier
		if tier == 0 {
			if r.Kind == SourceSocial {
				tier = TierLowest
			} else {
				tier = TierDefaultNews
			}
		}
		if tier < TierHighest {
			tier = TierHighest
		}
		if tier > TierLowest {
			tier = TierLowest
		}

		items = append(items, Item{
			ID:         itemID(r),
			Text:       text,
			Embedding:  r.Embedding,
			Kind:       r.Kind,
			Tier:       tier,
			Published:  r.Published,
			Engagement: r.Engagement,
			External:   r.External,
			Themes:     upperThemes(r.Themes),
		})
	}

	if dropped > 0 {
		logging.Debug("Normalizer dropped empty records", "dropped", dropped)
	}
	logging.Info("Normalization complete", "raw", len(raws), "items", len(items))
	return items
}

// itemID derives a stable identifier from the record's URL (preferred) or
// normalized text, plus the publish timestamp.
func itemID(r Raw) string {
	h := sha256.New()
	if r.URL != "" {
		h.Write([]byte(r.URL))
	} else {
		h.Write([]byte(NormalizeText(r.Text)))
	}
	h.Write([]byte(r.Published.UTC().Format("2006-01-02T15:04:05")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// NormalizeText lowercases, strips punctuation, and collapses whitespace.
// Both the exact-hash and near-duplicate dedup stages key off this form.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func upperThemes(themes []string) []string {
	if len(themes) == 0 {
		return nil
	}
	out := make([]string, 0, len(themes))
	for _, t := range themes {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
