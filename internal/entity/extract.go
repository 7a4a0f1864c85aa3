// Package entity provides cheap, regex-level entity extraction. No LLM, no
// network: extraction runs on every item and must stay in the microsecond
// range. Extracted entities feed story-arc matching (Jaccard overlap), so
// recall on the big recurring names matters more than exotic coverage.
package entity

import (
	"regexp"
	"strings"
)

// tickerRegex matches stock tickers like $AAPL, $TSLA, $BRK.A
var tickerRegex = regexp.MustCompile(`\$([A-Z]{1,5}(?:\.[A-Z])?)`)

// Countries and blocs with common variants, normalized to a stable id.
var countryNames = map[string]string{
	"united states": "united_states", "usa": "united_states", "u.s.": "united_states", "america": "united_states", "american": "united_states", "washington": "united_states",
	"china": "china", "chinese": "china", "beijing": "china",
	"russia": "russia", "russian": "russia", "moscow": "russia", "kremlin": "russia",
	"united kingdom": "united_kingdom", "britain": "united_kingdom", "british": "united_kingdom", "london": "united_kingdom",
	"germany": "germany", "german": "germany", "berlin": "germany",
	"france": "france", "french": "france", "paris": "france",
	"japan": "japan", "japanese": "japan", "tokyo": "japan",
	"india": "india", "indian": "india", "new delhi": "india",
	"ukraine": "ukraine", "ukrainian": "ukraine", "kyiv": "ukraine",
	"israel": "israel", "israeli": "israel", "jerusalem": "israel",
	"palestine": "palestine", "palestinian": "palestine", "gaza": "palestine",
	"iran": "iran", "iranian": "iran", "tehran": "iran",
	"north korea": "north_korea", "pyongyang": "north_korea",
	"south korea": "south_korea", "seoul": "south_korea",
	"taiwan": "taiwan", "taipei": "taiwan",
	"canada": "canada", "canadian": "canada",
	"australia": "australia", "australian": "australia",
	"brazil": "brazil", "brazilian": "brazil",
	"mexico": "mexico", "mexican": "mexico",
	"turkey": "turkey", "turkish": "turkey", "ankara": "turkey",
	"saudi arabia": "saudi_arabia", "riyadh": "saudi_arabia",
	"european union": "european_union", "eu": "european_union", "brussels": "european_union",
	"nato": "nato",
	"opec": "opec",
}

// properRunRegex matches runs of capitalized words ("Federal Reserve",
// "Elon Musk"). Single capitalized words are too noisy at sentence starts,
// so only runs of two or more count.
var properRunRegex = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)

// Set is an entity frequency map: normalized entity id -> mention count.
type Set map[string]int

// Add merges other into s.
func (s Set) Add(other Set) {
	for k, v := range other {
		s[k] += v
	}
}

// Jaccard computes |a ∩ b| / |a ∪ b| over the entity keys.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Extract pulls entities from free text: tickers, countries/blocs, and
// capitalized proper-noun runs.
func Extract(text string) Set {
	set := make(Set)

	for _, m := range tickerRegex.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 {
			set["ticker:"+m[1]]++
		}
	}

	lower := strings.ToLower(text)
	for name, id := range countryNames {
		if containsWord(lower, name) {
			set["country:"+id]++
		}
	}

	for _, run := range properRunRegex.FindAllString(text, -1) {
		norm := strings.ToLower(strings.Join(strings.Fields(run), "_"))
		set["name:"+norm]++
	}

	return set
}

// containsWord checks if text contains word as a whole word (not substring).
func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		leftOK := idx == 0 || !isAlphaNum(text[idx-1])
		end := idx + len(word)
		rightOK := end >= len(text) || !isAlphaNum(text[end])
		if leftOK && rightOK {
			return true
		}
		rest := text[idx+1:]
		next := strings.Index(rest, word)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
