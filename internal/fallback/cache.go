package fallback

import (
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// queryKeyPrefix is how much of the normalized query takes part in the cache key.
const queryKeyPrefix = 100

type cacheEntry struct {
	subject   string
	words     map[string]struct{}
	content   Content
	timestamp time.Time
}

// responseCache is a TTL and size bounded store of successful upstream
// replies. Callers hold the store lock.
type responseCache struct {
	entries   map[uint64]*cacheEntry
	ttl       time.Duration
	maxSize   int
	threshold float64
	now       func() time.Time
}

func newResponseCache(ttl time.Duration, maxSize int, threshold float64, now func() time.Time) *responseCache {
	return &responseCache{
		entries:   make(map[uint64]*cacheEntry),
		ttl:       ttl,
		maxSize:   maxSize,
		threshold: threshold,
		now:       now,
	}
}

func cacheKey(subject, topic, query string) uint64 {
	q := normalizeQuery(query)
	if len(q) > queryKeyPrefix {
		q = q[:queryKeyPrefix]
	}
	return xxhash.Sum64String(subject + "|" + topic + "|" + q)
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (c *responseCache) put(subject, topic, query string, content Content) {
	now := c.now()
	c.entries[cacheKey(subject, topic, query)] = &cacheEntry{
		subject:   subject,
		words:     significantWords(query),
		content:   content,
		timestamp: now,
	}
	c.prune(now)
}

// prune drops expired entries, then evicts the oldest until the cache fits.
func (c *responseCache) prune(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.timestamp) > c.ttl {
			delete(c.entries, k)
		}
	}

	for len(c.entries) > c.maxSize {
		var oldestKey uint64
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if first || e.timestamp.Before(oldest) {
				oldestKey, oldest, first = k, e.timestamp, false
			}
		}
		delete(c.entries, oldestKey)
	}
}

func (c *responseCache) get(subject, topic, query string) (Content, bool) {
	now := c.now()

	if e, ok := c.entries[cacheKey(subject, topic, query)]; ok && now.Sub(e.timestamp) <= c.ttl {
		return e.content, true
	}

	words := significantWords(query)
	var best *cacheEntry
	bestScore := 0.0
	for _, e := range c.entries {
		if e.subject != subject || now.Sub(e.timestamp) > c.ttl {
			continue
		}
		if score := jaccard(words, e.words); score >= c.threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return Content{}, false
	}
	return best.content, true
}

func (c *responseCache) len() int {
	return len(c.entries)
}

// significantWords returns the set of lower-cased words longer than three characters.
func significantWords(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) > 3 {
			words[w] = struct{}{}
		}
	}
	return words
}

// jaccard is |a ∩ b| / |a ∪ b|. Two empty sets have no similarity.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity returns the word-level Jaccard similarity of two queries.
func Similarity(a, b string) float64 {
	return jaccard(significantWords(a), significantWords(b))
}
