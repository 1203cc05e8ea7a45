package fallback

import (
	"maps"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/trigger"
)

// Chooser returns an index in [0, n).
type Chooser func(n int) int

// StoreConfig holds configuration for the content store.
type StoreConfig struct {
	// CacheTTL is how long a cached reply stays usable.
	// Default: 1 hour
	CacheTTL time.Duration

	// MaxCacheSize bounds the number of cached replies.
	// Default: 100
	MaxCacheSize int

	// SimilarityThreshold is the minimum Jaccard similarity for a fuzzy cache hit.
	// Default: 0.7
	SimilarityThreshold float64

	// DisableCache turns the response cache off.
	DisableCache bool

	// Chooser picks among several matching entries. Default: uniform random.
	Chooser Chooser

	Logger zerolog.Logger

	// Now is the clock used for cache timestamps. Default: time.Now
	Now func() time.Time
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig(logger zerolog.Logger) StoreConfig {
	return StoreConfig{
		CacheTTL:            time.Hour,
		MaxCacheSize:        100,
		SimilarityThreshold: 0.7,
		Chooser:             rand.IntN,
		Logger:              logger,
		Now:                 time.Now,
	}
}

type topicIndex map[string]map[string][]Content

func (ix topicIndex) add(subject, topic string, c Content) {
	subject, topic = normalizeName(subject), normalizeName(topic)
	if topic == "" {
		topic = GeneralTopic
	}
	if ix[subject] == nil {
		ix[subject] = make(map[string][]Content)
	}
	ix[subject][topic] = append(ix[subject][topic], c)
}

// Store resolves fallback content for a subject, topic and tier.
type Store struct {
	mu          sync.RWMutex
	subjects    topicIndex
	offline     topicIndex
	byTrigger   map[trigger.Trigger][]Content
	byErrorCode map[string][]Content
	cache       *responseCache

	config StoreConfig
	logger zerolog.Logger
}

// NewStore creates an empty content store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 100
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.7
	}
	if cfg.Chooser == nil {
		cfg.Chooser = rand.IntN
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		subjects:    make(topicIndex),
		offline:     make(topicIndex),
		byTrigger:   make(map[trigger.Trigger][]Content),
		byErrorCode: make(map[string][]Content),
		cache:       newResponseCache(cfg.CacheTTL, cfg.MaxCacheSize, cfg.SimilarityThreshold, cfg.Now),
		config:      cfg,
		logger:      cfg.Logger.With().Str("component", "fallback_store").Logger(),
	}
}

// NewStoreFromCatalog creates a store and loads cat into it.
func NewStoreFromCatalog(cfg StoreConfig, cat *Catalog) *Store {
	s := NewStore(cfg)
	s.LoadCatalog(cat)
	return s
}

// LoadCatalog registers every entry of cat.
func (s *Store) LoadCatalog(cat *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for subject, topics := range cat.Subjects {
		for topic, entries := range topics {
			for _, e := range entries {
				s.subjects.add(subject, topic, e)
			}
		}
	}
	for subject, topics := range cat.Offline {
		for topic, entries := range topics {
			for _, e := range entries {
				s.offline.add(subject, topic, e)
			}
		}
	}
	for name, entries := range cat.Triggers {
		t := trigger.Trigger(name)
		s.byTrigger[t] = append(s.byTrigger[t], entries...)
	}
	for code, entries := range cat.ErrorCodes {
		s.byErrorCode[code] = append(s.byErrorCode[code], entries...)
	}

	counts := cat.Counts()
	s.logger.Info().
		Int("subjects", counts.Subjects).
		Int("entries", counts.Entries).
		Msg("fallback catalog loaded")
}

// AddSubjectContent registers content for a subject and topic.
func (s *Store) AddSubjectContent(subject, topic string, c Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects.add(subject, topic, c)
}

// AddOfflineContent registers offline content for a subject and topic.
func (s *Store) AddOfflineContent(subject, topic string, c Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline.add(subject, topic, c)
}

// AddTriggerContent registers content for a trigger.
func (s *Store) AddTriggerContent(t trigger.Trigger, c Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTrigger[t] = append(s.byTrigger[t], c)
}

// AddErrorCodeContent registers content for an error code.
func (s *Store) AddErrorCodeContent(code string, c Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byErrorCode[code] = append(s.byErrorCode[code], c)
}

// GetFallbackContent resolves the best content for subject and topic. The
// first non-empty step wins:
//
//  1. offline mode: offline content for the topic, then the subject, then the TIER_4 default
//  2. TIER_1 with a query: the response cache
//  3. content for the error code
//  4. content for the trigger
//  5. content for the subject and topic
//  6. content for the subject in general
//  7. the built-in message for the tier
//
// Steps 3 to 6 prefer entries of the requested tier and fall back to any tier.
func (s *Store) GetFallbackContent(subject, topic string, opts Options) Content {
	subject, topic = normalizeName(subject), normalizeName(topic)
	if topic == "" {
		topic = GeneralTopic
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.OfflineMode {
		if c, ok := s.pick(s.offline[subject][topic], ""); ok {
			return c
		}
		if c, ok := s.pick(s.offline[subject][GeneralTopic], ""); ok {
			return c
		}
		return DefaultContent(Tier4)
	}

	if opts.Tier == Tier1 && opts.Query != "" && !s.config.DisableCache {
		if c, ok := s.cache.get(subject, topic, opts.Query); ok {
			c.Metadata = maps.Clone(c.Metadata)
			return c
		}
	}

	candidates := [][]Content{
		s.byErrorCode[opts.ErrorCode],
		s.byTrigger[opts.Trigger],
		s.subjects[subject][topic],
		s.subjects[subject][GeneralTopic],
	}
	for _, entries := range candidates {
		if c, ok := s.pick(entries, opts.Tier); ok {
			return c
		}
	}

	return DefaultContent(opts.Tier)
}

// pick chooses among entries of tier, or among all entries when none match
// or tier is empty.
func (s *Store) pick(entries []Content, tier Tier) (Content, bool) {
	if len(entries) == 0 {
		return Content{}, false
	}

	matches := entries
	if tier != "" {
		var filtered []Content
		for _, e := range entries {
			if e.Tier == tier {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) > 0 {
			matches = filtered
		}
	}

	c := matches[s.config.Chooser(len(matches))]
	c.Metadata = maps.Clone(c.Metadata)
	return c, true
}

// CacheResponse stores a successful reply for later TIER_1 reuse.
func (s *Store) CacheResponse(subject, topic, query, response string) {
	if s.config.DisableCache || query == "" || response == "" {
		return
	}
	subject, topic = normalizeName(subject), normalizeName(topic)
	if topic == "" {
		topic = GeneralTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.put(subject, topic, query, Content{
		Type:    TypeCachedResponse,
		Tier:    Tier1,
		Content: response,
		Metadata: map[string]string{
			"subject":  subject,
			"topic":    topic,
			"cachedAt": strconv.FormatInt(s.config.Now().Unix(), 10),
		},
	})
}

// GetCachedResponse looks up a cached reply by exact key, then by query
// similarity within the same subject.
func (s *Store) GetCachedResponse(subject, topic, query string) (Content, bool) {
	if s.config.DisableCache {
		return Content{}, false
	}
	subject, topic = normalizeName(subject), normalizeName(topic)
	if topic == "" {
		topic = GeneralTopic
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cache.get(subject, topic, query)
	if ok {
		c.Metadata = maps.Clone(c.Metadata)
	}
	return c, ok
}

// CacheSize returns the number of cached replies.
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.len()
}
