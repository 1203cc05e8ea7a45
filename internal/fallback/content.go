// Package fallback holds the tiered substitute content served when the AI
// upstream fails, and the bounded response cache used for the mildest tier.
package fallback

import (
	"time"

	"github.com/tutorstack/tutorguard/internal/trigger"
)

// Tier is a degradation level. TIER_1 is the mildest substitute, TIER_4 the
// most minimal.
type Tier string

// Fallback tiers.
const (
	Tier1 Tier = "TIER_1"
	Tier2 Tier = "TIER_2"
	Tier3 Tier = "TIER_3"
	Tier4 Tier = "TIER_4"
)

// Tiers lists every tier, mildest first.
var Tiers = []Tier{Tier1, Tier2, Tier3, Tier4}

// ParseTier returns the tier named s.
func ParseTier(s string) (Tier, bool) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ContentType is the kind of substitute content.
type ContentType string

// Content types.
const (
	TypeCachedResponse        ContentType = "cached_response"
	TypeSimplifiedExplanation ContentType = "simplified_explanation"
	TypeStaticContent         ContentType = "static_content"
	TypeUserGuidance          ContentType = "user_guidance"
	TypeStudySuggestion       ContentType = "study_suggestion"
	TypePracticeProblem       ContentType = "practice_problem"
	TypeResourceLink          ContentType = "resource_link"
	TypeOfflineContent        ContentType = "offline_content"
	TypeSystemMessage         ContentType = "system_message"
)

// GeneralTopic is the topic used for subject-wide content.
const GeneralTopic = "general"

// Content is one piece of fallback content. It is not modified after it has
// been registered.
type Content struct {
	Type     ContentType       `yaml:"type" json:"type" validate:"required,oneof=cached_response simplified_explanation static_content user_guidance study_suggestion practice_problem resource_link offline_content system_message"`
	Tier     Tier              `yaml:"tier" json:"tier" validate:"required,oneof=TIER_1 TIER_2 TIER_3 TIER_4"`
	Content  string            `yaml:"content" json:"content" validate:"required"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Options narrows a content lookup.
type Options struct {
	Tier        Tier
	Trigger     trigger.Trigger
	ErrorCode   string
	OfflineMode bool
	Query       string
}

var defaultContent = map[Tier]Content{
	Tier1: {
		Type:    TypeSystemMessage,
		Tier:    Tier1,
		Content: "The AI tutor is responding slowly right now. Here is a quick pointer while it catches up: re-read the last worked example and try the next step on your own.",
	},
	Tier2: {
		Type:    TypeSystemMessage,
		Tier:    Tier2,
		Content: "The AI tutor is having trouble at the moment. Review your course notes for this topic and try asking again in a few minutes.",
	},
	Tier3: {
		Type:    TypeSystemMessage,
		Tier:    Tier3,
		Content: "The AI tutor is temporarily unavailable. Your progress is saved, and the course materials and practice sets are still available.",
	},
	Tier4: {
		Type:    TypeSystemMessage,
		Tier:    Tier4,
		Content: "The AI tutor is offline. You can keep studying with downloaded lessons and come back later to continue the conversation.",
	},
}

// DefaultContent returns the built-in message for a tier. Unknown tiers get
// the TIER_1 message.
func DefaultContent(t Tier) Content {
	if c, ok := defaultContent[t]; ok {
		return c
	}
	return defaultContent[Tier1]
}

// Tier thresholds.
var (
	errorTierThresholds = []struct {
		min  int
		tier Tier
	}{{10, Tier4}, {5, Tier3}, {3, Tier2}, {1, Tier1}}

	latencyTierThresholds = []struct {
		min  time.Duration
		tier Tier
	}{{20 * time.Second, Tier4}, {15 * time.Second, Tier3}, {10 * time.Second, Tier2}, {5 * time.Second, Tier1}}
)

// DetermineTier picks a tier from the number of consecutive errors, the time
// the failed request took and the trigger. Authentication failures and an
// unavailable API skip straight to TIER_3, or TIER_4 after more than three
// consecutive errors.
func DetermineTier(consecutiveErrors int, responseTime time.Duration, t trigger.Trigger) Tier {
	if t == trigger.APIUnavailable || t == trigger.AuthenticationFailure {
		if consecutiveErrors > 3 {
			return Tier4
		}
		return Tier3
	}

	for _, th := range errorTierThresholds {
		if consecutiveErrors >= th.min {
			return th.tier
		}
	}
	for _, th := range latencyTierThresholds {
		if responseTime >= th.min {
			return th.tier
		}
	}
	return Tier1
}
