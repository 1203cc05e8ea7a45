// Package featuregate derives whether product features are available from
// service health and manual overrides.
package featuregate

import (
	"github.com/tutorstack/tutorguard/internal/health"
)

// Well-known feature IDs.
const (
	FeatureAIChat           = "ai_chat"
	FeatureAIStreaming      = "ai_streaming"
	FeatureCourseCatalog    = "course_catalog"
	FeatureProgressTracking = "progress_tracking"
	FeatureChatExport       = "chat_export"
)

// Dependency ties a feature to the health of a service. Only critical
// dependencies can disable a feature.
type Dependency struct {
	ServiceID      string        `json:"serviceId"`
	RequiredStatus health.Status `json:"requiredStatus"`
	Critical       bool          `json:"critical"`
}

// Feature describes a product feature and the services it depends on.
type Feature struct {
	ID              string       `json:"id"`
	Description     string       `json:"description,omitempty"`
	StaticEnabled   bool         `json:"staticEnabled"`
	Dependencies    []Dependency `json:"dependencies"`
	FallbackAllowed bool         `json:"fallbackAllowed"`
}

// dependsOn reports whether f has any dependency on serviceID.
func (f Feature) dependsOn(serviceID string) bool {
	for _, d := range f.Dependencies {
		if d.ServiceID == serviceID {
			return true
		}
	}
	return false
}

// statusOrdinal ranks statuses for dependency checks; higher is healthier.
func statusOrdinal(s health.Status) int {
	switch s {
	case health.StatusOperational:
		return 3
	case health.StatusDegraded:
		return 2
	case health.StatusOutage:
		return 0
	default:
		return 1
	}
}

// satisfied reports whether status meets the required status.
func satisfied(status, required health.Status) bool {
	return statusOrdinal(status) >= statusOrdinal(required)
}

// DefaultFeatures returns the features of the tutoring platform. Features
// whose critical requirement is "unknown" only switch off on an outage.
func DefaultFeatures() []Feature {
	return []Feature{
		{
			ID:            FeatureAIChat,
			Description:   "Conversational AI tutor",
			StaticEnabled: true,
			Dependencies: []Dependency{
				{ServiceID: health.ServiceAI, RequiredStatus: health.StatusUnknown, Critical: true},
				{ServiceID: health.ServiceDatabase, RequiredStatus: health.StatusDegraded},
			},
			FallbackAllowed: true,
		},
		{
			ID:            FeatureAIStreaming,
			Description:   "Token-by-token streaming of tutor replies",
			StaticEnabled: true,
			Dependencies: []Dependency{
				{ServiceID: health.ServiceAI, RequiredStatus: health.StatusDegraded, Critical: true},
			},
			FallbackAllowed: true,
		},
		{
			ID:            FeatureCourseCatalog,
			Description:   "Course and lesson browsing",
			StaticEnabled: true,
			Dependencies: []Dependency{
				{ServiceID: health.ServiceDatabase, RequiredStatus: health.StatusUnknown, Critical: true},
				{ServiceID: health.ServiceCache, RequiredStatus: health.StatusDegraded},
			},
			FallbackAllowed: true,
		},
		{
			ID:            FeatureProgressTracking,
			Description:   "Saving lesson progress and scores",
			StaticEnabled: true,
			Dependencies: []Dependency{
				{ServiceID: health.ServiceDatabase, RequiredStatus: health.StatusUnknown, Critical: true},
			},
			FallbackAllowed: true,
		},
		{
			ID:            FeatureChatExport,
			Description:   "Exporting tutor conversations",
			StaticEnabled: true,
			Dependencies: []Dependency{
				{ServiceID: health.ServiceDatabase, RequiredStatus: health.StatusOperational, Critical: true},
				{ServiceID: health.ServiceAI, RequiredStatus: health.StatusDegraded},
			},
			FallbackAllowed: false,
		},
	}
}
