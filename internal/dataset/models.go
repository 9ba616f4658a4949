// Package dataset defines the catalog, rating and merged tables and their
// on-disk CSV form.
package dataset

import "strings"

// CatalogItem is one normalized AniList entry. CrossRefID is the MyAnimeList
// id; zero means the catalog has no mapping for the item.
type CatalogItem struct {
	PrimaryID    int
	CrossRefID   int
	Title        string
	Description  string
	Genres       []string
	Tags         []string
	QualityScore float64
	EpisodeCount int
	AiringStatus string
	MediaType    string
	ExternalURL  string
	Studios      []string
}

// UserRating is one entry of a user's MyAnimeList history. A zero UserScore
// means the entry is unscored.
type UserRating struct {
	CrossRefID  int
	Title       string
	UserScore   int
	WatchStatus WatchStatus
}

// MergedRecord is a catalog item joined with at most one user rating.
type MergedRecord struct {
	PrimaryID    int
	CrossRefID   int
	UserScore    int
	WatchStatus  WatchStatus
	QualityScore float64
	Title        string
	Genres       []string
	Tags         []string
	Description  string
	MediaType    string
	EpisodeCount int
	ExternalURL  string
	Studios      []string
}

// WatchStatus is the user's relationship with a title.
type WatchStatus string

const (
	StatusWatching      WatchStatus = "Watching"
	StatusCompleted     WatchStatus = "Completed"
	StatusOnHold        WatchStatus = "On-Hold"
	StatusDropped       WatchStatus = "Dropped"
	StatusPlanToWatch   WatchStatus = "Plan to Watch"
	StatusNotInteracted WatchStatus = "NotInteracted"
)

// AllStatuses lists every status in display order.
var AllStatuses = []WatchStatus{
	StatusWatching,
	StatusCompleted,
	StatusOnHold,
	StatusDropped,
	StatusPlanToWatch,
	StatusNotInteracted,
}

// StatusFromCode maps MyAnimeList numeric status codes.
func StatusFromCode(code int) WatchStatus {
	switch code {
	case 1:
		return StatusWatching
	case 2:
		return StatusCompleted
	case 3:
		return StatusOnHold
	case 4:
		return StatusDropped
	case 6:
		return StatusPlanToWatch
	default:
		return StatusNotInteracted
	}
}

// ParseWatchStatus is tolerant of case, spacing and separators. Empty or
// unknown values are NotInteracted.
func ParseWatchStatus(s string) WatchStatus {
	key := normalizeStatus(s)
	for _, st := range AllStatuses {
		if normalizeStatus(string(st)) == key {
			return st
		}
	}
	return StatusNotInteracted
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}
