package database

import "time"

// timeLayout is how timestamps are stored; always UTC.
const timeLayout = "2006-01-02 15:04:05"

// Run statuses.
const (
	RunSuccess = "success"
	RunError   = "error"
)

// CatalogRefresh records one completed catalog fetch.
type CatalogRefresh struct {
	ID              int64         `json:"id"`
	Pages           int           `json:"pages"`
	Items           int           `json:"items"`
	Duplicates      int           `json:"duplicates"`
	MissingCrossRef int           `json:"missing_cross_ref"`
	Duration        time.Duration `json:"-"`
	FetchedAt       time.Time     `json:"fetched_at"`
}

// Run records one recommendation request.
type Run struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	Status      string        `json:"status"`
	Kind        string        `json:"kind,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	TopN        int           `json:"top_n"`
	ResultCount int           `json:"result_count"`
	Cached      bool          `json:"cached"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalRuns        int `json:"total_runs"`
	SuccessfulRuns   int `json:"successful_runs"`
	FailedRuns       int `json:"failed_runs"`
	CachedRuns       int `json:"cached_runs"`
	DistinctUsers    int `json:"distinct_users"`
	CatalogRefreshes int `json:"catalog_refreshes"`
}
