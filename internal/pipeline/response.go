package pipeline

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/cache"
	"github.com/TobiSchelling/animerec/internal/database"
	"github.com/TobiSchelling/animerec/internal/recommend"
)

// Response is the structured result of a successful request.
type Response struct {
	Status          string                     `json:"status"`
	Timestamp       string                     `json:"timestamp"`
	ProcessingTime  string                     `json:"processing_time"`
	Username        string                     `json:"username"`
	TopN            int                        `json:"top_n"`
	Count           int                        `json:"count"`
	Cached          bool                       `json:"cached"`
	RunID           string                     `json:"run_id,omitempty"`
	Statistics      recommend.Statistics       `json:"statistics"`
	Recommendations []recommend.Recommendation `json:"recommendations"`

	Steps []StepResult `json:"-"`
}

func (r *Response) stamp(start time.Time) {
	r.Timestamp = time.Now().Format(time.RFC3339)
	r.ProcessingTime = FormatDuration(time.Since(start))
}

// ErrorResponse is the single shape every failure is reported in.
type ErrorResponse struct {
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewErrorResponse normalizes err.
func NewErrorResponse(err error) *ErrorResponse {
	return &ErrorResponse{
		Status:    "error",
		Kind:      string(apperr.KindOf(err)),
		Stage:     string(apperr.StageOf(err)),
		Message:   apperr.Message(err),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// FormatDuration renders a processing time as seconds with two decimals.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// Status summarizes stored state for the status command and endpoint.
type Status struct {
	DataDir       string                   `json:"data_dir"`
	CatalogAge    string                   `json:"catalog_age,omitempty"`
	CatalogFresh  bool                     `json:"catalog_fresh"`
	LastRefresh   *database.CatalogRefresh `json:"last_refresh,omitempty"`
	Runs          *database.Stats          `json:"runs,omitempty"`
	RecentRuns    []database.Run           `json:"recent_runs,omitempty"`
	BlacklistSize int                      `json:"blacklist_size"`
	Cache         cache.Stats              `json:"cache"`
}

// Status collects the current state. Database sections are omitted when
// the service has no database.
func (s *Service) Status() (*Status, error) {
	st := &Status{
		DataDir: s.cfg.GetDataDir(),
		Cache:   s.cache.Stats(),
	}
	if age, ok := s.catalogAge(); ok {
		st.CatalogAge = age.Round(time.Second).String()
		st.CatalogFresh = age < s.cfg.Catalog.MaxAge
	}

	ids, err := s.blacklist.List()
	if err != nil {
		return nil, fmt.Errorf("reading blacklist: %w", err)
	}
	st.BlacklistSize = len(ids)

	if s.db == nil {
		return st, nil
	}
	if st.LastRefresh, err = s.db.GetLastCatalogRefresh(); err != nil {
		return nil, fmt.Errorf("reading last refresh: %w", err)
	}
	if st.Runs, err = s.db.GetStats(); err != nil {
		return nil, fmt.Errorf("reading run stats: %w", err)
	}
	if st.RecentRuns, err = s.db.GetRecentRuns("", 10); err != nil {
		return nil, fmt.Errorf("reading recent runs: %w", err)
	}
	return st, nil
}
