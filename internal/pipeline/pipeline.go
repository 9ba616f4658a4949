// Package pipeline runs one recommendation request end to end: catalog
// refresh, history import, merge, scoring, caching and run recording.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/blacklist"
	"github.com/TobiSchelling/animerec/internal/cache"
	"github.com/TobiSchelling/animerec/internal/collect"
	"github.com/TobiSchelling/animerec/internal/config"
	"github.com/TobiSchelling/animerec/internal/database"
	"github.com/TobiSchelling/animerec/internal/dataset"
	"github.com/TobiSchelling/animerec/internal/merge"
	"github.com/TobiSchelling/animerec/internal/metrics"
	"github.com/TobiSchelling/animerec/internal/recommend"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,16}$`)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// CatalogSource produces the catalog.
type CatalogSource interface {
	Fetch(ctx context.Context) ([]dataset.CatalogItem, *collect.CatalogReport, error)
}

// HistorySource produces one user's ratings.
type HistorySource interface {
	Import(ctx context.Context, username string) ([]dataset.UserRating, error)
}

// Request is one recommendation request.
type Request struct {
	Username string
	TopN     int
	Refresh  bool
}

// Service owns the long-lived pieces shared by every request. It is safe
// for concurrent use.
type Service struct {
	cfg       *config.Config
	db        *database.DB
	catalog   CatalogSource
	history   HistorySource
	merger    *merge.Merger
	engine    *recommend.Engine
	blacklist *blacklist.Store
	cache     *cache.Cache
	refresh   singleflight.Group
}

// New creates a service. db may be nil, in which case runs are not recorded.
func New(cfg *config.Config, db *database.DB) *Service {
	c := cache.New(cfg.Cache.TTL)
	c.OnHit = metrics.CacheHits.Inc
	c.OnMiss = metrics.CacheMisses.Inc

	return &Service{
		cfg:       cfg,
		db:        db,
		catalog:   collect.NewCatalogFetcher(cfg.Catalog),
		history:   collect.NewHistoryImporter(cfg.History),
		merger:    merge.NewMerger(cfg.Merge.MinRows),
		engine:    recommend.New(recommend.OptionsFromConfig(cfg.Recommend)),
		blacklist: blacklist.NewStore(cfg.BlacklistPath()),
		cache:     c,
	}
}

// WithSources replaces the upstream sources.
func (s *Service) WithSources(catalog CatalogSource, history HistorySource) *Service {
	s.catalog = catalog
	s.history = history
	return s
}

// ValidateUsername applies MyAnimeList's username rules.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return apperr.Errorf(apperr.KindInput, apperr.StageRequest,
			"invalid username %q: use 2-16 letters, digits, '_' or '-'", username)
	}
	return nil
}

// ResolveTopN applies the default and the upper bound to a requested size.
func (s *Service) ResolveTopN(n int) (int, error) {
	switch {
	case n < 0:
		return 0, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "top_n must be positive, got %d", n)
	case n == 0:
		return s.cfg.Recommend.TopN, nil
	case n > recommend.MaxTopN:
		return recommend.MaxTopN, nil
	}
	return n, nil
}

// Recommend serves one request from the cache or by running every step.
func (s *Service) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := s.recommend(ctx, req, start)
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.RecommendationRuns.WithLabelValues(string(kind)).Inc()
		s.recordRun(database.Run{
			Username: req.Username,
			Status:   database.RunError,
			Kind:     string(kind),
			Stage:    string(apperr.StageOf(err)),
			TopN:     req.TopN,
			Message:  apperr.Message(err),
			Duration: time.Since(start),
		})
		log.Error().Err(err).Str("username", req.Username).Str("kind", string(kind)).Msg("Recommendation failed")
		return nil, err
	}

	outcome := "success"
	if resp.Cached {
		outcome = "cached"
	}
	metrics.RecommendationRuns.WithLabelValues(outcome).Inc()
	metrics.RecommendationsReturned.Observe(float64(resp.Count))
	resp.RunID = s.recordRun(database.Run{
		Username:    req.Username,
		Status:      database.RunSuccess,
		TopN:        resp.TopN,
		ResultCount: resp.Count,
		Cached:      resp.Cached,
		Duration:    time.Since(start),
	})
	log.Info().
		Str("username", req.Username).
		Int("count", resp.Count).
		Bool("cached", resp.Cached).
		Str("processing_time", resp.ProcessingTime).
		Msg("Recommendation served")
	return resp, nil
}

func (s *Service) recommend(ctx context.Context, req Request, start time.Time) (*Response, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	topN, err := s.ResolveTopN(req.TopN)
	if err != nil {
		return nil, err
	}

	key := cache.Key{
		Subject: strings.ToLower(req.Username) + ":" + strconv.Itoa(topN),
		Token:   s.blacklist.Version(),
	}
	if !req.Refresh {
		if v, ok := s.cache.Get(key); ok {
			resp := *v.(*Response)
			resp.Cached = true
			resp.stamp(start)
			resp.Steps = []StepResult{{Name: "Cache", Summary: "Served from cache"}}
			return &resp, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Pipeline.Timeout)
	defer cancel()

	var steps []StepResult
	catalogStep, importStep, err := s.Prepare(ctx, req.Username, false)
	steps = append(steps, catalogStep, importStep)
	if err != nil {
		return nil, err
	}

	mergeStep, records, ratings, err := s.merge(req.Username)
	steps = append(steps, mergeStep)
	if err != nil {
		return nil, err
	}

	bl, err := s.blacklist.Load()
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, apperr.StageFilter, fmt.Errorf("loading blacklist: %w", err))
	}

	result, err := s.engine.RecommendWithList(records, ratings, bl, topN)
	if err != nil {
		return nil, err
	}
	steps = append(steps, StepResult{
		Name:    "Recommend",
		Summary: fmt.Sprintf("%d of %d candidates returned", len(result.Recommendations), result.Candidates),
	})

	resp := &Response{
		Status:          "success",
		Username:        req.Username,
		TopN:            topN,
		Count:           len(result.Recommendations),
		Statistics:      result.Statistics,
		Recommendations: result.Recommendations,
	}
	resp.stamp(start)
	s.cache.Set(key, resp)

	out := *resp
	out.Steps = steps
	return &out, nil
}

// RecommendStored ranks from the user's stored merged and ratings tables
// without contacting upstream or the cache.
func (s *Service) RecommendStored(username string, topN int) (*Response, error) {
	start := time.Now()
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	topN, err := s.ResolveTopN(topN)
	if err != nil {
		return nil, err
	}
	bl, err := s.blacklist.Load()
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, apperr.StageFilter, fmt.Errorf("loading blacklist: %w", err))
	}

	result, err := s.engine.RecommendFile(s.cfg.MergedPath(username), s.cfg.RatingsPath(username), bl, topN)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		Status:          "success",
		Username:        username,
		TopN:            topN,
		Count:           len(result.Recommendations),
		Statistics:      result.Statistics,
		Recommendations: result.Recommendations,
		Steps: []StepResult{{
			Name:    "Recommend",
			Summary: fmt.Sprintf("%d of %d candidates returned from stored tables", len(result.Recommendations), result.Candidates),
		}},
	}
	resp.stamp(start)
	return resp, nil
}

// Prepare refreshes the catalog if needed and imports the user's list, in
// parallel. The first failure cancels the other step.
func (s *Service) Prepare(ctx context.Context, username string, forceCatalog bool) (StepResult, StepResult, error) {
	var catalogStep, importStep StepResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		catalogStep = s.EnsureCatalog(gctx, forceCatalog)
		return catalogStep.Err
	})
	g.Go(func() error {
		importStep = s.ImportHistory(gctx, username)
		return importStep.Err
	})
	err := g.Wait()
	return catalogStep, importStep, err
}

// EnsureCatalog fetches the catalog when it is missing, older than the
// configured maximum age, or force is set. Concurrent callers share one
// refresh, which is not cut short when an individual caller gives up.
func (s *Service) EnsureCatalog(ctx context.Context, force bool) StepResult {
	age, exists := s.catalogAge()
	if !force && exists && age < s.cfg.Catalog.MaxAge {
		return StepResult{Name: "Catalog", Summary: fmt.Sprintf("Catalog is fresh (%s old)", age.Round(time.Minute))}
	}

	ch := s.refresh.DoChan("catalog", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Pipeline.Timeout)
		defer cancel()
		return s.refreshCatalog(rctx)
	})

	select {
	case <-ctx.Done():
		return StepResult{Name: "Catalog", Err: apperr.New(apperr.KindUpstream, apperr.StageFetch, ctx.Err())}
	case res := <-ch:
		if res.Err != nil {
			if exists && !force && apperr.KindOf(res.Err) != apperr.KindInternal {
				log.Warn().Err(res.Err).Dur("age", age).Msg("Catalog refresh failed, using previous catalog")
				return StepResult{Name: "Catalog", Summary: "Refresh failed, using previous catalog"}
			}
			return StepResult{Name: "Catalog", Err: res.Err}
		}
		return StepResult{Name: "Catalog", Summary: res.Val.(string)}
	}
}

func (s *Service) refreshCatalog(ctx context.Context) (string, error) {
	start := time.Now()
	items, report, err := s.catalog.Fetch(ctx)
	metrics.ObserveStage(string(apperr.StageFetch), start)
	if err != nil {
		return "", err
	}
	if err := dataset.WriteCatalog(s.cfg.CatalogPath(), items); err != nil {
		return "", apperr.New(apperr.KindInternal, apperr.StageFetch, fmt.Errorf("writing catalog: %w", err))
	}

	if s.db != nil {
		_, err := s.db.InsertCatalogRefresh(database.CatalogRefresh{
			Pages:           report.Pages,
			Items:           report.Items,
			Duplicates:      report.Duplicates,
			MissingCrossRef: report.MissingCrossRef,
			Duration:        report.Duration,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record catalog refresh")
		}
	}
	return fmt.Sprintf("Fetched %d items over %d pages", report.Items, report.Pages), nil
}

// catalogAge reports how old the catalog file is, and false if there is
// no usable catalog.
func (s *Service) catalogAge() (time.Duration, bool) {
	info, err := os.Stat(s.cfg.CatalogPath())
	if err != nil || info.Size() == 0 {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// ImportHistory downloads the user's list and stores it as their ratings
// table.
func (s *Service) ImportHistory(ctx context.Context, username string) StepResult {
	if err := ValidateUsername(username); err != nil {
		return StepResult{Name: "Import", Err: err}
	}
	start := time.Now()
	ratings, err := s.history.Import(ctx, username)
	metrics.ObserveStage(string(apperr.StageImport), start)
	if err != nil {
		return StepResult{Name: "Import", Err: err}
	}
	if err := dataset.WriteRatings(s.cfg.RatingsPath(username), ratings); err != nil {
		return StepResult{Name: "Import", Err: apperr.New(apperr.KindInternal, apperr.StageImport, fmt.Errorf("writing ratings: %w", err))}
	}
	return StepResult{Name: "Import", Summary: fmt.Sprintf("Imported %d list entries for %s", len(ratings), username)}
}

// Merge joins the stored catalog and the user's stored ratings.
func (s *Service) Merge(username string) StepResult {
	if err := ValidateUsername(username); err != nil {
		return StepResult{Name: "Merge", Err: err}
	}
	step, _, _, _ := s.merge(username)
	return step
}

func (s *Service) merge(username string) (StepResult, []dataset.MergedRecord, []dataset.UserRating, error) {
	start := time.Now()
	records, report, err := s.merger.MergeFiles(s.cfg.CatalogPath(), s.cfg.RatingsPath(username), s.cfg.MergedPath(username))
	metrics.ObserveStage(string(apperr.StageMerge), start)
	if err != nil {
		return StepResult{Name: "Merge", Err: err}, nil, nil, err
	}
	return StepResult{
		Name:    "Merge",
		Summary: fmt.Sprintf("Merged %d rows, %d matched list entries", report.Rows, report.MatchedRatings),
	}, records, report.Ratings, nil
}

func (s *Service) recordRun(r database.Run) string {
	if s.db == nil {
		return ""
	}
	id, err := s.db.InsertRun(r)
	if err != nil {
		log.Warn().Err(err).Str("username", r.Username).Msg("Failed to record run")
		return ""
	}
	return id
}

// Blacklist returns the blacklisted primary ids in ascending order.
func (s *Service) Blacklist() ([]int, error) {
	return s.blacklist.List()
}

// AddToBlacklist adds ids and drops every cached result. It returns the ids
// that were not already present.
func (s *Service) AddToBlacklist(ids ...int) ([]int, error) {
	added, err := s.blacklist.Add(ids...)
	if err != nil {
		return nil, blacklistError(err)
	}
	if len(added) > 0 {
		s.cache.Purge()
	}
	return added, nil
}

// RemoveFromBlacklist removes ids and drops every cached result. It returns
// the ids that were present.
func (s *Service) RemoveFromBlacklist(ids ...int) ([]int, error) {
	removed, err := s.blacklist.Remove(ids...)
	if err != nil {
		return nil, blacklistError(err)
	}
	if len(removed) > 0 {
		s.cache.Purge()
	}
	return removed, nil
}

func blacklistError(err error) error {
	if errors.Is(err, blacklist.ErrCorrupt) {
		return apperr.New(apperr.KindIntegrity, apperr.StageRequest, err)
	}
	return apperr.New(apperr.KindInternal, apperr.StageRequest, err)
}

// CleanupCache drops expired cache entries.
func (s *Service) CleanupCache() int {
	return s.cache.Cleanup()
}
