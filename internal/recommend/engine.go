// Package recommend turns a merged table into a ranked list of unseen titles.
//
// A run moves through LOAD, VECTORIZE, SCORE, FILTER, RANK and EMIT. Any
// failure ends the run with a classified error and no partial output.
package recommend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/blacklist"
	"github.com/TobiSchelling/animerec/internal/config"
	"github.com/TobiSchelling/animerec/internal/dataset"
	"github.com/TobiSchelling/animerec/internal/metrics"
	"github.com/TobiSchelling/animerec/internal/similarity"
)

// MaxTopN caps the number of results a caller may ask for.
const MaxTopN = 100

// Options tunes the engine.
type Options struct {
	TopN              int
	MinQuality        float64
	MaxComponents     int
	MinComponents     int
	FavoriteThreshold int
	DescriptionLimit  int
}

// OptionsFromConfig maps the recommend config section.
func OptionsFromConfig(cfg config.Recommend) Options {
	return Options{
		TopN:              cfg.TopN,
		MinQuality:        cfg.MinQuality,
		MaxComponents:     cfg.MaxComponents,
		MinComponents:     cfg.MinComponents,
		FavoriteThreshold: cfg.FavoriteThreshold,
		DescriptionLimit:  cfg.DescriptionLimit,
	}
}

// Recommendation is one emitted title.
type Recommendation struct {
	PrimaryID    int      `json:"primary_id"`
	CrossRefID   int      `json:"cross_ref_id"`
	Title        string   `json:"title"`
	QualityScore float64  `json:"quality_score"`
	MediaType    string   `json:"media_type"`
	Genres       []string `json:"genres"`
	Description  string   `json:"description"`
	ExternalURL  string   `json:"external_url,omitempty"`
	HybridScore  float64  `json:"hybrid_score"`
}

// Result is the ranked output plus statistics about the user's list.
type Result struct {
	Recommendations []Recommendation `json:"recommendations"`
	Statistics      Statistics       `json:"statistics"`
	Candidates      int              `json:"-"`
	Components      int              `json:"-"`
}

// Engine scores merged tables. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	opts Options
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.MinComponents <= 0 {
		opts.MinComponents = 1
	}
	if opts.DescriptionLimit <= 0 {
		opts.DescriptionLimit = 300
	}
	return &Engine{opts: opts}
}

// IsCandidate reports whether a record may be recommended at all: the user
// has never interacted with it and it is not blacklisted.
func IsCandidate(rec dataset.MergedRecord, bl blacklist.Set) bool {
	return rec.WatchStatus == dataset.StatusNotInteracted && !bl.Contains(rec.PrimaryID)
}

// RecommendFile loads the merged table at mergedPath and runs the engine on
// it. The user's list is read from ratingsPath; when that is empty the list
// is taken from the merged rows alone.
func (e *Engine) RecommendFile(mergedPath, ratingsPath string, bl blacklist.Set, topN int) (*Result, error) {
	start := time.Now()
	records, err := dataset.ReadMerged(mergedPath)
	var ratings []dataset.UserRating
	if err == nil && ratingsPath != "" {
		ratings, err = dataset.ReadRatings(ratingsPath)
	}
	metrics.ObserveStage(string(apperr.StageLoad), start)
	if err != nil {
		return nil, apperr.New(apperr.KindIntegrity, apperr.StageLoad, fmt.Errorf("reading stored tables: %w", err))
	}
	return e.RecommendWithList(records, ratings, bl, topN)
}

// Recommend runs every stage over records. A topN of zero uses the
// configured default. List statistics are taken from the merged rows.
func (e *Engine) Recommend(records []dataset.MergedRecord, bl blacklist.Set, topN int) (*Result, error) {
	return e.RecommendWithList(records, nil, bl, topN)
}

// RecommendWithList is Recommend with the user's full list, including
// entries that have no catalog row, as the source of list statistics.
func (e *Engine) RecommendWithList(records []dataset.MergedRecord, ratings []dataset.UserRating, bl blacklist.Set, topN int) (*Result, error) {
	topN = e.resolveTopN(topN)

	// LOAD
	start := time.Now()
	docs := make([]string, len(records))
	for i, rec := range records {
		docs[i] = Content(rec)
	}
	metrics.ObserveStage(string(apperr.StageLoad), start)

	// VECTORIZE
	start = time.Now()
	model, err := similarity.Build(docs, similarity.Options{
		MaxComponents: e.opts.MaxComponents,
		MinComponents: e.opts.MinComponents,
	})
	metrics.ObserveStage(string(apperr.StageVectorize), start)
	if err != nil {
		if !errors.Is(err, similarity.ErrInsufficientVocabulary) {
			err = fmt.Errorf("building similarity model: %w", err)
		}
		return nil, apperr.New(apperr.KindModel, apperr.StageVectorize, err)
	}

	// SCORE
	start = time.Now()
	hybrid := HybridScores(model, records)
	metrics.ObserveStage(string(apperr.StageScore), start)

	// FILTER
	start = time.Now()
	var candidates []int
	for i, rec := range records {
		if IsCandidate(rec, bl) && rec.QualityScore >= e.opts.MinQuality {
			candidates = append(candidates, i)
		}
	}
	metrics.ObserveStage(string(apperr.StageFilter), start)

	// RANK
	start = time.Now()
	sort.SliceStable(candidates, func(a, b int) bool {
		ra, rb := records[candidates[a]], records[candidates[b]]
		ha, hb := hybrid[candidates[a]], hybrid[candidates[b]]
		if ha != hb {
			return ha > hb
		}
		if ra.QualityScore != rb.QualityScore {
			return ra.QualityScore > rb.QualityScore
		}
		return ra.PrimaryID < rb.PrimaryID
	})
	metrics.ObserveStage(string(apperr.StageRank), start)

	// EMIT
	start = time.Now()
	n := min(topN, len(candidates))
	out := make([]Recommendation, 0, n)
	for _, idx := range candidates[:n] {
		out = append(out, e.project(records[idx], hybrid[idx]))
	}
	result := &Result{
		Recommendations: out,
		Statistics:      ComputeStatistics(ratings, records, e.opts.FavoriteThreshold),
		Candidates:      len(candidates),
		Components:      model.Components,
	}
	metrics.ObserveStage(string(apperr.StageEmit), start)

	if len(out) == 0 {
		log.Info().Int("catalog", len(records)).Msg("No candidates left after filtering")
	}
	log.Debug().
		Int("components", model.Components).
		Int("vocabulary", model.VocabularySize).
		Int("candidates", len(candidates)).
		Int("returned", len(out)).
		Msg("Recommendation run complete")
	return result, nil
}

func (e *Engine) resolveTopN(n int) int {
	if n <= 0 {
		n = e.opts.TopN
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	return n
}

// HybridScores weights each row of the similarity matrix by the user's
// scores scaled to [0, 1].
func HybridScores(model *similarity.Model, records []dataset.MergedRecord) []float64 {
	type weight struct {
		idx int
		w   float64
	}
	var rated []weight
	for j, rec := range records {
		if rec.UserScore > 0 {
			rated = append(rated, weight{j, float64(rec.UserScore) / 10})
		}
	}

	scores := make([]float64, len(records))
	for i := range records {
		var sum float64
		for _, r := range rated {
			sum += model.Similarity.At(i, r.idx) * r.w
		}
		scores[i] = sum
	}
	return scores
}

// Content is the text a record is vectorized from. Multi-word genres and
// tags are joined into single tokens.
func Content(rec dataset.MergedRecord) string {
	parts := []string{rec.Title, joinLabels(rec.Genres), joinLabels(rec.Tags), rec.Description}
	return strings.Join(parts, " ")
}

func joinLabels(labels []string) string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.Join(strings.Fields(l), ""); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, " ")
}

func (e *Engine) project(rec dataset.MergedRecord, score float64) Recommendation {
	genres := rec.Genres
	if genres == nil {
		genres = []string{}
	}
	return Recommendation{
		PrimaryID:    rec.PrimaryID,
		CrossRefID:   rec.CrossRefID,
		Title:        rec.Title,
		QualityScore: rec.QualityScore,
		MediaType:    rec.MediaType,
		Genres:       genres,
		Description:  truncate(rec.Description, e.opts.DescriptionLimit),
		ExternalURL:  rec.ExternalURL,
		HybridScore:  score,
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "..."
}
