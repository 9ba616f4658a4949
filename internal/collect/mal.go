package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/config"
	"github.com/TobiSchelling/animerec/internal/dataset"
	"github.com/TobiSchelling/animerec/internal/fetch"
)

// ErrListNotFound means MyAnimeList has no public list for the user.
var ErrListNotFound = errors.New("list not found or not public")

// looseString accepts a JSON string or number. MyAnimeList emits numeric
// titles and stringified scores depending on the entry.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(data)
	return nil
}

type listEntry struct {
	AnimeID    looseString `json:"anime_id"`
	AnimeTitle looseString `json:"anime_title"`
	Score      looseString `json:"score"`
	Status     looseString `json:"status"`
}

// HistoryImporter downloads a user's MyAnimeList anime list.
type HistoryImporter struct {
	client   *fetch.Client
	endpoint string
	pageSize int
}

// NewHistoryImporter creates an importer from the history config section.
func NewHistoryImporter(cfg config.History) *HistoryImporter {
	return &HistoryImporter{
		client: fetch.New(fetch.Options{
			Name:      "mal",
			Pace:      cfg.PageDelay,
			Timeout:   cfg.RequestTimeout,
			UserAgent: cfg.UserAgent,
		}),
		endpoint: cfg.Endpoint,
		pageSize: cfg.PageSize,
	}
}

// Import walks the paginated list by offset until an empty or short page.
// An empty list is a valid result.
func (h *HistoryImporter) Import(ctx context.Context, username string) ([]dataset.UserRating, error) {
	var ratings []dataset.UserRating
	skipped := 0
	offset := 0

	for {
		var page []listEntry
		if err := h.client.GetJSON(ctx, h.pageURL(username, offset), &page); err != nil {
			var se *fetch.StatusError
			if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusBadRequest) {
				err = fmt.Errorf("%w: %s (%v)", ErrListNotFound, username, err)
			}
			return nil, apperr.New(apperr.KindUpstream, apperr.StageImport,
				fmt.Errorf("importing list at offset %d: %w", offset, err))
		}
		if len(page) == 0 {
			break
		}

		for _, e := range page {
			r, ok := toRating(e)
			if !ok {
				skipped++
				continue
			}
			ratings = append(ratings, r)
		}
		offset += len(page)
		log.Debug().Str("username", username).Int("offset", offset).Msg("Fetched list page")

		if len(page) < h.pageSize {
			break
		}
	}

	if ratings == nil {
		ratings = []dataset.UserRating{}
	}
	log.Info().Str("username", username).Int("entries", len(ratings)).Int("skipped", skipped).Msg("History import complete")
	return ratings, nil
}

func (h *HistoryImporter) pageURL(username string, offset int) string {
	raw := strings.ReplaceAll(h.endpoint, "{user}", url.PathEscape(username))
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("status", "7")
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}

func toRating(e listEntry) (dataset.UserRating, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(string(e.AnimeID)))
	if err != nil || id <= 0 {
		return dataset.UserRating{}, false
	}
	code, _ := strconv.Atoi(strings.TrimSpace(string(e.Status)))
	return dataset.UserRating{
		CrossRefID:  id,
		Title:       strings.TrimSpace(string(e.AnimeTitle)),
		UserScore:   parseListScore(string(e.Score)),
		WatchStatus: dataset.StatusFromCode(code),
	}, true
}

// parseListScore accepts only plain digits; anything else is unscored.
func parseListScore(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
	}
	return dataset.ParseScore(s)
}
