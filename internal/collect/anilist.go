// Package collect pulls the AniList catalog and MyAnimeList user histories
// and normalizes them into dataset rows.
package collect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/config"
	"github.com/TobiSchelling/animerec/internal/dataset"
	"github.com/TobiSchelling/animerec/internal/fetch"
)

const catalogQuery = `query ($page: Int, $perPage: Int) {
  Page(page: $page, perPage: $perPage) {
    media(type: ANIME, sort: POPULARITY_DESC) {
      id
      idMal
      title { romaji english native }
      description(asHtml: false)
      genres
      tags { name }
      averageScore
      episodes
      status
      type
      siteUrl
      studios(isMain: true) { nodes { name } }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]int `json:"variables"`
}

type pageResponse struct {
	Data struct {
		Page struct {
			Media []media `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type media struct {
	ID    int  `json:"id"`
	IDMal *int `json:"idMal"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Description  string   `json:"description"`
	Genres       []string `json:"genres"`
	Tags         []struct {
		Name string `json:"name"`
	} `json:"tags"`
	AverageScore *float64 `json:"averageScore"`
	Episodes     *int     `json:"episodes"`
	Status       string   `json:"status"`
	Type         string   `json:"type"`
	SiteURL      string   `json:"siteUrl"`
	Studios      struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"studios"`
}

// CatalogReport summarizes one catalog fetch.
type CatalogReport struct {
	Pages           int
	Received        int
	Duplicates      int
	MissingCrossRef int
	Items           int
	Duration        time.Duration
}

// CatalogFetcher pages through the AniList popularity listing.
type CatalogFetcher struct {
	client   *fetch.Client
	endpoint string
	perPage  int
	maxPages int
}

// NewCatalogFetcher creates a fetcher from the catalog config section.
func NewCatalogFetcher(cfg config.Catalog) *CatalogFetcher {
	return &CatalogFetcher{
		client: fetch.New(fetch.Options{
			Name:    "anilist",
			Pace:    cfg.PageDelay,
			Timeout: cfg.RequestTimeout,
		}),
		endpoint: cfg.Endpoint,
		perPage:  cfg.PerPage,
		maxPages: cfg.MaxPages,
	}
}

// Fetch requests pages until an empty page or the page limit, then
// normalizes the result. Any upstream failure aborts the whole fetch.
func (f *CatalogFetcher) Fetch(ctx context.Context) ([]dataset.CatalogItem, *CatalogReport, error) {
	start := time.Now()
	report := &CatalogReport{}
	var all []media

	for page := 1; page <= f.maxPages; page++ {
		batch, err := f.fetchPage(ctx, page)
		if err != nil {
			return nil, nil, apperr.New(apperr.KindUpstream, apperr.StageFetch,
				fmt.Errorf("fetching catalog page %d: %w", page, err))
		}
		if len(batch) == 0 {
			break
		}
		report.Pages++
		all = append(all, batch...)
		log.Debug().Int("page", page).Int("items", len(batch)).Msg("Fetched catalog page")
	}

	report.Received = len(all)
	items := normalize(all, report)
	report.Items = len(items)
	report.Duration = time.Since(start)

	log.Info().
		Int("pages", report.Pages).
		Int("items", report.Items).
		Int("duplicates", report.Duplicates).
		Int("missing_mal_id", report.MissingCrossRef).
		Msg("Catalog fetch complete")
	return items, report, nil
}

func (f *CatalogFetcher) fetchPage(ctx context.Context, page int) ([]media, error) {
	req := graphQLRequest{
		Query:     catalogQuery,
		Variables: map[string]int{"page": page, "perPage": f.perPage},
	}
	var resp pageResponse
	if err := f.client.PostJSON(ctx, f.endpoint, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	return resp.Data.Page.Media, nil
}

// normalize drops repeated ids and items without a MyAnimeList mapping.
func normalize(all []media, report *CatalogReport) []dataset.CatalogItem {
	seen := make(map[int]bool, len(all))
	items := make([]dataset.CatalogItem, 0, len(all))
	for _, m := range all {
		if seen[m.ID] {
			report.Duplicates++
			continue
		}
		seen[m.ID] = true
		if m.IDMal == nil || *m.IDMal <= 0 {
			report.MissingCrossRef++
			continue
		}
		items = append(items, toCatalogItem(m))
	}
	return items
}

func toCatalogItem(m media) dataset.CatalogItem {
	item := dataset.CatalogItem{
		PrimaryID:    m.ID,
		CrossRefID:   *m.IDMal,
		Title:        preferredTitle(m),
		Description:  stripHTML(m.Description),
		Genres:       m.Genres,
		AiringStatus: m.Status,
		MediaType:    m.Type,
		ExternalURL:  m.SiteURL,
	}
	if m.AverageScore != nil {
		item.QualityScore = *m.AverageScore
	}
	if m.Episodes != nil {
		item.EpisodeCount = *m.Episodes
	}
	for _, t := range m.Tags {
		if t.Name != "" {
			item.Tags = append(item.Tags, t.Name)
		}
	}
	for _, n := range m.Studios.Nodes {
		if n.Name != "" {
			item.Studios = append(item.Studios, n.Name)
		}
	}
	return item
}

func preferredTitle(m media) string {
	for _, t := range []string{m.Title.English, m.Title.Romaji, m.Title.Native} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// stripHTML reduces an AniList description to plain text with single
// spaces.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("br").ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: " "})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
