package recommend

import (
	"sort"

	"github.com/TobiSchelling/animerec/internal/dataset"
)

const topLabels = 5

// LabelCount is a genre or tag with its frequency among favorites.
type LabelCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Statistics describes the user's list as seen through the merged table.
type Statistics struct {
	CatalogSize        int            `json:"catalog_size"`
	UserListSize       int            `json:"user_list_size"`
	RatedCount         int            `json:"rated_count"`
	FavoritesCount     int            `json:"favorites_count"`
	FavoriteThreshold  int            `json:"favorite_threshold"`
	TopGenres          []LabelCount   `json:"top_genres"`
	TopTags            []LabelCount   `json:"top_tags"`
	StatusDistribution map[string]int `json:"status_distribution"`
}

// ComputeStatistics summarizes the user's list. List size, rated and
// favorite counts and the status distribution come from ratings, so entries
// missing from the catalog still count. Favorite genres and tags need
// catalog data and come from the matched merged rows. A nil ratings slice
// means the list is only known through records.
func ComputeStatistics(ratings []dataset.UserRating, records []dataset.MergedRecord, favoriteThreshold int) Statistics {
	if ratings == nil {
		ratings = ListFromRecords(records)
	}

	st := Statistics{
		CatalogSize:        len(records),
		UserListSize:       len(ratings),
		FavoriteThreshold:  favoriteThreshold,
		StatusDistribution: make(map[string]int),
	}
	for _, s := range dataset.AllStatuses {
		if s != dataset.StatusNotInteracted {
			st.StatusDistribution[string(s)] = 0
		}
	}

	for _, r := range ratings {
		if r.WatchStatus != dataset.StatusNotInteracted {
			st.StatusDistribution[string(r.WatchStatus)]++
		}
		if r.UserScore > 0 {
			st.RatedCount++
		}
		if isFavorite(r.UserScore, favoriteThreshold) {
			st.FavoritesCount++
		}
	}

	genres := map[string]int{}
	tags := map[string]int{}
	for _, rec := range records {
		if !isFavorite(rec.UserScore, favoriteThreshold) {
			continue
		}
		for _, g := range rec.Genres {
			genres[g]++
		}
		for _, t := range rec.Tags {
			tags[t]++
		}
	}

	st.TopGenres = topCounts(genres, topLabels)
	st.TopTags = topCounts(tags, topLabels)
	return st
}

// ListFromRecords rebuilds the matched part of a user's list from merged
// rows: every row with a status other than NotInteracted or a score.
func ListFromRecords(records []dataset.MergedRecord) []dataset.UserRating {
	out := []dataset.UserRating{}
	for _, rec := range records {
		if rec.WatchStatus == dataset.StatusNotInteracted && rec.UserScore <= 0 {
			continue
		}
		out = append(out, dataset.UserRating{
			CrossRefID:  rec.CrossRefID,
			Title:       rec.Title,
			UserScore:   rec.UserScore,
			WatchStatus: rec.WatchStatus,
		})
	}
	return out
}

func isFavorite(score, threshold int) bool {
	return score > 0 && score >= threshold
}

func topCounts(counts map[string]int, n int) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, LabelCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
