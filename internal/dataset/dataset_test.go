package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`["Action","Slice of Life"]`, []string{"Action", "Slice of Life"}},
		{`['Action', 'Drama']`, []string{"Action", "Drama"}},
		{`['Jojo\'s', "Mahou Shoujo"]`, []string{"Jojo's", "Mahou Shoujo"}},
		{`[]`, []string{}},
		{``, []string{}},
		{`nan`, []string{}},
		{`Action, Drama`, []string{}},
		{`['unterminated`, []string{}},
		{`[1, 2]`, []string{}},
		{`['a' 'b']`, []string{}},
	}
	for _, c := range cases {
		got := DecodeList(c.in)
		if got == nil {
			t.Errorf("DecodeList(%q) returned nil, want empty slice", c.in)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("DecodeList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEncodeListIsJSON(t *testing.T) {
	if got := EncodeList(nil); got != "[]" {
		t.Errorf("expected [] for nil, got %q", got)
	}
	got := EncodeList([]string{"Action", `Say "hi"`})
	if got != `["Action","Say \"hi\""]` {
		t.Errorf("unexpected encoding %q", got)
	}
	if back := DecodeList(got); !reflect.DeepEqual(back, []string{"Action", `Say "hi"`}) {
		t.Errorf("expected decode of encoded list, got %v", back)
	}
}

func TestStatusFromCode(t *testing.T) {
	cases := map[int]WatchStatus{
		1: StatusWatching,
		2: StatusCompleted,
		3: StatusOnHold,
		4: StatusDropped,
		6: StatusPlanToWatch,
		5: StatusNotInteracted,
		0: StatusNotInteracted,
	}
	for code, want := range cases {
		if got := StatusFromCode(code); got != want {
			t.Errorf("code %d: expected %q, got %q", code, want, got)
		}
	}
}

func TestParseWatchStatus(t *testing.T) {
	cases := map[string]WatchStatus{
		"Completed":       StatusCompleted,
		"plan to watch":   StatusPlanToWatch,
		"on_hold":         StatusOnHold,
		"ON-HOLD":         StatusOnHold,
		"":                StatusNotInteracted,
		"NO_INTERACTUADO": StatusNotInteracted,
	}
	for in, want := range cases {
		if got := ParseWatchStatus(in); got != want {
			t.Errorf("ParseWatchStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseScore(t *testing.T) {
	cases := map[string]int{"8": 8, " 10 ": 10, "7.0": 7, "0": 0, "": 0, "abc": 0, "11": 0, "-1": 0, "7.5": 0}
	for in, want := range cases {
		if got := ParseScore(in); got != want {
			t.Errorf("ParseScore(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMergedTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.csv")
	in := []MergedRecord{{
		PrimaryID:    1,
		CrossRefID:   5114,
		UserScore:    9,
		WatchStatus:  StatusCompleted,
		QualityScore: 90,
		Title:        "Fullmetal Alchemist, Brotherhood",
		Genres:       []string{"Action", "Adventure"},
		Tags:         []string{},
		Description:  "Two brothers.\nA \"promise\".",
		MediaType:    "TV",
		EpisodeCount: 64,
		ExternalURL:  "https://anilist.co/anime/5114",
		Studios:      []string{"Bones"},
	}}
	if err := WriteMerged(path, in); err != nil {
		t.Fatalf("WriteMerged: %v", err)
	}

	out, err := ReadMerged(path)
	if err != nil {
		t.Fatalf("ReadMerged: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}

	data, _ := os.ReadFile(path)
	header := strings.SplitN(string(data), "\n", 2)[0]
	if header != strings.Join(MergedColumns, ",") {
		t.Errorf("unexpected header %q", header)
	}
}

func TestReadCatalogIgnoresUnknownColumnsAndSkipsMissingIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	content := "primary_id,cross_ref_id,title,genres,secret_column\n" +
		"1,10,Alpha,\"['Action']\",leak\n" +
		"2,,Bravo,[],leak\n" +
		"3.0,30.0,Charlie,,leak\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	items, err := ReadCatalog(path)
	if err != nil {
		t.Fatalf("ReadCatalog: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].PrimaryID != 1 || !reflect.DeepEqual(items[0].Genres, []string{"Action"}) {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if items[1].PrimaryID != 3 || items[1].CrossRefID != 30 {
		t.Errorf("expected float-typed ids to parse, got %+v", items[1])
	}
}

func TestReadMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	if err := os.WriteFile(path, []byte("title,user_score\nA,5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadRatings(path); err == nil {
		t.Error("expected error for missing cross_ref_id column")
	}
}

func TestReadRatingsCoercesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	content := "cross_ref_id,title,user_score,watch_status\n" +
		"10,A,8,Completed\n" +
		"11,B,n/a,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ratings, err := ReadRatings(path)
	if err != nil {
		t.Fatalf("ReadRatings: %v", err)
	}
	if len(ratings) != 2 {
		t.Fatalf("expected 2 ratings, got %d", len(ratings))
	}
	if ratings[1].UserScore != 0 || ratings[1].WatchStatus != StatusNotInteracted {
		t.Errorf("expected coerced defaults, got %+v", ratings[1])
	}
}
