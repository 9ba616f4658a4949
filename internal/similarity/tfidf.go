// Package similarity turns documents into TF-IDF vectors, reduces them to a
// low-rank latent space and computes their pairwise linear-kernel similarity.
package similarity

import (
	"math"
	"sort"
)

// Entry is one non-zero weight of a sparse row.
type Entry struct {
	Term   int
	Weight float64
}

// TFIDF is a sparse document-term matrix.
type TFIDF struct {
	Vocabulary []string
	Rows       [][]Entry
}

// Vectorize builds L2-normalized TF-IDF rows with raw term counts and the
// smoothed idf ln((1+n)/(1+df)) + 1. Vocabulary terms are sorted.
func Vectorize(docs []string) *TFIDF {
	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		c := make(map[string]int)
		for _, tok := range Tokenize(doc) {
			c[tok]++
		}
		for term := range c {
			df[term]++
		}
		counts[i] = c
	}

	vocab := make([]string, 0, len(df))
	for term := range df {
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)

	index := make(map[string]int, len(vocab))
	idf := make([]float64, len(vocab))
	n := float64(len(docs))
	for i, term := range vocab {
		index[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	rows := make([][]Entry, len(docs))
	for i, c := range counts {
		row := make([]Entry, 0, len(c))
		var norm float64
		for term, cnt := range c {
			w := float64(cnt) * idf[index[term]]
			row = append(row, Entry{Term: index[term], Weight: w})
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range row {
				row[j].Weight /= norm
			}
		}
		sort.Slice(row, func(a, b int) bool { return row[a].Term < row[b].Term })
		rows[i] = row
	}

	return &TFIDF{Vocabulary: vocab, Rows: rows}
}

// Gram returns X·Xᵀ as a dense row-major n×n slice.
func (m *TFIDF) Gram() []float64 {
	n := len(m.Rows)
	postings := make([][]Entry, len(m.Vocabulary))
	for doc, row := range m.Rows {
		for _, e := range row {
			postings[e.Term] = append(postings[e.Term], Entry{Term: doc, Weight: e.Weight})
		}
	}

	g := make([]float64, n*n)
	for _, list := range postings {
		for a, x := range list {
			for _, y := range list[a:] {
				v := x.Weight * y.Weight
				g[x.Term*n+y.Term] += v
				if x.Term != y.Term {
					g[y.Term*n+x.Term] += v
				}
			}
		}
	}
	return g
}
