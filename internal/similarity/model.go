package similarity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientVocabulary is returned when the corpus cannot support the
// minimum number of latent components.
var ErrInsufficientVocabulary = errors.New("insufficient vocabulary for similarity computation")

// Options bounds the latent dimensionality.
type Options struct {
	MaxComponents int
	MinComponents int
}

// Model holds the pairwise similarity of a fixed, ordered set of documents.
type Model struct {
	Similarity     *mat.SymDense
	Components     int
	VocabularySize int
}

// Components returns min(max, vocabulary-1, documents-1).
func Components(maxComponents, vocabulary, documents int) int {
	k := maxComponents
	if vocabulary-1 < k {
		k = vocabulary - 1
	}
	if documents-1 < k {
		k = documents - 1
	}
	if k < 0 {
		return 0
	}
	return k
}

// Build vectorizes docs, projects them onto the top singular directions and
// returns the linear-kernel similarity of the projections. Row and column i
// of the result correspond to docs[i].
func Build(docs []string, opts Options) (*Model, error) {
	tfidf := Vectorize(docs)
	k := Components(opts.MaxComponents, len(tfidf.Vocabulary), len(docs))
	if k < opts.MinComponents || k == 0 {
		return nil, fmt.Errorf("%w: %d terms across %d documents allow %d components, need %d",
			ErrInsufficientVocabulary, len(tfidf.Vocabulary), len(docs), k, opts.MinComponents)
	}

	z, err := Reduce(tfidf, k)
	if err != nil {
		return nil, err
	}
	return &Model{
		Similarity:     LinearKernel(z),
		Components:     k,
		VocabularySize: len(tfidf.Vocabulary),
	}, nil
}

// Reduce returns the rank-k truncated SVD projection U_k·Σ_k of the TF-IDF
// matrix. It is computed from the eigen decomposition of the Gram matrix,
// whose eigenvalues are the squared singular values. The projection is
// unique up to per-component sign, and the kernel built from it is not.
func Reduce(m *TFIDF, k int) (*mat.Dense, error) {
	n := len(m.Rows)
	if k <= 0 || k > n {
		return nil, fmt.Errorf("invalid component count %d for %d documents", k, n)
	}

	gram := mat.NewSymDense(n, m.Gram())
	var eig mat.EigenSym
	if ok := eig.Factorize(gram, true); !ok {
		return nil, errors.New("eigen decomposition did not converge")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Values are ascending; take the k largest.
	z := mat.NewDense(n, k, nil)
	for c := 0; c < k; c++ {
		src := n - 1 - c
		sigma := math.Sqrt(math.Max(values[src], 0))
		for r := 0; r < n; r++ {
			z.Set(r, c, vectors.At(r, src)*sigma)
		}
	}
	return z, nil
}

// LinearKernel returns Z·Zᵀ.
func LinearKernel(z *mat.Dense) *mat.SymDense {
	var s mat.SymDense
	s.SymOuterK(1, z)
	return &s
}
