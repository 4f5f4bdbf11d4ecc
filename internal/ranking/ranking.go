// Package ranking orders catalog elements by their embedding similarity to a
// question.
package ranking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/embedding"
	"github.com/JonMunkholm/DbChat/internal/logging"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

const (
	// DefaultTopK is the number of matches returned when topK is not positive.
	DefaultTopK = 10

	fallbackTables  = 5
	fallbackColumns = 5
	fallbackScore   = 1.0
)

// Match is a ranked catalog element. Score is cosine similarity in [-1, 1].
type Match struct {
	Element schema.Element
	Score   float64
}

// Source lists catalog elements.
type Source interface {
	AllElements(ctx context.Context) ([]schema.Element, error)
}

// Embedder embeds the question text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ranker scores catalog elements against questions.
type Ranker struct {
	source      Source
	embedder    Embedder
	searchTerms bool
	logger      *zap.Logger
}

// Options configures a Ranker.
type Options struct {
	// SearchTerms reduces the question to its longer words before embedding.
	SearchTerms bool
	Logger      *zap.Logger
}

// New creates a Ranker.
func New(source Source, embedder Embedder, opts Options) *Ranker {
	return &Ranker{
		source:      source,
		embedder:    embedder,
		searchTerms: opts.SearchTerms,
		logger:      logging.OrNop(opts.Logger).Named("ranking"),
	}
}

// Rank returns at most topK matches in non-increasing score order. Tables and
// columns are ranked together; equal scores keep catalog order. No threshold
// is applied.
//
// When no element has an embedding, or the question cannot be embedded, a
// deterministic listing is returned instead (see Fallback). A stored vector
// whose width differs from the question vector is an error.
func (r *Ranker) Rank(ctx context.Context, question string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	els, err := r.source.AllElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog elements: %w", err)
	}

	embedded := make([]schema.Element, 0, len(els))
	for _, el := range els {
		if el.Embedding != nil {
			embedded = append(embedded, el)
		}
	}
	if len(embedded) == 0 {
		r.logger.Info("no embedded catalog elements, using fallback listing", zap.Int("elements", len(els)))
		return Fallback(els), nil
	}

	text := question
	if r.searchTerms {
		text = SearchTerms(question)
	}

	qvec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			return nil, err
		}
		r.logger.Warn("question embedding failed, using fallback listing", zap.Error(err))
		return Fallback(els), nil
	}

	matches := make([]Match, 0, len(embedded))
	for _, el := range embedded {
		if len(el.Embedding) != len(qvec) {
			return nil, &embedding.DimensionMismatchError{
				Model: "catalog:" + el.Key(),
				Want:  len(qvec),
				Got:   len(el.Embedding),
			}
		}
		matches = append(matches, Match{Element: el, Score: cosineSimilarity(qvec, el.Embedding)})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	r.logger.Debug("ranked catalog elements",
		zap.Int("candidates", len(embedded)),
		zap.Int("returned", len(matches)),
		zap.Float64("best", matches[0].Score))
	return matches, nil
}

// Fallback lists the first five tables by name, each followed by up to five
// of its columns ordered by name, all with score 1.0.
func Fallback(els []schema.Element) []Match {
	var tables []schema.Element
	columns := make(map[string][]schema.Element)
	for _, el := range els {
		switch el.Type {
		case schema.TableElement:
			tables = append(tables, el)
		case schema.ColumnElement:
			columns[el.TableName] = append(columns[el.TableName], el)
		}
	}

	slices.SortStableFunc(tables, func(a, b schema.Element) int {
		return strings.Compare(a.TableName, b.TableName)
	})
	if len(tables) > fallbackTables {
		tables = tables[:fallbackTables]
	}

	var out []Match
	for _, t := range tables {
		out = append(out, Match{Element: t, Score: fallbackScore})

		cols := columns[t.TableName]
		slices.SortStableFunc(cols, func(a, b schema.Element) int {
			return strings.Compare(a.ColumnName, b.ColumnName)
		})
		for _, c := range cols[:min(len(cols), fallbackColumns)] {
			out = append(out, Match{Element: c, Score: fallbackScore})
		}
	}
	return out
}

// SearchTerms lowercases the question, keeps the words of three or more
// characters and joins them with " & ". A question with no such words is
// returned unchanged.
func SearchTerms(question string) string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return question
	}
	return strings.Join(terms, " & ")
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
