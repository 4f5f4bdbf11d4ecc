// Package catalog persists schema elements and their embeddings, and fills
// in embeddings that are missing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/DbChat/internal/logging"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

// Store is a catalog of schema elements.
type Store interface {
	// MissingEmbeddings returns elements that have no embedding yet.
	MissingEmbeddings(ctx context.Context) ([]schema.Element, error)

	// PersistEmbedding stores vec as the embedding of the element with el.ID.
	PersistEmbedding(ctx context.Context, el schema.Element, vec []float32) error

	// AllElements returns every element, tables first then columns, each in
	// insertion order. Embedding is nil for elements not yet embedded.
	AllElements(ctx context.Context) ([]schema.Element, error)

	// Counts reports how many elements exist and how many are embedded.
	Counts(ctx context.Context) (Counts, error)

	// Seed inserts elements whose (table, column) pair is not present yet and
	// returns how many were added. Existing rows are left untouched.
	Seed(ctx context.Context, els []schema.Element) (int, error)

	Close() error
}

// Counts summarizes catalog contents.
type Counts struct {
	Tables         int
	Columns        int
	EmbeddedTables int
	EmbeddedCols   int
}

// Embedded returns the number of elements with an embedding.
func (c Counts) Embedded() int { return c.EmbeddedTables + c.EmbeddedCols }

// ErrNotFound is returned when persisting an embedding for an unknown id.
var ErrNotFound = errors.New("catalog: element not found")

// Embedder computes the vector for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Report describes one Populate run.
type Report struct {
	Missing  int
	Embedded int
	Failed   int
}

// PopulateOptions configures Populate.
type PopulateOptions struct {
	// Concurrency bounds in-flight embedding calls. Values below 1 mean 1.
	Concurrency int
	Logger      *zap.Logger
}

// Populate computes and persists embeddings for every element lacking one.
// A failure on one element is logged and counted, and the rest continue.
// When nothing is missing no embedding calls or writes happen.
func Populate(ctx context.Context, store Store, embedder Embedder, opts PopulateOptions) (Report, error) {
	logger := logging.OrNop(opts.Logger).Named("catalog")

	missing, err := store.MissingEmbeddings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list missing embeddings: %w", err)
	}

	report := Report{Missing: len(missing)}
	if len(missing) == 0 {
		logger.Info("all catalog elements already embedded")
		return report, nil
	}

	logger.Info("embedding catalog elements", zap.Int("missing", len(missing)))

	var embedded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))

	for _, el := range missing {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			vec, err := embedder.Embed(gctx, el.EmbeddingText())
			if err == nil {
				err = store.PersistEmbedding(gctx, el, vec)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				logger.Warn("skipping element",
					zap.String("type", el.Type.String()),
					zap.String("element", el.Key()),
					zap.Error(err))
				return nil
			}

			embedded.Add(1)
			logger.Debug("embedded element", zap.String("element", el.Key()))
			return nil
		})
	}

	err = g.Wait()
	report.Embedded = int(embedded.Load())
	report.Failed = int(failed.Load())

	logger.Info("catalog embedding finished",
		zap.Int("embedded", report.Embedded),
		zap.Int("failed", report.Failed))

	if err != nil {
		return report, fmt.Errorf("populate embeddings: %w", err)
	}
	return report, nil
}
