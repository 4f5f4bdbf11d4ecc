// Package embedding turns text into fixed-width vectors through an external
// provider, memoizing results per (text, model).
package embedding

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/DbChat/internal/logging"
)

// Provider is an embedding backend.
type Provider interface {
	// Embed returns the raw vector for text under model.
	Embed(ctx context.Context, text, model string) ([]float32, error)

	// Name returns the provider name for logging.
	Name() string
}

// sharedCallTimeout bounds one provider call shared by concurrent callers.
const sharedCallTimeout = time.Minute

// modelDimensions lists the output width of known embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// Embedder is the adapter the rest of DbChat calls. It normalizes input,
// consults the cache, and enforces the model's declared dimension.
type Embedder struct {
	provider   Provider
	cache      *Cache
	model      string
	dimensions int
	group      singleflight.Group
	logger     *zap.Logger
}

// Options configures an Embedder.
type Options struct {
	// Model is used by Embed. Required.
	Model string
	// Dimensions overrides the known width of Model. Zero uses the table.
	Dimensions int
	Logger     *zap.Logger
}

// NewEmbedder wires a provider to a cache. A nil cache gets a fresh one.
func NewEmbedder(p Provider, cache *Cache, opts Options) *Embedder {
	if cache == nil {
		cache = NewCache()
	}
	return &Embedder{
		provider:   p,
		cache:      cache,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		logger:     logging.OrNop(opts.Logger).Named("embedding"),
	}
}

// Model returns the default model identifier.
func (e *Embedder) Model() string { return e.model }

// Dimensions returns the declared width for model, or 0 if unknown.
func (e *Embedder) Dimensions(model string) int {
	if model == e.model && e.dimensions > 0 {
		return e.dimensions
	}
	return modelDimensions[model]
}

// Embed embeds text with the default model.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedModel(ctx, text, e.model)
}

// EmbedModel embeds text with the given model. Newlines are replaced with
// spaces before the text is used as a cache key or sent to the provider.
// The returned slice is owned by the caller.
func (e *Embedder) EmbedModel(ctx context.Context, text, model string) ([]float32, error) {
	text = Normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if vec, ok := e.cache.Get(text, model); ok {
		return vec, nil
	}

	want := e.Dimensions(model)
	if want == 0 {
		return nil, &Error{Op: "embed", Model: model, Err: ErrUnknownModel}
	}

	// The call is shared by every concurrent caller for the same key, so it
	// must not inherit one caller's cancellation. Each caller still stops
	// waiting when its own context is done.
	ch := e.group.DoChan(model+"\x00"+text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()

		vec, err := e.provider.Embed(callCtx, text, model)
		if err != nil {
			return nil, &Error{Op: "embed", Model: model, Err: err}
		}
		if len(vec) != want {
			mismatch := &DimensionMismatchError{Model: model, Want: want, Got: len(vec)}
			e.logger.Error("embedding dimension mismatch",
				zap.String("provider", e.provider.Name()),
				zap.String("model", model),
				zap.Int("want", want),
				zap.Int("got", len(vec)),
				zap.Int("text_len", len(text)))
			return nil, mismatch
		}
		e.cache.Put(text, model, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, &Error{Op: "embed", Model: model, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]float32)), nil
	}
}

// Normalize replaces newlines with spaces.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	return strings.ReplaceAll(text, "\n", " ")
}
