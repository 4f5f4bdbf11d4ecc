package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls atomic.Int32
	dims  int
	err   error
	seen  []string
	mu    sync.Mutex
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Embed(_ context.Context, text, _ string) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, text)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	vec := make([]float32, s.dims)
	vec[0] = float32(len(text))
	return vec, nil
}

func TestEmbed_CachesByTextAndModel(t *testing.T) {
	p := &stubProvider{dims: 4}
	cache := NewCache()
	e := NewEmbedder(p, cache, Options{Model: "m1", Dimensions: 4})

	first, err := e.Embed(context.Background(), "customers table")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "customers table")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestEmbed_DifferentModelIsDifferentKey(t *testing.T) {
	p := &stubProvider{dims: 1536}
	cache := NewCache()
	e := NewEmbedder(p, cache, Options{Model: "text-embedding-3-small"})

	_, err := e.EmbedModel(context.Background(), "orders", "text-embedding-3-small")
	require.NoError(t, err)
	_, err = e.EmbedModel(context.Background(), "orders", "text-embedding-ada-002")
	require.NoError(t, err)

	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestEmbed_NormalizesNewlines(t *testing.T) {
	p := &stubProvider{dims: 2}
	e := NewEmbedder(p, nil, Options{Model: "m", Dimensions: 2})

	_, err := e.Embed(context.Background(), "Table: a\nDescription: b")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "Table: a Description: b")
	require.NoError(t, err)

	assert.Equal(t, []string{"Table: a Description: b"}, p.seen)
}

func TestEmbed_EmptyText(t *testing.T) {
	p := &stubProvider{dims: 2}
	e := NewEmbedder(p, nil, Options{Model: "m", Dimensions: 2})

	_, err := e.Embed(context.Background(), " \n ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Zero(t, p.calls.Load())
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	p := &stubProvider{dims: 3}
	cache := NewCache()
	e := NewEmbedder(p, cache, Options{Model: "text-embedding-3-small"})

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var mismatch *DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1536, mismatch.Want)
	assert.Equal(t, 3, mismatch.Got)
	assert.Zero(t, cache.Len(), "mismatched vectors are not cached")
}

func TestEmbed_ProviderError(t *testing.T) {
	p := &stubProvider{dims: 2, err: errors.New("rate limited")}
	e := NewEmbedder(p, nil, Options{Model: "m", Dimensions: 2})

	_, err := e.Embed(context.Background(), "x")
	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, "m", embErr.Model)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestEmbed_UnknownModel(t *testing.T) {
	e := NewEmbedder(&stubProvider{dims: 2}, nil, Options{Model: "mystery"})

	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestEmbed_ReturnsCopy(t *testing.T) {
	e := NewEmbedder(&stubProvider{dims: 2}, nil, Options{Model: "m", Dimensions: 2})

	v, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	v[0] = 99

	again, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, float32(3), again[0])
}

func TestEmbed_ConcurrentSameKey(t *testing.T) {
	p := &stubProvider{dims: 2}
	e := NewEmbedder(p, nil, Options{Model: "m", Dimensions: 2})

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.Embed(context.Background(), "same text")
			assert.NoError(t, err)
			assert.Len(t, v, 2)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.calls.Load(), int32(32))
	assert.GreaterOrEqual(t, p.calls.Load(), int32(1))
}

// gatedProvider blocks every call until release is closed, unless the call's
// context ends first.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedProvider) Name() string { return "gated" }

func (g *gatedProvider) Embed(ctx context.Context, _, _ string) ([]float32, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return []float32{1, 2}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEmbed_SharedCallSurvivesOneCallerCancelling(t *testing.T) {
	p := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	e := NewEmbedder(p, nil, Options{Model: "m", Dimensions: 2})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.Embed(ctxA, "top customers")
		errA <- err
	}()
	<-p.started

	type result struct {
		vec []float32
		err error
	}
	resB := make(chan result, 1)
	go func() {
		vec, err := e.Embed(context.Background(), "top customers")
		resB <- result{vec, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(p.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, []float32{1, 2}, r.vec)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestOpenAIProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", srv.URL)
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "hello", "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("", "")
	require.Error(t, err)
}
