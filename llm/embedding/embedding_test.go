package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentcoord/internal/cache"
	"github.com/BaSui01/agentcoord/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- vector math ---

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine(Vector{1, 0}, Vector{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine(Vector{1, 0}, Vector{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine(Vector{1, 0}, Vector{-1, 0}), 1e-9)
	assert.Equal(t, -1.0, Cosine(Vector{1, 0}, Vector{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine(Vector{0, 0}, Vector{1, 0}))
}

func TestMean(t *testing.T) {
	assert.Equal(t, Vector{2, 3}, Mean([]Vector{{1, 2}, {3, 4}}))
	assert.Nil(t, Mean(nil))
	assert.Nil(t, Mean([]Vector{{1}, {1, 2}}))
}

func TestNormalize(t *testing.T) {
	v := Normalize(Vector{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-9)
	assert.InDelta(t, 0.8, v[1], 1e-9)
	assert.Equal(t, Vector{0, 0}, Normalize(Vector{0, 0}))
}

// --- HashingProvider ---

func TestHashingProvider_Deterministic(t *testing.T) {
	p := NewHashingProvider(0)
	ctx := context.Background()

	a, err := p.Embed(ctx, "Plans for launch")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "Plans for launch")
	require.NoError(t, err)

	assert.Len(t, a, DefaultHashingDimensions)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-9)
}

func TestHashingProvider_NearDuplicatesAreSimilar(t *testing.T) {
	p := NewHashingProvider(0)
	ctx := context.Background()

	a, _ := p.Embed(ctx, "Plans for launch")
	b, _ := p.Embed(ctx, "Plan for launch")
	c, _ := p.Embed(ctx, "Quarterly budget review with finance")

	assert.Greater(t, Cosine(a, b), 0.6)
	assert.Less(t, Cosine(a, c), 0.6)
}

func TestHashingProvider_EmptyText(t *testing.T) {
	v, err := NewHashingProvider(8).Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, make(Vector, 8), v)
}

func TestHashingProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingProvider(0).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

// --- CachedProvider ---

type countingProvider struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) Embed(_ context.Context, text string) (Vector, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return Vector{float64(len(text)), 1}, nil
}

type recorder struct {
	mu           sync.Mutex
	hits, misses int
}

func (r *recorder) RecordEmbeddingCache(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestCachedProvider_HitsLocalCache(t *testing.T) {
	inner := &countingProvider{}
	rec := &recorder{}
	p := NewCachedProvider(inner, DefaultCacheConfig(), zap.NewNop(), WithCacheRecorder(rec))
	ctx := context.Background()

	v1, err := p.Embed(ctx, "hello")
	require.NoError(t, err)
	v1[0] = 999 // 调用方修改不影响缓存

	v2, err := p.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, Vector{5, 1}, v2)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)
	assert.Equal(t, "counting", p.Name())
}

func TestCachedProvider_BoundedEviction(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, CacheConfig{MaxEntries: 2}, nil)
	ctx := context.Background()

	for _, s := range []string{"a", "bb", "ccc"} {
		_, err := p.Embed(ctx, s)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.Len())

	// "a" 已被淘汰
	_, _ = p.Embed(ctx, "a")
	assert.Equal(t, int32(4), inner.calls.Load())

	p.Reset()
	assert.Equal(t, 0, p.Len())
}

func TestCachedProvider_TTLExpiry(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, CacheConfig{MaxEntries: 4, TTL: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	_, _ = p.Embed(ctx, "x")
	time.Sleep(20 * time.Millisecond)
	_, _ = p.Embed(ctx, "x")
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedProvider_SingleflightCollapsesConcurrentCalls(t *testing.T) {
	inner := &countingProvider{delay: 50 * time.Millisecond}
	p := NewCachedProvider(inner, DefaultCacheConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Embed(context.Background(), "same")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedProvider_ErrorNotCached(t *testing.T) {
	inner := &countingProvider{err: errors.New("upstream down")}
	p := NewCachedProvider(inner, DefaultCacheConfig(), nil)

	_, err := p.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestCachedProvider_RemoteCacheSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	remote, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "t:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	inner := &countingProvider{}
	ctx := context.Background()

	first := NewCachedProvider(inner, DefaultCacheConfig(), nil, WithRemoteCache(remote))
	_, err = first.Embed(ctx, "shared")
	require.NoError(t, err)

	second := NewCachedProvider(inner, DefaultCacheConfig(), nil, WithRemoteCache(remote))
	v, err := second.Embed(ctx, "shared")
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, Vector{6, 1}, v)
}

// --- OpenAIProvider ---

func TestOpenAIProvider_Embed(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[3,4]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", gotModel)
	assert.InDelta(t, 0.6, v[0], 1e-9)
	assert.InDelta(t, 0.8, v[1], 1e-9)
	assert.Equal(t, "openai:text-embedding-3-small", p.Name())
}

func TestOpenAIProvider_ErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrEmbeddingFailure, types.GetErrorCode(err))
}
