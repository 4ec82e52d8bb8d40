package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorOf(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestClientEmbed(t *testing.T) {
	var got embeddingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": vectorOf(Dimensions, 0.01)}},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test", Model: "text-embedding-3-small"}, server.Client())
	vector, err := client.Embed(context.Background(), "  dor de garganta  ")

	require.NoError(t, err)
	assert.Len(t, vector, Dimensions)
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, "dor de garganta", got.Input)
}

func TestClientEmbedDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": vectorOf(3, 1)}},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, server.Client())
	_, err := client.Embed(context.Background(), "febre")

	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, "decode", embErr.Op)
	assert.Equal(t, http.StatusServiceUnavailable, embErr.HTTPStatus())
}

func TestClientEmbedUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, server.Client())
	_, err := client.Embed(context.Background(), "febre")

	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, http.StatusTooManyRequests, embErr.Status)
	assert.True(t, embErr.Temporary())
	assert.Contains(t, embErr.Error(), "rate limited")
}

func TestClientEmbedTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, server.Client())
	_, err := client.Embed(context.Background(), "febre")

	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.True(t, embErr.Timeout)
}

func TestClientEmbedRejectsEmptyInput(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://unused"}, nil)
	_, err := client.Embed(context.Background(), "   ")

	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, "validate", embErr.Op)
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return vectorOf(4, 0.5), nil
}

func TestCachedEmbedderWithoutRedis(t *testing.T) {
	next := &countingEmbedder{}
	cached := NewCachedEmbedder(next, nil, time.Minute, "m")

	_, err := cached.Embed(context.Background(), "a")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCachedEmbedderFallsThroughOnRedisFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	next := &countingEmbedder{}
	cached := NewCachedEmbedder(next, client, time.Minute, "m")

	vector, err := cached.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
	assert.Equal(t, 1, next.calls)
}

func TestCachedEmbedderPropagatesError(t *testing.T) {
	next := &countingEmbedder{err: &Error{Op: "call", Err: errors.New("boom")}}
	cached := NewCachedEmbedder(next, nil, 0, "m")

	_, err := cached.Embed(context.Background(), "a")
	var embErr *Error
	require.ErrorAs(t, err, &embErr)
}

func TestCacheKeyDependsOnModel(t *testing.T) {
	a := NewCachedEmbedder(nil, nil, 0, "small")
	b := NewCachedEmbedder(nil, nil, 0, "large")
	assert.NotEqual(t, a.cacheKey("febre"), b.cacheKey("febre"))
	assert.Equal(t, a.cacheKey("febre"), a.cacheKey("febre"))
}
