package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cacheEntries int64) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{
		BaseURL:      ts.URL + "/",
		APIToken:     "test-token",
		Attempts:     3,
		RetryDelay:   time.Millisecond,
		CacheEntries: cacheEntries,
	}, ts.Client())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewClient_RequiresBaseURLAndToken(t *testing.T) {
	_, err := NewClient(Config{APIToken: "x"}, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x"}, nil)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody textRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"result":{"response":"Akwaaba!"},"success":true,"errors":[]}`))
	}, 0)

	out, err := c.Generate(context.Background(), Prompt{
		Messages: []Message{{Role: RoleUser, Content: "greet me"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Akwaaba!", out)
	assert.Equal(t, "/run/"+DefaultTextModel, gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, RoleUser, gotBody.Messages[0].Role)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("endpoint should not be called")
	}, 0)
	_, err := c.Generate(context.Background(), Prompt{})
	assert.Error(t, err)
}

func TestGenerate_UnsuccessfulEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{},"success":false,"errors":[{"message":"model overloaded"}]}`))
	}, 0)
	_, err := c.Generate(context.Background(), Prompt{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestRun_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"response":"ok"},"success":true}`))
	}, 0)

	out, err := c.Generate(context.Background(), Prompt{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}, 0)

	_, err := c.Generate(context.Background(), Prompt{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable), "4xx is a caller error, not unavailability")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_ExhaustedRetriesAreUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}, 0)
	_, err := c.Generate(context.Background(), Prompt{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_CachesVectors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Text) != 1 {
			http.Error(w, "want one text", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"shape":[1,3],"data":[[0.1,0.2,0.3]]},"success":true}`))
	}, 100)

	ctx := context.Background()
	v1, err := c.Embed(ctx, "leave policy")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v1)

	c.cache.Wait()

	v2, err := c.Embed(ctx, "leave policy")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), calls.Load(), "second call should be served from cache")
}

func TestEmbed_CallerCannotCorruptCache(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"shape":[1,2],"data":[[1,2]]},"success":true}`))
	}, 100)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	v1[0] = 999
	c.cache.Wait()

	v2, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v2, "miss result shares memory with the cache")

	v2[1] = -1
	v3, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v3, "hit result shares memory with the cache")
}

func TestEmbed_BadShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"shape":[0],"data":[]},"success":true}`))
	}, 0)
	_, err := c.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("endpoint should not be called")
	}, 0)
	_, err := c.Embed(context.Background(), "   ")
	assert.Error(t, err)
}
