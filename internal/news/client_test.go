package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2024, 4, 7, 10, 0, 0, 0, time.UTC) }

func newTestClient(url string, retries int) *Client {
	return New(Options{
		BaseURL:    url,
		APIKey:     "secret",
		PageSize:   5,
		Lookback:   28 * 24 * time.Hour,
		RetryCount: retries,
		RetryWait:  time.Millisecond,
		Now:        fixedNow,
	})
}

func writeArticles(w http.ResponseWriter, n int) {
	articles := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		articles = append(articles, map[string]any{
			"source":      map[string]any{"id": nil, "name": fmt.Sprintf("Source %d", i)},
			"author":      fmt.Sprintf("Author %d", i),
			"title":       fmt.Sprintf("Title %d", i),
			"description": fmt.Sprintf("Description %d", i),
			"url":         fmt.Sprintf("https://example.com/%d", i),
			"publishedAt": "2024-04-06T09:00:00Z",
			"content":     "body",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"totalResults": n,
		"articles":     articles,
	})
}

func TestFetch_QueryAndOrder(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/everything", r.URL.Path)
		q := r.URL.Query()
		gotQuery = map[string]string{
			"q":        q.Get("q"),
			"from":     q.Get("from"),
			"sortBy":   q.Get("sortBy"),
			"apiKey":   q.Get("apiKey"),
			"pageSize": q.Get("pageSize"),
		}
		writeArticles(w, 2)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Fetch(context.Background(), "bitcoin")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, map[string]string{
		"q":        "bitcoin",
		"from":     "2024-03-10",
		"sortBy":   "publishedAt",
		"apiKey":   "secret",
		"pageSize": "5",
	}, gotQuery)

	assert.Equal(t, "Title 0", got[0].Title)
	assert.Equal(t, "Source 0", got[0].Source)
	assert.Equal(t, "Title 1", got[1].Title)
	assert.Equal(t, "https://example.com/1", got[1].URL)
}

func TestFetch_BoundsAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","totalResults":9,"articles":[
			{"source":{"name":"A"},"title":"[Removed]","url":"https://removed.net"},
			{"source":{"name":"A"},"title":"","url":"https://no-title.net"},
			{"source":{"name":"A"},"title":"no url","url":""},
			{"source":{"name":"A"},"author":null,"title":"t1","url":"u1"},
			{"source":{"name":"A"},"title":"t2","url":"u2"},
			{"source":{"name":"A"},"title":"t3","url":"u3"},
			{"source":{"name":"A"},"title":"t4","url":"u4"},
			{"source":{"name":"A"},"title":"t5","url":"u5"},
			{"source":{"name":"A"},"title":"t6","url":"u6"}
		]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Fetch(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, got, MaxPageSize)
	for i, a := range got {
		assert.NotEmpty(t, a.Title)
		assert.NotEmpty(t, a.URL)
		assert.Equal(t, fmt.Sprintf("t%d", i+1), a.Title)
	}
}

func TestFetch_UpstreamErrorIsTypedAndEmpty(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 2).Fetch(context.Background(), "bitcoin")
	require.Error(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	var upstream *UpstreamHTTPError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	assert.True(t, IsDegradable(err))
	assert.Equal(t, int32(3), hits.Load(), "one attempt plus two retries")
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","code":"apiKeyInvalid","message":"bad key"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 2).Fetch(context.Background(), "bitcoin")
	assert.Empty(t, got)

	var upstream *UpstreamHTTPError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Equal(t, "apiKeyInvalid", upstream.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeArticles(w, 1)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 2).Fetch(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	got, err := newTestClient(url, 0).Fetch(context.Background(), "bitcoin")
	assert.Empty(t, got)

	var network *NetworkError
	require.True(t, errors.As(err, &network))
	assert.True(t, IsDegradable(err))
}

func TestFetch_EmptyTopic(t *testing.T) {
	got, err := newTestClient("http://127.0.0.1:0", 0).Fetch(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyTopic)
	assert.Empty(t, got)
	assert.False(t, IsDegradable(err))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		assert.Equal(t, tt.want, got, tt.in)
		assert.True(t, utf8.ValidString(got), tt.in)
	}
}
