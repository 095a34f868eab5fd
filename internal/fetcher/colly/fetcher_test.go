package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
)

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Agent", r.UserAgent())
		w.Header().Set("X-Seen-Custom", r.Header.Get("X-Custom"))
		_, _ = w.Write([]byte("<html><body><p>hello</p></body></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte("late"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	f := New(Config{UserAgent: "venue-bot-test", Timeout: 5 * time.Second})

	resp, err := f.Fetch(context.Background(), core.FetchRequest{URL: srv.URL + "/page"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.Equal(t, "venue-bot-test", resp.Headers.Get("X-Seen-Agent"))
	require.Positive(t, resp.Duration)
}

func TestFetchForwardsRequestHeaders(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	f := New(Config{Timeout: 5 * time.Second})

	resp, err := f.Fetch(context.Background(), core.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Custom": {"acceptance"}},
	})
	require.NoError(t, err)
	require.Equal(t, "acceptance", resp.Headers.Get("X-Seen-Custom"))
}

func TestFetchNonSuccessStatusIsError(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	f := New(Config{Timeout: 5 * time.Second})

	_, err := f.Fetch(context.Background(), core.FetchRequest{URL: srv.URL + "/missing"})
	require.Error(t, err)
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	f := New(Config{Timeout: 5 * time.Second})

	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), core.FetchRequest{URL: srv.URL + "/page"})
		require.NoError(t, err, "revisit %d", i)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestFetchContextCancellation(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	f := New(Config{Timeout: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, core.FetchRequest{URL: srv.URL + "/slow"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
