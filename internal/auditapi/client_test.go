package auditapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unqork-logs/internal/domain"
)

// staticTokens is a TokenSource handing out tok-1, tok-2, ... and counting
// invalidations.
type staticTokens struct {
	mu          sync.Mutex
	n           int
	current     string
	invalidated []string
}

func (s *staticTokens) Token(context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		s.n++
		s.current = "tok-" + string(rune('0'+s.n))
	}
	return Credential{AccessToken: s.current, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *staticTokens) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, token)
	if s.current == token {
		s.current = ""
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{}
	return NewClient(ClientConfig{
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
		Tokens:      tokens,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	}), tokens
}

var testWindow = domain.NewFetchWindow(
	time.Date(2025, 2, 17, 9, 0, 0, 0, time.UTC),
	time.Date(2025, 2, 17, 10, 0, 0, 0, time.UTC),
)

func TestClient_ListLogLocations(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AuditLogsPath, r.URL.Path)
		assert.Equal(t, "2025-02-17T09:00:00.000Z", r.URL.Query().Get("startDatetime"))
		assert.Equal(t, "2025-02-17T10:00:00.000Z", r.URL.Query().Get("endDatetime"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"logLocations":["https://files.example/a.gz","https://files.example/b.gz"]}`))
	})

	locs, err := c.ListLogLocations(context.Background(), testWindow)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://files.example/a.gz", "https://files.example/b.gz"}, locs)
}

func TestClient_ListLogLocations_Empty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	locs, err := c.ListLogLocations(context.Background(), testWindow)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestClient_ListLogLocations_InvalidJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.ListLogLocations(context.Background(), testWindow)
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestClient_RetriesOnceAfter401(t *testing.T) {
	var calls atomic.Int32
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("payload"))
	})

	body, err := c.Download(context.Background(), c.baseURL+"/files/1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"tok-1"}, tokens.invalidated)
}

func TestClient_Persistent401IsAuthError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Download(context.Background(), c.baseURL+"/files/1")
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(2), calls.Load(), "401 must not go through the transient retry loop")
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"service unavailable", http.StatusServiceUnavailable},
		{"too many requests", http.StatusTooManyRequests},
		{"internal error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= 2 {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte("ok"))
			})

			body, err := c.Download(context.Background(), c.baseURL+"/files/1")
			require.NoError(t, err)
			assert.Equal(t, "ok", string(body))
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestClient_TransientExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Download(context.Background(), c.baseURL+"/files/1")
	var transient *domain.TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusBadGateway, transient.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NonTransientNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such file", http.StatusNotFound)
	})

	_, err := c.Download(context.Background(), c.baseURL+"/files/1")
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "no such file", apiErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{
		BaseURL:     addr,
		Tokens:      &staticTokens{},
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	})
	_, err := c.Download(context.Background(), addr+"/files/1")
	var transient *domain.TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Zero(t, transient.StatusCode)
}

func TestClient_ContextCanceled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Download(ctx, c.baseURL+"/files/1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_RefreshDoesNotAbortInFlightDownloads(t *testing.T) {
	tokenSrv := newTokenServer(t, func(n int32) map[string]any {
		if n == 1 {
			return tokenBody("tok-1", 360)
		}
		return tokenBody("tok-2", 3600)
	})
	tokenSrv.delay = 20 * time.Millisecond
	clock := &fakeClock{}
	tm := newTestTokenManager(tokenSrv.URL)
	tm.now = clock.now

	slowAuth := make(chan string, 1)
	release := make(chan struct{})
	var releaseOnce sync.Once
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if r.URL.Path == "/slow" {
			slowAuth <- auth
			<-release
			_, _ = w.Write([]byte("slow:" + auth))
			return
		}
		_, _ = w.Write([]byte("fast:" + auth))
	}))
	t.Cleanup(fileSrv.Close)
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	c := NewClient(ClientConfig{
		BaseURL:     fileSrv.URL,
		HTTPClient:  fileSrv.Client(),
		Tokens:      tm,
		BaseBackoff: time.Millisecond,
	})
	ctx := context.Background()

	type result struct {
		body []byte
		err  error
	}
	slowDone := make(chan result, 1)
	go func() {
		b, err := c.Download(ctx, fileSrv.URL+"/slow")
		slowDone <- result{b, err}
	}()
	require.Equal(t, "Bearer tok-1", <-slowAuth)

	// tok-1 is now inside its refresh margin.
	clock.advance(4 * time.Minute)

	const workers = 20
	var wg sync.WaitGroup
	bodies := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := c.Download(ctx, fileSrv.URL+"/fast")
			bodies[i], errs[i] = string(b), err
		}(i)
	}
	wg.Wait()
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fast:Bearer tok-2", bodies[i])
	}

	releaseOnce.Do(func() { close(release) })
	res := <-slowDone
	require.NoError(t, res.err)
	assert.Equal(t, "slow:Bearer tok-1", string(res.body))
	assert.Equal(t, int32(2), tokenSrv.calls.Load())
}
