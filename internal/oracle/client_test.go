package oracle

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/craftctl/internal/testutil/testlog"
)

func testClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL + "/api/pair"
	cfg.MaxAttempts = 3
	cfg.RateLimitCooldown = 20 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestCombineDecodesResultAndSendsQuery(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pair" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if got := r.URL.Query().Get("first"); got != "Hot Water" {
			t.Errorf("first=%q", got)
		}
		if got := r.URL.Query().Get("second"); got != "Fire" {
			t.Errorf("second=%q", got)
		}
		if got := r.Header.Get("Referer"); got != "https://neal.fun/infinite-craft/" {
			t.Errorf("referer=%q", got)
		}
		_, _ = w.Write([]byte(`{"result":"Steam","isNew":true,"emoji":"💨"}`))
	}))
	defer srv.Close()

	res, err := testClient(t, srv, nil).Combine(context.Background(), "Hot Water", "Fire")
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if res != (Result{Output: "Steam", IsNew: true, Glyph: "💨"}) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCombineReusesSessionCookies(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			http.SetCookie(w, &http.Cookie{Name: "affinity", Value: "node-7", Path: "/"})
		} else if c, err := r.Cookie("affinity"); err != nil || c.Value != "node-7" {
			t.Errorf("call %d missing affinity cookie: %v", n, err)
		}
		_, _ = w.Write([]byte(`{"result":"Steam","isNew":false,"emoji":""}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	for i := 0; i < 2; i++ {
		if _, err := c.Combine(context.Background(), "Water", "Fire"); err != nil {
			t.Fatalf("combine %d: %v", i, err)
		}
	}
	u, _ := url.Parse(srv.URL)
	if got := c.Session().Cookies(u); len(got) != 1 {
		t.Fatalf("expected one stored cookie, got %d", len(got))
	}
}

func TestCombineRetriesOverloadThenSucceeds(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"result":"Lava","isNew":false,"emoji":"🌋"}`))
	}))
	defer srv.Close()

	res, err := testClient(t, srv, nil).Combine(context.Background(), "Earth", "Fire")
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if res.Output != "Lava" || calls.Load() != 3 {
		t.Fatalf("output=%q calls=%d", res.Output, calls.Load())
	}
}

func TestCombineRateLimitWaitsCooldown(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"result":"Steam","isNew":false,"emoji":""}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, func(cfg *Config) { cfg.RateLimitCooldown = 80 * time.Millisecond })
	start := time.Now()
	if _, err := c.Combine(context.Background(), "Water", "Fire"); err != nil {
		t.Fatalf("combine: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected cooldown before retry, elapsed=%v", elapsed)
	}
}

func TestCombineExhaustsAttemptsWithLastError(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			want:    ErrForbidden,
		},
		{
			name:    "unexpected status",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    ErrUnexpectedStatus,
		},
		{
			name:    "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"result":`)) },
			want:    ErrMalformedPayload,
		},
		{
			name:    "missing result",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"emoji":"x"}`)) },
			want:    ErrMalformedPayload,
		},
		{
			name:    "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    ErrRateLimited,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tc.handler(w, r)
			}))
			defer srv.Close()

			_, err := testClient(t, srv, nil).Combine(context.Background(), "Water", "Fire")
			if !errors.Is(err, ErrAttemptsExhausted) {
				t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v in chain, got %v", tc.want, err)
			}
			if calls.Load() != 3 {
				t.Fatalf("expected 3 attempts, got %d", calls.Load())
			}
		})
	}
}

func TestCombineCancelDuringCooldown(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv, func(cfg *Config) { cfg.RateLimitCooldown = time.Minute })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Combine(ctx, "Water", "Fire")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancel did not interrupt cooldown")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for attempts, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.Endpoint = "not a url"
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for endpoint, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.RequestsPerSecond = -1
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for rate, got %v", err)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 2, rng)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}
