package container_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/quotaguard/internal/analytics"
	"github.com/serroba/quotaguard/internal/container"
	"github.com/serroba/quotaguard/internal/messaging"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() *container.Options {
	return &container.Options{
		Port:           8888,
		LogFormat:      "console",
		Store:          container.BackendMemory,
		Fallback:       container.BackendNone,
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "rl:",
		Algorithm:      "sliding",
		Limit:          2,
		Window:         "1m",
		BurstWindow:    "1h",
		Timeout:        "0s",
		BlockDuration:  "0s",
		IPv6Prefix:     56,
		APIGlobalLimit: 1000,
		APIReadLimit:   600,
		APIWriteLimit:  60,
		APIWindow:      "1m",
		Events:         container.BackendNone,
		ConsumerGroup:  "quotaguard-analytics",
		AnalyticsStore: "noop",
	}
}

func newInjector(t *testing.T, opts *container.Options) *do.Injector {
	t.Helper()

	injector := do.New()
	do.ProvideValue(injector, opts)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.StorePackage(injector)
	container.PublisherGroupPackage(injector)
	container.ConsumerGroupPackage(injector)
	container.RateLimitPackage(injector)
	container.HTTPPackage(injector)

	t.Cleanup(func() { _ = injector.Shutdown() })

	return injector
}

func check(t *testing.T, router http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/check", strings.NewReader(`{"key":"`+key+`"}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func TestHTTPPackage(t *testing.T) {
	injector := newInjector(t, testOptions())

	router := do.MustInvoke[*chi.Mux](injector)
	_ = do.MustInvoke[huma.API](injector)

	t.Run("serves the quota API", func(t *testing.T) {
		first := check(t, router, "client-1")
		require.Equal(t, http.StatusOK, first.Code)
		assert.Contains(t, first.Body.String(), `"allowed":true`)

		check(t, router, "client-1")

		third := check(t, router, "client-1")
		assert.Contains(t, third.Body.String(), `"allowed":false`)
	})

	t.Run("serves health without backends", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"ok"`)
	})
}

func TestHTTPPackage_ProtectsTheAPI(t *testing.T) {
	opts := testOptions()
	opts.APIReadLimit = 1

	injector := newInjector(t, opts)
	router := do.MustInvoke[*chi.Mux](injector)
	_ = do.MustInvoke[huma.API](injector)

	require.Equal(t, http.StatusOK, check(t, router, "client-1").Code)
	assert.Equal(t, http.StatusTooManyRequests, check(t, router, "client-1").Code)
}

func TestHTTPPackage_ResetClearsBurstPool(t *testing.T) {
	opts := testOptions()
	opts.BurstLimit = 1

	injector := newInjector(t, opts)
	router := do.MustInvoke[*chi.Mux](injector)
	_ = do.MustInvoke[huma.API](injector)

	for range 3 {
		require.Contains(t, check(t, router, "client-9").Body.String(), `"allowed":true`)
	}

	require.Contains(t, check(t, router, "client-9").Body.String(), `"allowed":false`)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/keys/client-9", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	for range 3 {
		assert.Contains(t, check(t, router, "client-9").Body.String(), `"allowed":true`)
	}
}

func TestRateLimitPackage(t *testing.T) {
	t.Run("wraps the limiter in a burst pool", func(t *testing.T) {
		opts := testOptions()
		opts.BurstLimit = 5

		checker := do.MustInvoke[ratelimit.Checker](newInjector(t, opts))

		assert.IsType(t, &ratelimit.BurstyLimiter{}, checker)
	})

	t.Run("uses the limiter without a burst pool", func(t *testing.T) {
		checker := do.MustInvoke[ratelimit.Checker](newInjector(t, testOptions()))

		assert.IsType(t, &ratelimit.Limiter{}, checker)
	})

	t.Run("rejects an invalid window", func(t *testing.T) {
		opts := testOptions()
		opts.Window = "soon"

		_, err := do.Invoke[*ratelimit.Limiter](newInjector(t, opts))

		assert.ErrorContains(t, err, "invalid window")
	})

	t.Run("rejects an unknown algorithm", func(t *testing.T) {
		opts := testOptions()
		opts.Algorithm = "leaky"

		_, err := do.Invoke[*ratelimit.Limiter](newInjector(t, opts))

		assert.ErrorIs(t, err, ratelimit.ErrUnknownAlgorithm)
	})

	t.Run("rejects an unknown store", func(t *testing.T) {
		opts := testOptions()
		opts.Store = "etcd"

		_, err := do.Invoke[*ratelimit.Limiter](newInjector(t, opts))

		assert.ErrorContains(t, err, `unknown store backend "etcd"`)
	})

	t.Run("applies the blacklist", func(t *testing.T) {
		opts := testOptions()
		opts.Blacklist = "bad-1, bad-2"

		limiter := do.MustInvoke[*ratelimit.Limiter](newInjector(t, opts))

		d, err := limiter.Check(context.Background(), "bad-2", 1)

		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})
}

func TestMemoryEvents(t *testing.T) {
	opts := testOptions()
	opts.Events = container.BackendMemory

	injector := newInjector(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, do.MustInvoke[*messaging.ConsumerGroup](injector).Start(ctx))

	limiter := do.MustInvoke[*ratelimit.Limiter](injector)

	d, err := limiter.Check(ctx, "client-1", 1)
	require.NoError(t, err)

	select {
	case <-d.Pending:
	case <-time.After(time.Second):
		t.Fatal("decision event was not published")
	}

	assert.NotEmpty(t, do.MustInvokeNamed[string](injector, container.InstanceID))
	assert.NotNil(t, do.MustInvoke[*analytics.Publisher](injector))
}
