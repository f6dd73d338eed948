package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/oss-stamp/internal/cache"
	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/injection"
	"github.com/naka-gawa/oss-stamp/internal/navigation"
)

func TestManager_FetchObserved(t *testing.T) {
	m := NewManager()

	m.FetchObserved("count", nil, 10*time.Millisecond)
	m.FetchObserved("count", domain.NewRateLimitedError("count", time.Now(), errors.New("403")), time.Millisecond)
	m.FetchObserved("profile", domain.NewNotFoundError("profile", errors.New("404")), time.Millisecond)
	m.FetchObserved("profile", errors.New("plain"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("count", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("count", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("profile", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("profile", "transport")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.fetchDuration))
}

func TestManager_CacheAndNavigation(t *testing.T) {
	m := NewManager()

	m.CacheLookup(cache.OutcomeMiss)
	m.CacheLookup(cache.OutcomeCoalesced)
	m.CacheLookup(cache.OutcomeCoalesced)
	m.CacheLoad(nil, time.Second)
	m.CacheLoad(errors.New("x"), time.Second)
	m.NavigationSignal(navigation.SourcePoll, false)
	m.NavigationSignal(navigation.SourceRender, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues(cache.OutcomeCoalesced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLoads.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.navSignals.WithLabelValues(navigation.SourceRender, "true")))
}

func TestManager_InjectionGauge(t *testing.T) {
	m := NewManager()

	m.InjectionEvent(injection.EventMounted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mounted))
	m.InjectionEvent(injection.EventUnmounted)
	m.InjectionEvent(injection.EventAnchorTimeout)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.mounted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.injectionEvent.WithLabelValues(injection.EventAnchorTimeout)))
}

func TestManager_Handler(t *testing.T) {
	m := NewManager()
	m.CacheLookup(cache.OutcomeFresh)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `oss_stamp_cache_lookups_total{outcome="fresh"} 1`)
}
