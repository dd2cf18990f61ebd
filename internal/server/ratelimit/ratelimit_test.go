package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg.CleanupInterval = 0
	l := newLimiter(cfg, clock.Now)
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l, _ := testLimiter(t, &Config{
		Enabled: true,
		EndpointConfigs: []EndpointConfig{
			{Path: "/runs", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},
		},
	})

	ok, info := l.Allow("10.0.0.1", "/runs", "POST")
	assert.True(t, ok)
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 1, info.Remaining)

	ok, _ = l.Allow("10.0.0.1", "/runs", "POST")
	assert.True(t, ok)

	ok, info = l.Allow("10.0.0.1", "/runs", "POST")
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.Greater(t, info.RetryAfter, time.Duration(0))
}

func TestLimiter_Refill(t *testing.T) {
	l, clock := testLimiter(t, &Config{
		Enabled: true,
		EndpointConfigs: []EndpointConfig{
			{Path: "/jobs/", Method: "POST", Limit: 60, Window: time.Minute, Burst: 1},
		},
	})

	ok, _ := l.Allow("c", "/jobs/pdf_extraction", "POST")
	require.True(t, ok)
	ok, _ = l.Allow("c", "/jobs/pdf_extraction", "POST")
	require.False(t, ok)

	clock.Advance(time.Second)
	ok, _ = l.Allow("c", "/jobs/pdf_extraction", "POST")
	assert.True(t, ok)
}

func TestLimiter_ClientsAndRulesAreIndependent(t *testing.T) {
	l, _ := testLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Hour,
		EndpointConfigs: []EndpointConfig{
			{Path: "/runs", Method: "POST", Limit: 1, Window: time.Hour},
		},
	})

	ok, _ := l.Allow("a", "/runs", "POST")
	assert.True(t, ok)
	ok, _ = l.Allow("b", "/runs", "POST")
	assert.True(t, ok, "other client has its own bucket")
	ok, _ = l.Allow("a", "/graph", "GET")
	assert.True(t, ok, "default rule has its own bucket")
	ok, _ = l.Allow("a", "/runs", "POST")
	assert.False(t, ok)
}

func TestLimiter_AllowAndDenyLists(t *testing.T) {
	l, _ := testLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Hour,
		Allowlist:     map[string]bool{"trusted": true},
		Denylist:      map[string]bool{"blocked": true},
	})

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("trusted", "/graph", "GET")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("blocked", "/graph", "GET")
	assert.False(t, ok)
}

func TestLimiter_DisabledAndUnlimited(t *testing.T) {
	l, _ := testLimiter(t, &Config{Enabled: false, DefaultLimit: 1, DefaultWindow: time.Hour})
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("c", "/graph", "GET")
		assert.True(t, ok)
	}

	l, _ = testLimiter(t, &Config{
		Enabled:         true,
		DefaultLimit:    1,
		DefaultWindow:   time.Hour,
		EndpointConfigs: DefaultEndpointConfigs(),
	})
	for i := 0; i < 3; i++ {
		ok, info := l.Allow("c", "/health", "GET")
		assert.True(t, ok)
		assert.Zero(t, info.Limit)
	}
}

func TestLimiter_EvictIdle(t *testing.T) {
	l, clock := testLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  5,
		DefaultWindow: time.Minute,
		IdleTTL:       time.Minute,
	})

	l.Allow("old", "/graph", "GET")
	clock.Advance(2 * time.Minute)
	l.Allow("new", "/graph", "GET")

	assert.Equal(t, 1, l.evictIdle())
	assert.Len(t, l.buckets, 1)
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := testLimiter(t, &Config{
		Enabled: true,
		EndpointConfigs: []EndpointConfig{
			{Path: "/runs", Method: "POST", Limit: 10, Window: time.Hour},
		},
	})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("c", "/runs", "POST"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/jobs/", Method: "POST", Limit: 1},
		{Path: "/jobs/special/", Method: "POST", Limit: 2},
		{Path: "/runs", Method: "POST", Limit: 3},
	}

	assert.Equal(t, 1, MatchEndpoint("/jobs/pdf_extraction", "POST", configs).Limit)
	assert.Equal(t, 2, MatchEndpoint("/jobs/special/x", "POST", configs).Limit)
	assert.Equal(t, 3, MatchEndpoint("/runs", "POST", configs).Limit)
	assert.Nil(t, MatchEndpoint("/runs/abc", "POST", configs))
	assert.Nil(t, MatchEndpoint("/jobs/x", "GET", configs))
}

func TestLoadConfig(t *testing.T) {
	env := map[string]string{
		"RATE_LIMIT_ENABLED":        "false",
		"RATE_LIMIT_DEFAULT_LIMIT":  "42",
		"RATE_LIMIT_DEFAULT_WINDOW": "30s",
		"RATE_LIMIT_ALLOWLIST":      "10.0.0.1, 10.0.0.2",
		"RATE_LIMIT_DENYLIST":       "bogus-value-is-fine",
	}
	cfg := LoadConfig(func(k string) string { return env[k] })

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.True(t, cfg.Allowlist["10.0.0.2"])
	assert.True(t, cfg.Denylist["bogus-value-is-fine"])

	defaults := LoadConfig(func(string) string { return "" })
	assert.True(t, defaults.Enabled)
	assert.Equal(t, DefaultConfig().DefaultLimit, defaults.DefaultLimit)
}
