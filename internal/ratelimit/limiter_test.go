// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLimiterAllow(t *testing.T) {
	clock := newClock()
	limiter := NewLimiter(3, time.Minute, WithClock(clock.Now))

	for i := 2; i >= 0; i-- {
		allowed, remaining, reset := limiter.Allow("1.2.3.4")
		assert.True(t, allowed)
		assert.Equal(t, i, remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), reset)
	}

	allowed, remaining, _ := limiter.Allow("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	// Other clients have their own window
	allowed, _, _ = limiter.Allow("5.6.7.8")
	assert.True(t, allowed)

	clock.Advance(time.Minute)
	allowed, remaining, _ = limiter.Allow("1.2.3.4")
	assert.True(t, allowed, "a new window starts once the previous one has elapsed")
	assert.Equal(t, 2, remaining)
}

func TestLimiterSweep(t *testing.T) {
	clock := newClock()
	limiter := NewLimiter(1, time.Minute, WithClock(clock.Now))

	limiter.Allow("a")
	clock.Advance(30 * time.Second)
	limiter.Allow("b")
	require.Equal(t, 2, limiter.Len())

	assert.Equal(t, 0, limiter.Sweep())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 0, limiter.Len())
}

func TestNewLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(0, 0)
	assert.Equal(t, 1, limiter.Limit())
	assert.Equal(t, time.Minute, limiter.window)
}

func TestLimiterConcurrent(t *testing.T) {
	limiter := NewLimiter(50, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := limiter.Allow("shared"); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clock := newClock()
	limiter := NewLimiter(2, time.Minute, WithClock(clock.Now))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(resilience.RequestIDKey, "req-42")
		c.Next()
	})
	router.POST("/api/chat", Middleware(limiter, m, zaptest.NewLogger(t)), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		router.ServeHTTP(w, req)
		return w
	}

	w := send()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, http.StatusOK, send().Code)

	clock.Advance(20 * time.Second)
	w = send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "40", w.Header().Get("Retry-After"))

	var resp resilience.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, string(resilience.ErrorCodeRateLimited), resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)

	count, err := testutil.GatherAndCount(reg, "grandzilam_rate_limit_rejections_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
