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
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/resilience"
)

// Middleware rejects requests over the limit with a RATE_LIMITED envelope
func Middleware(limiter *Limiter, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		allowed, remaining, reset := limiter.Allow(c.ClientIP())

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if allowed {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(reset.Sub(limiter.now()).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))

		m.RecordRateLimited(c.FullPath())
		logger.Warn("Rate limit exceeded",
			zap.String("client_ip", c.ClientIP()),
			zap.String("path", c.FullPath()),
			zap.Int("retry_after_seconds", retryAfter))

		requestID := c.GetString(resilience.RequestIDKey)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, resilience.NewRateLimitedError().ToErrorResponse(requestID))
	}
}
