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

// Package metrics holds the Prometheus collectors exported by the API.
// Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grandzilam"

// Metrics contains Prometheus metrics for the API.
type Metrics struct {
	// HTTP layer
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Outbound AI provider calls
	upstreamAttempts *prometheus.CounterVec
	upstreamRetries  *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	// Admission control
	rateLimitRejections *prometheus.CounterVec

	// Imagine result cache
	cacheLookups *prometheus.CounterVec

	financeCalculations prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		upstreamAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Total number of outbound AI provider attempts",
			},
			[]string{"service"},
		),

		upstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Total number of outbound AI provider retries",
			},
			[]string{"service"},
		),

		upstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_failures_total",
				Help:      "Terminal outbound AI provider failures by error kind",
			},
			[]string{"service", "kind"},
		),

		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Duration of a full outbound call, retries included",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"service"},
		),

		rateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imagine_cache_lookups_total",
				Help:      "Imagine result cache lookups",
			},
			[]string{"result"},
		),

		financeCalculations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "finance_calculations_total",
				Help:      "Financing simulations computed",
			},
		),
	}
}

// ObserveHTTP records a handled request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordUpstreamAttempt records one outbound attempt; retries are attempts after the first.
func (m *Metrics) RecordUpstreamAttempt(service string, attempt int) {
	if m == nil {
		return
	}
	m.upstreamAttempts.WithLabelValues(service).Inc()
	if attempt > 1 {
		m.upstreamRetries.WithLabelValues(service).Inc()
	}
}

// RecordUpstreamResult records the outcome of a full outbound call. kind is empty on success.
func (m *Metrics) RecordUpstreamResult(service, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind != "" {
		m.upstreamFailures.WithLabelValues(service, kind).Inc()
	}
	m.upstreamDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// RecordRateLimited records a rejected request.
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(route).Inc()
}

// RecordCacheLookup records an imagine cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordFinanceCalculation records a computed simulation.
func (m *Metrics) RecordFinanceCalculation() {
	if m == nil {
		return
	}
	m.financeCalculations.Inc()
}
