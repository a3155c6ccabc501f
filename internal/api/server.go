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

// Package api exposes the Gran Dzilam HTTP API over gin
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/gran-dzilam/internal/chat"
	"github.com/your-org/gran-dzilam/internal/finance"
	"github.com/your-org/gran-dzilam/internal/health"
	"github.com/your-org/gran-dzilam/internal/imagine"
	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/ratelimit"
	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/store"
)

// LotStore is the lot catalog the handlers read and update
type LotStore interface {
	ListLots(ctx context.Context, filter store.LotFilter) (store.LotPage, error)
	GetLotsByIDs(ctx context.Context, ids []int64) ([]store.Lot, error)
	UpdateLotStatus(ctx context.Context, id int64, estado store.LotStatus) (store.Lot, error)
}

// LeadStore persists contact requests
type LeadStore interface {
	CreateLead(ctx context.Context, lead store.Lead) (store.Lead, error)
	ListLeads(ctx context.Context, limit, offset int) (store.LeadPage, error)
}

// SettingsStore persists the financing ranges
type SettingsStore interface {
	Get(ctx context.Context) (finance.Settings, error)
	Save(ctx context.Context, settings finance.Settings) (finance.Settings, error)
}

// ChatService answers visitor messages
type ChatService interface {
	Reply(ctx context.Context, message string, history []chat.Message) (string, error)
}

// ImagineService renders design requests
type ImagineService interface {
	Generate(ctx context.Context, in imagine.Input) (imagine.Result, error)
}

// Dependencies wires the router to its collaborators
type Dependencies struct {
	Lots       LotStore
	Leads      LeadStore
	Settings   SettingsStore
	Chat       ChatService
	Imagine    ImagineService
	Health     *health.Manager
	Limiter    *ratelimit.Limiter
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	AdminToken string
	Logger     *zap.Logger
}

// Server holds the handler state
type Server struct {
	deps   Dependencies
	logger *zap.Logger
	errors *resilience.ErrorHandler
}

// NewRouter builds the gin engine with every route and middleware
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		errors: resilience.NewErrorHandler(deps.Logger),
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Logger(s.logger))
	router.Use(Metrics(deps.Metrics))
	router.Use(Recovery(s.logger))

	router.NoRoute(func(c *gin.Context) {
		s.respondError(c, resilience.NewNotFoundError("Ruta no encontrada.", nil), "route lookup")
	})

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	public := router.Group("/api")
	{
		public.GET("/lots", s.handleListLots)
		public.GET("/finance/settings", s.handleGetFinanceSettings)
		public.POST("/finance/calculate", s.handleCalculate)
	}

	limited := router.Group("/api")
	if deps.Limiter != nil {
		limited.Use(ratelimit.Middleware(deps.Limiter, deps.Metrics, s.logger))
	}
	{
		limited.POST("/leads", s.handleCreateLead)
		limited.POST("/chat", s.handleChat)
		limited.POST("/imagine", s.handleImagine)
	}

	admin := router.Group("/api/admin", AdminAuth(deps.AdminToken, s))
	{
		admin.PUT("/finance/settings", s.handleSaveFinanceSettings)
		admin.PATCH("/lots/:id/status", s.handleUpdateLotStatus)
		admin.GET("/leads", s.handleListLeads)
	}

	return router
}

// respondError writes the error envelope and aborts the chain
func (s *Server) respondError(c *gin.Context, err error, operation string) {
	serviceErr := s.errors.WrapError(err, operation)
	if serviceErr == nil {
		serviceErr = resilience.NewInternalError(nil)
	}
	c.AbortWithStatusJSON(serviceErr.StatusCode, serviceErr.ToErrorResponse(c.GetString(resilience.RequestIDKey)))
}

// badRequest reports a malformed body or query
func (s *Server) badRequest(c *gin.Context, err error) {
	s.respondError(c, resilience.NewBadRequestError("Solicitud inválida.", err), "binding request")
}

func ok(c *gin.Context, status int, body gin.H) {
	body["ok"] = true
	c.JSON(status, body)
}

