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

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/store"
)

type lotsQuery struct {
	Etapa     string  `form:"etapa"`
	Estado    string  `form:"estado"`
	MinPrecio int64   `form:"minPrecio" binding:"gte=0"`
	MaxPrecio int64   `form:"maxPrecio" binding:"gte=0"`
	MinArea   float64 `form:"minArea" binding:"gte=0"`
	MaxArea   float64 `form:"maxArea" binding:"gte=0"`
	Page      int     `form:"page" binding:"gte=0"`
	PageSize  int     `form:"pageSize" binding:"gte=0"`
}

type lotsResponse struct {
	OK bool `json:"ok"`
	store.LotPage
}

type statusRequest struct {
	Estado string `json:"estado" binding:"required"`
}

func (s *Server) handleListLots(c *gin.Context) {
	var q lotsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}

	filter := store.LotFilter{
		Etapa:     q.Etapa,
		MinPrecio: q.MinPrecio,
		MaxPrecio: q.MaxPrecio,
		MinArea:   q.MinArea,
		MaxArea:   q.MaxArea,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	if q.Estado != "" {
		estado, err := store.ParseLotStatus(q.Estado)
		if err != nil {
			s.respondError(c, resilience.NewBadRequestError("Estado de lote inválido.", err), "listing lots")
			return
		}
		filter.Estado = estado
	}

	page, err := s.deps.Lots.ListLots(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err, "listing lots")
		return
	}

	c.JSON(http.StatusOK, lotsResponse{OK: true, LotPage: page})
}

func (s *Server) handleUpdateLotStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(c, resilience.NewBadRequestError("Identificador de lote inválido.", err), "updating lot status")
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	lot, err := s.deps.Lots.UpdateLotStatus(c.Request.Context(), id, store.LotStatus(req.Estado))
	switch {
	case errors.Is(err, store.ErrInvalidStatus):
		s.respondError(c, resilience.NewBadRequestError("Estado de lote inválido.", err), "updating lot status")
		return
	case errors.Is(err, store.ErrNotFound):
		s.respondError(c, resilience.NewNotFoundError("El lote no existe.", err), "updating lot status")
		return
	case err != nil:
		s.respondError(c, err, "updating lot status")
		return
	}

	ok(c, http.StatusOK, gin.H{"lot": lot})
}
