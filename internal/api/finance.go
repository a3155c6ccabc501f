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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/gran-dzilam/internal/finance"
	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/store"
)

const maxLotsPerSimulation = 20

type calculateRequest struct {
	finance.Input
	LotIDs []int64 `json:"lotIds"`
}

type calculateResponse struct {
	OK bool `json:"ok"`
	finance.Result
	Lots []store.Lot `json:"lots,omitempty"`
}

func (s *Server) handleGetFinanceSettings(c *gin.Context) {
	settings, err := s.deps.Settings.Get(c.Request.Context())
	if err != nil {
		s.respondError(c, err, "loading finance settings")
		return
	}

	ok(c, http.StatusOK, gin.H{"settings": settings.Effective()})
}

func (s *Server) handleCalculate(c *gin.Context) {
	var req calculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()

	var lots []store.Lot
	if len(req.LotIDs) > 0 {
		var err error
		lots, err = s.selectedLots(c, req.LotIDs)
		if err != nil {
			s.respondError(c, err, "loading selected lots")
			return
		}
		var total int64
		for _, lot := range lots {
			total += lot.Precio
		}
		req.TotalSeleccionado = float64(total)
	}

	settings, err := s.deps.Settings.Get(ctx)
	if err != nil {
		s.respondError(c, err, "loading finance settings")
		return
	}

	result, err := finance.Calculate(settings.Restrict(req.Input))
	if err != nil {
		s.respondError(c, resilience.NewBadRequestError(err.Error(), err), "calculating financing")
		return
	}

	s.deps.Metrics.RecordFinanceCalculation()
	s.logger.Debug("Financing calculated",
		zap.Int64("total", result.TotalSeleccionado),
		zap.Int64("porcentaje_enganche", result.PorcentajeEnganche),
		zap.Int64("meses", result.Meses),
		zap.Int("lots", len(lots)))

	c.JSON(http.StatusOK, calculateResponse{OK: true, Result: result, Lots: lots})
}

// selectedLots loads the requested lots; every one must exist and be available
func (s *Server) selectedLots(c *gin.Context, ids []int64) ([]store.Lot, error) {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) > maxLotsPerSimulation {
		return nil, resilience.NewBadRequestError(
			fmt.Sprintf("Puedes simular hasta %d lotes a la vez.", maxLotsPerSimulation), nil)
	}

	lots, err := s.deps.Lots.GetLotsByIDs(c.Request.Context(), unique)
	if err != nil {
		return nil, err
	}
	if len(lots) != len(unique) {
		return nil, resilience.NewBadRequestError("Uno o más lotes seleccionados no existen.", nil)
	}
	for _, lot := range lots {
		if lot.Estado != store.LotDisponible {
			return nil, resilience.NewBadRequestError(
				fmt.Sprintf("El lote %s no está disponible.", lot.Code), nil)
		}
	}
	return lots, nil
}

func (s *Server) handleSaveFinanceSettings(c *gin.Context) {
	var settings finance.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		s.badRequest(c, err)
		return
	}

	saved, err := s.deps.Settings.Save(c.Request.Context(), settings)
	var validationErr finance.ValidationError
	if errors.As(err, &validationErr) {
		s.respondError(c, resilience.NewBadRequestError(validationErr.Error(), err), "saving finance settings")
		return
	}
	if err != nil {
		s.respondError(c, err, "saving finance settings")
		return
	}

	ok(c, http.StatusOK, gin.H{"settings": saved})
}
