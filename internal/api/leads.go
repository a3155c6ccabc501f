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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/store"
)

type leadRequest struct {
	Nombre   string `json:"nombre" binding:"required,max=120"`
	Email    string `json:"email" binding:"omitempty,email,max=254"`
	Telefono string `json:"telefono" binding:"omitempty,max=30"`
	Mensaje  string `json:"mensaje" binding:"max=2000"`
	LotCode  string `json:"lotCode" binding:"max=40"`
	Origen   string `json:"origen" binding:"max=40"`
}

type leadsQuery struct {
	Limit  int `form:"limit" binding:"gte=0"`
	Offset int `form:"offset" binding:"gte=0"`
}

func (s *Server) handleCreateLead(c *gin.Context) {
	var req leadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	lead := store.Lead{
		Nombre:   strings.TrimSpace(req.Nombre),
		Email:    strings.TrimSpace(req.Email),
		Telefono: strings.TrimSpace(req.Telefono),
		Mensaje:  strings.TrimSpace(req.Mensaje),
		LotCode:  strings.TrimSpace(req.LotCode),
		Origen:   strings.TrimSpace(req.Origen),
	}
	if lead.Nombre == "" {
		s.respondError(c, resilience.NewBadRequestError("El nombre es obligatorio.", nil), "creating lead")
		return
	}
	if lead.Email == "" && lead.Telefono == "" {
		s.respondError(c, resilience.NewBadRequestError("Indica un correo o un teléfono de contacto.", nil), "creating lead")
		return
	}
	if lead.Origen == "" {
		lead.Origen = "web"
	}

	created, err := s.deps.Leads.CreateLead(c.Request.Context(), lead)
	if err != nil {
		s.respondError(c, err, "creating lead")
		return
	}

	ok(c, http.StatusCreated, gin.H{"lead": created})
}

func (s *Server) handleListLeads(c *gin.Context) {
	var q leadsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}

	page, err := s.deps.Leads.ListLeads(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		s.respondError(c, err, "listing leads")
		return
	}

	c.JSON(http.StatusOK, leadsResponse{OK: true, LeadPage: page})
}

type leadsResponse struct {
	OK bool `json:"ok"`
	store.LeadPage
}
