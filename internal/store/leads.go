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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLeadLimit = 50
	maxLeadLimit     = 200
)

// Lead is a contact request captured from the public site
type Lead struct {
	ID        string    `json:"id"`
	Nombre    string    `json:"nombre"`
	Email     string    `json:"email"`
	Telefono  string    `json:"telefono"`
	Mensaje   string    `json:"mensaje"`
	LotCode   string    `json:"lotCode"`
	Origen    string    `json:"origen"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeadPage is one page of leads, newest first
type LeadPage struct {
	Items  []Lead `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// CreateLead stores a lead, assigning its ID and creation time
func (s *Store) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	lead.ID = uuid.NewString()
	lead.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, nombre, email, telefono, mensaje, lot_code, origen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, lead.ID, lead.Nombre, lead.Email, lead.Telefono, lead.Mensaje, lead.LotCode, lead.Origen, lead.CreatedAt)
	if err != nil {
		return Lead{}, fmt.Errorf("failed to insert lead: %w", err)
	}

	s.logger.Info("Lead created",
		zap.String("lead_id", lead.ID),
		zap.String("origen", lead.Origen),
		zap.String("lot_code", lead.LotCode))

	return lead, nil
}

// ListLeads returns leads newest first
func (s *Store) ListLeads(ctx context.Context, limit, offset int) (LeadPage, error) {
	if limit <= 0 {
		limit = defaultLeadLimit
	}
	if limit > maxLeadLimit {
		limit = maxLeadLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads").Scan(&total); err != nil {
		return LeadPage{}, fmt.Errorf("failed to count leads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nombre, email, telefono, mensaje, lot_code, origen, created_at
		FROM leads ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return LeadPage{}, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	leads := []Lead{}
	for rows.Next() {
		var lead Lead
		if err := rows.Scan(&lead.ID, &lead.Nombre, &lead.Email, &lead.Telefono,
			&lead.Mensaje, &lead.LotCode, &lead.Origen, &lead.CreatedAt); err != nil {
			return LeadPage{}, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}

	if err := rows.Err(); err != nil {
		return LeadPage{}, fmt.Errorf("error iterating lead rows: %w", err)
	}

	return LeadPage{Items: leads, Total: total, Limit: limit, Offset: offset}, nil
}
