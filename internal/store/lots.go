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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LotStatus is the commercial state of a lot
type LotStatus string

const (
	LotDisponible LotStatus = "disponible"
	LotApartado   LotStatus = "apartado"
	LotVendido    LotStatus = "vendido"
)

const (
	// DefaultPageSize is used when a listing does not ask for a page size
	DefaultPageSize = 12
	// MaxPageSize caps the page size a caller may request
	MaxPageSize = 50
)

// ParseLotStatus validates a status string
func ParseLotStatus(s string) (LotStatus, error) {
	switch status := LotStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case LotDisponible, LotApartado, LotVendido:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Lot is one parcel of the development
type Lot struct {
	ID        int64     `json:"id" yaml:"-"`
	Code      string    `json:"code" yaml:"code"`
	Etapa     string    `json:"etapa" yaml:"etapa"`
	Manzana   string    `json:"manzana" yaml:"manzana"`
	Numero    int       `json:"numero" yaml:"numero"`
	AreaM2    float64   `json:"areaM2" yaml:"area_m2"`
	Precio    int64     `json:"precio" yaml:"precio"`
	Estado    LotStatus `json:"estado" yaml:"estado"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// LotFilter narrows a lot listing. Zero values mean "no filter".
type LotFilter struct {
	Etapa     string
	Estado    LotStatus
	MinPrecio int64
	MaxPrecio int64
	MinArea   float64
	MaxArea   float64
	Page      int
	PageSize  int
}

// LotPage is one page of a lot listing
type LotPage struct {
	Items      []Lot `json:"items"`
	Total      int   `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

const lotColumns = "id, code, etapa, manzana, numero, area_m2, precio, estado, updated_at"

// normalize applies paging defaults and limits
func (f LotFilter) normalize() LotFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// ListLots returns the lots matching the filter, ordered by code
func (s *Store) ListLots(ctx context.Context, filter LotFilter) (LotPage, error) {
	filter = filter.normalize()

	var conditions []string
	var args []interface{}

	if filter.Etapa != "" {
		conditions = append(conditions, "etapa = ?")
		args = append(args, filter.Etapa)
	}

	if filter.Estado != "" {
		conditions = append(conditions, "estado = ?")
		args = append(args, string(filter.Estado))
	}

	if filter.MinPrecio > 0 {
		conditions = append(conditions, "precio >= ?")
		args = append(args, filter.MinPrecio)
	}

	if filter.MaxPrecio > 0 {
		conditions = append(conditions, "precio <= ?")
		args = append(args, filter.MaxPrecio)
	}

	if filter.MinArea > 0 {
		conditions = append(conditions, "area_m2 >= ?")
		args = append(args, filter.MinArea)
	}

	if filter.MaxArea > 0 {
		conditions = append(conditions, "area_m2 <= ?")
		args = append(args, filter.MaxArea)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lots"+where, args...).Scan(&total); err != nil {
		return LotPage{}, fmt.Errorf("failed to count lots: %w", err)
	}

	query := "SELECT " + lotColumns + " FROM lots" + where + " ORDER BY code LIMIT ? OFFSET ?"
	pageArgs := append(append([]interface{}{}, args...), filter.PageSize, (filter.Page-1)*filter.PageSize)

	items, err := s.queryLots(ctx, query, pageArgs...)
	if err != nil {
		return LotPage{}, err
	}

	return LotPage{
		Items:      items,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: (total + filter.PageSize - 1) / filter.PageSize,
	}, nil
}

// GetLotsByIDs returns the lots with the given IDs. Unknown IDs are skipped;
// callers compare lengths to detect them.
func (s *Store) GetLotsByIDs(ctx context.Context, ids []int64) ([]Lot, error) {
	if len(ids) == 0 {
		return []Lot{}, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := "SELECT " + lotColumns + " FROM lots WHERE id IN (" + placeholders(len(ids)) + ") ORDER BY code"
	return s.queryLots(ctx, query, args...)
}

// GetLot returns a single lot
func (s *Store) GetLot(ctx context.Context, id int64) (Lot, error) {
	lots, err := s.GetLotsByIDs(ctx, []int64{id})
	if err != nil {
		return Lot{}, err
	}
	if len(lots) == 0 {
		return Lot{}, fmt.Errorf("lot %d: %w", id, ErrNotFound)
	}
	return lots[0], nil
}

// UpsertLots inserts lots or updates them by code in a single transaction
func (s *Store) UpsertLots(ctx context.Context, lots []Lot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lots (code, etapa, manzana, numero, area_m2, precio, estado, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			etapa = excluded.etapa,
			manzana = excluded.manzana,
			numero = excluded.numero,
			area_m2 = excluded.area_m2,
			precio = excluded.precio,
			estado = excluded.estado,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare lot upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, lot := range lots {
		code := strings.TrimSpace(lot.Code)
		if code == "" {
			return 0, errors.New("lot code is required")
		}
		if lot.Precio < 0 || lot.AreaM2 < 0 {
			return 0, fmt.Errorf("lot %s: price and area must not be negative", code)
		}
		estado := lot.Estado
		if estado == "" {
			estado = LotDisponible
		}
		if estado, err = ParseLotStatus(string(estado)); err != nil {
			return 0, fmt.Errorf("lot %s: %w", code, err)
		}

		if _, err := stmt.ExecContext(ctx, code, lot.Etapa, lot.Manzana, lot.Numero, lot.AreaM2, lot.Precio, string(estado), now); err != nil {
			return 0, fmt.Errorf("failed to upsert lot %s: %w", code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit lots: %w", err)
	}

	s.logger.Info("Lots upserted", zap.Int("count", len(lots)))
	return len(lots), nil
}

// UpdateLotStatus changes the status of a lot and returns the updated row
func (s *Store) UpdateLotStatus(ctx context.Context, id int64, estado LotStatus) (Lot, error) {
	estado, err := ParseLotStatus(string(estado))
	if err != nil {
		return Lot{}, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE lots SET estado = ?, updated_at = ? WHERE id = ?",
		string(estado), time.Now().UTC(), id)
	if err != nil {
		return Lot{}, fmt.Errorf("failed to update lot status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Lot{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return Lot{}, fmt.Errorf("lot %d: %w", id, ErrNotFound)
	}

	return s.GetLot(ctx, id)
}

func (s *Store) queryLots(ctx context.Context, query string, args ...interface{}) ([]Lot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	lots := []Lot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lot rows: %w", err)
	}

	return lots, nil
}

func scanLot(rows *sql.Rows) (Lot, error) {
	var lot Lot
	var estado string
	err := rows.Scan(&lot.ID, &lot.Code, &lot.Etapa, &lot.Manzana, &lot.Numero,
		&lot.AreaM2, &lot.Precio, &estado, &lot.UpdatedAt)
	if err != nil {
		return Lot{}, fmt.Errorf("failed to scan lot: %w", err)
	}
	lot.Estado = LotStatus(estado)
	return lot, nil
}
