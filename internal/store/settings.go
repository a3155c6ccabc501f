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
	"time"

	"go.uber.org/zap"

	"github.com/your-org/gran-dzilam/internal/finance"
)

// SettingsRepository persists the single row of financing settings
type SettingsRepository struct {
	store    *Store
	defaults finance.Settings
}

// Settings returns a repository that falls back to defaults while nothing is stored
func (s *Store) Settings(defaults finance.Settings) *SettingsRepository {
	return &SettingsRepository{store: s, defaults: defaults}
}

// Get returns the stored settings, or the defaults when none were saved
func (r *SettingsRepository) Get(ctx context.Context) (finance.Settings, error) {
	var settings finance.Settings
	err := r.store.db.QueryRowContext(ctx, `
		SELECT min_enganche, max_enganche, min_meses, max_meses, interes, updated_at
		FROM finance_settings WHERE id = 1
	`).Scan(&settings.MinEnganche, &settings.MaxEnganche, &settings.MinMeses,
		&settings.MaxMeses, &settings.InteresAnual, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.defaults, nil
	}
	if err != nil {
		return finance.Settings{}, fmt.Errorf("failed to load finance settings: %w", err)
	}
	return settings, nil
}

// Save validates and stores the settings, returning them with the new timestamp
func (r *SettingsRepository) Save(ctx context.Context, settings finance.Settings) (finance.Settings, error) {
	if err := settings.Validate(); err != nil {
		return finance.Settings{}, err
	}

	settings.UpdatedAt = time.Now().UTC()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO finance_settings (id, min_enganche, max_enganche, min_meses, max_meses, interes, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			min_enganche = excluded.min_enganche,
			max_enganche = excluded.max_enganche,
			min_meses = excluded.min_meses,
			max_meses = excluded.max_meses,
			interes = excluded.interes,
			updated_at = excluded.updated_at
	`, settings.MinEnganche, settings.MaxEnganche, settings.MinMeses, settings.MaxMeses,
		settings.InteresAnual, settings.UpdatedAt)
	if err != nil {
		return finance.Settings{}, fmt.Errorf("failed to save finance settings: %w", err)
	}

	r.store.logger.Info("Finance settings updated",
		zap.Int64("min_enganche", settings.MinEnganche),
		zap.Int64("max_enganche", settings.MaxEnganche),
		zap.Int64("min_meses", settings.MinMeses),
		zap.Int64("max_meses", settings.MaxMeses),
		zap.Float64("interes", settings.InteresAnual))

	return settings, nil
}
