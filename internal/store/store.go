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

// Package store persists the lot catalog, sales leads and financing settings in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a row addressed by ID does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus is returned for a lot status outside the known set
	ErrInvalidStatus = errors.New("invalid lot status")
)

// Store wraps the SQLite database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the database at dbPath and applies the schema
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases shared across queries.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database ready", zap.String("path", dbPath))
	return store, nil
}

func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_busy_timeout=5000&_foreign_keys=on"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates the tables if they don't exist
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS lots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			etapa TEXT NOT NULL DEFAULT '',
			manzana TEXT NOT NULL DEFAULT '',
			numero INTEGER NOT NULL DEFAULT 0,
			area_m2 REAL NOT NULL DEFAULT 0,
			precio INTEGER NOT NULL DEFAULT 0,
			estado TEXT NOT NULL DEFAULT 'disponible',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_etapa_estado ON lots (etapa, estado)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			nombre TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			telefono TEXT NOT NULL DEFAULT '',
			mensaje TEXT NOT NULL DEFAULT '',
			lot_code TEXT NOT NULL DEFAULT '',
			origen TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads (created_at)`,
		`CREATE TABLE IF NOT EXISTS finance_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			min_enganche INTEGER NOT NULL,
			max_enganche INTEGER NOT NULL,
			min_meses INTEGER NOT NULL,
			max_meses INTEGER NOT NULL,
			interes REAL NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns "?, ?, ..." for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
