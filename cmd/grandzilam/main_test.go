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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/gran-dzilam/internal/config"
	"github.com/your-org/gran-dzilam/internal/finance"
	"github.com/your-org/gran-dzilam/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCalcCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    finance.Result
		wantErr bool
	}{
		{
			name: "basic simulation",
			args: []string{"calc", "--total", "1000000", "--enganche", "25", "--meses", "24"},
			want: finance.Result{TotalSeleccionado: 1000000, PorcentajeEnganche: 25, Meses: 24, Enganche: 250000, SaldoFinanciar: 750000, Mensualidad: 31250},
		},
		{
			name: "flat interest",
			args: []string{"calc", "-t", "100000", "-e", "30", "-m", "36", "-i", "10"},
			want: finance.Result{TotalSeleccionado: 100000, PorcentajeEnganche: 30, Meses: 36, Enganche: 30000, SaldoFinanciar: 70000, Mensualidad: 2139},
		},
		{
			name: "out of range values are clamped",
			args: []string{"calc", "--total", "500000", "--enganche", "95", "--meses", "2"},
			want: finance.Result{TotalSeleccionado: 500000, PorcentajeEnganche: 80, Meses: 6, Enganche: 400000, SaldoFinanciar: 100000, Mensualidad: 16667},
		},
		{
			name:    "missing total",
			args:    []string{"calc", "--enganche", "20"},
			wantErr: true,
		},
		{
			name:    "invalid number",
			args:    []string{"calc", "--total", "mucho"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got finance.Result
			require.NoError(t, json.Unmarshal([]byte(out), &got), out)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeedCommand(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "seed.db")

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("storage:\n  db_path: \""+dbPath+"\"\nlogging:\n  level: error\n"), 0600))

	catalogPath := filepath.Join(dir, "lots.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(`
lots:
  - code: "A-01"
    etapa: "1"
    area_m2: 300
    precio: 450000
  - code: "A-02"
    etapa: "1"
    area_m2: 320
    precio: 480000
    estado: vendido
`), 0600))

	out, err := execute(t, "--config", configPath, "seed", "--file", catalogPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 lots")

	st, err := store.NewStore(dbPath, nil)
	require.NoError(t, err)
	defer st.Close()

	page, err := st.ListLots(context.Background(), store.LotFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, 300.0, page.Items[0].AreaM2)
	assert.Equal(t, store.LotDisponible, page.Items[0].Estado)
	assert.Equal(t, store.LotVendido, page.Items[1].Estado)

	// Re-seeding updates in place
	_, err = execute(t, "--config", configPath, "seed", "--file", catalogPath)
	require.NoError(t, err)
	page, err = st.ListLots(context.Background(), store.LotFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestSeedCommandErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("storage:\n  db_path: \""+filepath.Join(dir, "x.db")+"\"\n"), 0600))

	_, err := execute(t, "--config", configPath, "seed")
	assert.Error(t, err, "--file is required")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("lots: []\n"), 0600))
	_, err = execute(t, "--config", configPath, "seed", "--file", empty)
	assert.Error(t, err)

	_, err = execute(t, "--config", configPath, "seed", "--file", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestInitializeLogger(t *testing.T) {
	logger, level, err := initializeLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "level changes apply to the built logger")
}

func TestServeRequiresSecrets(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("storage:\n  db_path: \""+filepath.Join(dir, "x.db")+"\"\n"), 0600))

	_, err := execute(t, "--config", configPath, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.apikey")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", "ADMIN_TOKEN", "DB_PATH", "REDIS_URL", "CONFIG_PATH", "LOG_LEVEL", "LOG_OUTPUT"} {
		t.Setenv(name, "")
	}
}
