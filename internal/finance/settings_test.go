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

package finance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Settings)
		wantField string
	}{
		{name: "defaults are valid", mutate: func(*Settings) {}},
		{name: "narrowed ranges are valid", mutate: func(s *Settings) { s.MinEnganche, s.MaxEnganche, s.MinMeses, s.MaxMeses = 20, 40, 12, 36 }},
		{name: "min enganche below hard bound", mutate: func(s *Settings) { s.MinEnganche = 5 }, wantField: "minEnganche"},
		{name: "max enganche above hard bound", mutate: func(s *Settings) { s.MaxEnganche = 90 }, wantField: "maxEnganche"},
		{name: "inverted enganche range", mutate: func(s *Settings) { s.MinEnganche, s.MaxEnganche = 50, 30 }, wantField: "minEnganche"},
		{name: "max meses above hard bound", mutate: func(s *Settings) { s.MaxMeses = 72 }, wantField: "maxMeses"},
		{name: "inverted meses range", mutate: func(s *Settings) { s.MinMeses, s.MaxMeses = 48, 24 }, wantField: "minMeses"},
		{name: "negative interest", mutate: func(s *Settings) { s.InteresAnual = -1 }, wantField: "interes"},
		{name: "NaN interest", mutate: func(s *Settings) { s.InteresAnual = math.NaN() }, wantField: "interes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestSettingsEffective(t *testing.T) {
	s := Settings{MinEnganche: 2, MaxEnganche: 95, MinMeses: 12, MaxMeses: 24, InteresAnual: -3}
	eff := s.Effective()

	assert.Equal(t, int64(MinEnganche), eff.MinEnganche)
	assert.Equal(t, int64(MaxEnganche), eff.MaxEnganche)
	assert.Equal(t, int64(12), eff.MinMeses)
	assert.Equal(t, int64(24), eff.MaxMeses)
	assert.Zero(t, eff.InteresAnual)

	empty := Settings{MinEnganche: 85, MaxEnganche: 90, MinMeses: 1, MaxMeses: 3}.Effective()
	assert.Equal(t, int64(MinEnganche), empty.MinEnganche)
	assert.Equal(t, int64(MaxEnganche), empty.MaxEnganche)
	assert.Equal(t, int64(MinMeses), empty.MinMeses)
	assert.Equal(t, int64(MaxMeses), empty.MaxMeses)
}

func TestSettingsRestrict(t *testing.T) {
	s := Settings{MinEnganche: 20, MaxEnganche: 40, MinMeses: 12, MaxMeses: 36, InteresAnual: 8}

	in := s.Restrict(Input{TotalSeleccionado: 300000, PorcentajeEnganche: 15, Meses: 48})
	assert.Equal(t, 20.0, in.PorcentajeEnganche)
	assert.Equal(t, 36.0, in.Meses)
	require.NotNil(t, in.Interes)
	assert.Equal(t, 8.0, *in.Interes)

	explicit := 0.0
	in = s.Restrict(Input{TotalSeleccionado: 300000, PorcentajeEnganche: math.NaN(), Meses: math.Inf(1), Interes: &explicit})
	assert.Equal(t, 20.0, in.PorcentajeEnganche)
	assert.Equal(t, 12.0, in.Meses)
	assert.Equal(t, 0.0, *in.Interes)

	res, err := Calculate(s.Restrict(Input{TotalSeleccionado: 300000, PorcentajeEnganche: 90, Meses: 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.PorcentajeEnganche)
	assert.Equal(t, int64(12), res.Meses)
}
