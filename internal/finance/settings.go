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
	"fmt"
	"math"
	"time"
)

// Settings are the persisted, user-facing financing ranges managed from the CRM.
// They can only narrow the calculator's hard bounds, never widen them.
type Settings struct {
	MinEnganche  int64     `json:"minEnganche"`
	MaxEnganche  int64     `json:"maxEnganche"`
	MinMeses     int64     `json:"minMeses"`
	MaxMeses     int64     `json:"maxMeses"`
	InteresAnual float64   `json:"interes"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ValidationError reports an invalid settings field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid finance setting '%s': %s", e.Field, e.Message)
}

// DefaultSettings returns settings equal to the calculator's hard bounds
func DefaultSettings() Settings {
	return Settings{
		MinEnganche: MinEnganche,
		MaxEnganche: MaxEnganche,
		MinMeses:    MinMeses,
		MaxMeses:    MaxMeses,
	}
}

// Validate checks that every bound sits inside the hard bounds and that each range is ordered
func (s Settings) Validate() error {
	switch {
	case s.MinEnganche < MinEnganche || s.MinEnganche > MaxEnganche:
		return ValidationError{"minEnganche", fmt.Sprintf("must be between %d and %d", MinEnganche, MaxEnganche)}
	case s.MaxEnganche < MinEnganche || s.MaxEnganche > MaxEnganche:
		return ValidationError{"maxEnganche", fmt.Sprintf("must be between %d and %d", MinEnganche, MaxEnganche)}
	case s.MinEnganche > s.MaxEnganche:
		return ValidationError{"minEnganche", "must not exceed maxEnganche"}
	case s.MinMeses < MinMeses || s.MinMeses > MaxMeses:
		return ValidationError{"minMeses", fmt.Sprintf("must be between %d and %d", MinMeses, MaxMeses)}
	case s.MaxMeses < MinMeses || s.MaxMeses > MaxMeses:
		return ValidationError{"maxMeses", fmt.Sprintf("must be between %d and %d", MinMeses, MaxMeses)}
	case s.MinMeses > s.MaxMeses:
		return ValidationError{"minMeses", "must not exceed maxMeses"}
	case math.IsNaN(s.InteresAnual) || math.IsInf(s.InteresAnual, 0) || s.InteresAnual < 0:
		return ValidationError{"interes", "must be a non-negative number"}
	}
	return nil
}

// Effective intersects the settings with the hard bounds. A range that ends up
// empty collapses to the hard bounds.
func (s Settings) Effective() Settings {
	eff := s
	eff.MinEnganche = maxInt(s.MinEnganche, MinEnganche)
	eff.MaxEnganche = minInt(s.MaxEnganche, MaxEnganche)
	if eff.MinEnganche > eff.MaxEnganche {
		eff.MinEnganche, eff.MaxEnganche = MinEnganche, MaxEnganche
	}
	eff.MinMeses = maxInt(s.MinMeses, MinMeses)
	eff.MaxMeses = minInt(s.MaxMeses, MaxMeses)
	if eff.MinMeses > eff.MaxMeses {
		eff.MinMeses, eff.MaxMeses = MinMeses, MaxMeses
	}
	if !(eff.InteresAnual > 0) || math.IsInf(eff.InteresAnual, 0) {
		eff.InteresAnual = 0
	}
	return eff
}

// Restrict narrows the user-supplied percentage and term into the effective
// ranges before the input reaches Calculate. A missing interest rate takes the
// configured one.
func (s Settings) Restrict(in Input) Input {
	eff := s.Effective()
	out := in
	if math.IsNaN(in.PorcentajeEnganche) {
		out.PorcentajeEnganche = float64(eff.MinEnganche)
	} else {
		out.PorcentajeEnganche = math.Min(math.Max(in.PorcentajeEnganche, float64(eff.MinEnganche)), float64(eff.MaxEnganche))
	}
	if math.IsNaN(in.Meses) || math.IsInf(in.Meses, 0) {
		out.Meses = float64(eff.MinMeses)
	} else {
		out.Meses = math.Min(math.Max(in.Meses, float64(eff.MinMeses)), float64(eff.MaxMeses))
	}
	if out.Interes == nil && eff.InteresAnual > 0 {
		rate := eff.InteresAnual
		out.Interes = &rate
	}
	return out
}

func minInt(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
