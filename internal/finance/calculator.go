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

// Package finance computes the down payment, financed balance and monthly
// installment for a selection of lots.
package finance

import (
	"errors"
	"math"
)

const (
	// MinEnganche is the lowest down payment percentage the calculator accepts
	MinEnganche = 10
	// MaxEnganche is the highest down payment percentage the calculator accepts
	MaxEnganche = 80
	// MinMeses is the shortest financing term in months
	MinMeses = 6
	// MaxMeses is the longest financing term in months
	MaxMeses = 60
	// MinTermFloor is the hard floor for a financing term, independent of any bounds
	MinTermFloor = 1
)

var (
	// ErrInvalidTerm is returned when the sanitized term is below MinTermFloor
	ErrInvalidTerm = errors.New("term must be at least 1 month")
	// ErrInvalidTotal is returned when the selection total is not a finite number
	ErrInvalidTotal = errors.New("total must be a finite number")
)

// Input is a single financing request. Interes is optional and defaults to 0.
type Input struct {
	TotalSeleccionado  float64  `json:"totalSeleccionado"`
	PorcentajeEnganche float64  `json:"porcentajeEnganche"`
	Meses              float64  `json:"meses"`
	Interes            *float64 `json:"interes,omitempty"`
}

// Result holds the rounded financing summary. All amounts are whole currency units.
type Result struct {
	TotalSeleccionado  int64 `json:"totalSeleccionado"`
	PorcentajeEnganche int64 `json:"porcentajeEnganche"`
	Meses              int64 `json:"meses"`
	Enganche           int64 `json:"enganche"`
	SaldoFinanciar     int64 `json:"saldoFinanciar"`
	Mensualidad        int64 `json:"mensualidad"`
}

// SanitizePercentage rounds a down payment percentage and clamps it into
// [MinEnganche, MaxEnganche]. NaN falls back to MinEnganche.
func SanitizePercentage(value float64) int64 {
	if math.IsNaN(value) {
		return MinEnganche
	}
	return clamp(math.Round(value), MinEnganche, MaxEnganche)
}

// SanitizeMonths rounds a term and clamps it into [MinMeses, MaxMeses].
// Non-finite values fall back to MinMeses.
func SanitizeMonths(value float64) int64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MinMeses
	}
	return clamp(math.Round(value), MinMeses, MaxMeses)
}

// Calculate computes the financing summary for the given input.
//
// The percentage and term are always clamped to the calculator's own bounds,
// whatever range the caller exposed to the user. Interest, when positive, is a
// flat percentage of the financed balance spread evenly over the term.
func Calculate(in Input) (Result, error) {
	if math.IsInf(in.TotalSeleccionado, 0) {
		return Result{}, ErrInvalidTotal
	}

	total := in.TotalSeleccionado
	if !(total > 0) {
		total = 0
	}

	porcentaje := SanitizePercentage(in.PorcentajeEnganche)
	meses := SanitizeMonths(in.Meses)

	// Unreachable while MinMeses > MinTermFloor; kept as the hard floor.
	if meses < MinTermFloor {
		return Result{}, ErrInvalidTerm
	}

	if total == 0 {
		return Result{
			PorcentajeEnganche: porcentaje,
			Meses:              meses,
		}, nil
	}

	enganche := math.Round(total * float64(porcentaje) / 100)
	saldo := math.Max(total-enganche, 0)

	interesTotal := 0.0
	if in.Interes != nil && *in.Interes > 0 {
		interesTotal = saldo * *in.Interes / 100
	}

	var mensualidad float64
	if meses > 0 {
		mensualidad = math.Round((saldo + interesTotal) / float64(meses))
	}

	return Result{
		TotalSeleccionado:  int64(math.Round(total)),
		PorcentajeEnganche: porcentaje,
		Meses:              meses,
		Enganche:           int64(enganche),
		SaldoFinanciar:     int64(math.Round(saldo)),
		Mensualidad:        int64(mensualidad),
	}, nil
}

func clamp(value float64, lo, hi int64) int64 {
	if value < float64(lo) {
		return lo
	}
	if value > float64(hi) {
		return hi
	}
	return int64(value)
}
