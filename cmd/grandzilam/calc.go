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
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/your-org/gran-dzilam/internal/finance"
)

func newCalcCmd() *cobra.Command {
	var in finance.Input
	var interes float64

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Compute a financing simulation and print it as JSON",
		Example: "  grandzilam calc --total 850000 --enganche 20 --meses 36\n" +
			"  grandzilam calc --total 850000 --enganche 20 --meses 36 --interes 8",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("interes") {
				in.Interes = &interes
			}

			result, err := finance.Calculate(in)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().Float64VarP(&in.TotalSeleccionado, "total", "t", 0, "Total price of the selected lots")
	cmd.Flags().Float64VarP(&in.PorcentajeEnganche, "enganche", "e", finance.MinEnganche, "Down payment percentage")
	cmd.Flags().Float64VarP(&in.Meses, "meses", "m", finance.MinMeses, "Term in months")
	cmd.Flags().Float64VarP(&interes, "interes", "i", 0, "Flat interest percentage applied to the financed balance")
	_ = cmd.MarkFlagRequired("total")

	return cmd
}
