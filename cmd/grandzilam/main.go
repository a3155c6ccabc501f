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

// Command grandzilam runs the Gran Dzilam API and its maintenance tasks
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	serviceName    = "grandzilam-api"
	serviceVersion = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "grandzilam",
		Short:         "Gran Dzilam sales API",
		Long:          "Serves the Gran Dzilam lot catalog, financing simulator, AI assistant and design generator.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults to ./configs/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newCalcCmd(),
		newSeedCmd(&configPath),
	)

	return rootCmd
}
