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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/your-org/gran-dzilam/internal/config"
	"github.com/your-org/gran-dzilam/internal/store"
)

// lotCatalog is the layout of a seed file
type lotCatalog struct {
	Lots []store.Lot `yaml:"lots"`
}

func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import the lot catalog from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: *configPath})
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger, _, err := initializeLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			lots, err := readCatalog(file)
			if err != nil {
				return err
			}

			st, err := store.NewStore(cfg.Storage.DBPath, logger.Named("store"))
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			n, err := st.UpsertLots(cmd.Context(), lots)
			if err != nil {
				return err
			}

			logger.Info("Catalog imported", zap.String("file", file), zap.Int("lots", n))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d lots\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a top-level 'lots' list")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readCatalog(path string) ([]store.Lot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var catalog lotCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if len(catalog.Lots) == 0 {
		return nil, fmt.Errorf("catalog %s has no lots", path)
	}

	return catalog.Lots, nil
}
