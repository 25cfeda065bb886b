/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package inventory reads the declarative VM set that drives polling.
package inventory

import (
	"context"
	"fmt"
	"os"

	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
)

// DefaultPath is where the declarative VM set lives on a Proxmox host.
const DefaultPath = "/etc/proxmox-rmem/config.json"

// Inventory is the normalized declarative VM set.
type Inventory struct {
	Auto    bool
	Entries []models.VMEntry
	// Disabled holds explicitly disabled ids; discovery never activates them.
	Disabled map[int]struct{}
}

// IDs returns the explicit VM ids in inventory order.
func (inv *Inventory) IDs() []int {
	ids := make([]int, 0, len(inv.Entries))
	for i := range inv.Entries {
		ids = append(ids, inv.Entries[i].ID)
	}

	return ids
}

// Source yields the current declarative VM set. Errors wrap models.ErrConfig.
type Source interface {
	Load(ctx context.Context) (*Inventory, error)
}

// FileSource re-reads a JSON file on every Load.
type FileSource struct {
	path   string
	logger logger.Logger
}

func NewFileSource(path string, log logger.Logger) *FileSource {
	if path == "" {
		path = DefaultPath
	}

	return &FileSource{path: path, logger: log}
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) Load(_ context.Context) (*Inventory, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", models.ErrConfig, s.path, err)
	}

	return Parse(data, s.logger)
}
