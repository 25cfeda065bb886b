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

package poller

import (
	"sync"

	"github.com/carverauto/guestmem/pkg/inventory"
	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/metrics"
	"github.com/carverauto/guestmem/pkg/models"
	"github.com/carverauto/guestmem/pkg/publish"
)

// State is the health of a VM's memory collection.
type State string

const (
	StateUnknown State = "unknown"
	StateHealthy State = "healthy"
	StateFailed  State = "failed"
)

type vmStatus struct {
	state     State
	lastBytes *uint64
}

// Dependencies are the collaborators driven by the Poller. Discoverer and
// Events are optional.
type Dependencies struct {
	Inventory  inventory.Source
	Fetcher    Fetcher
	Store      publish.Store
	Discoverer Discoverer
	Events     EventPublisher
	Metrics    *metrics.Recorder
	Clock      Clock
	// Host names this node in events.
	Host string
}

// Poller runs the collection loop. Everything below the mutex is owned by the
// loop goroutine; the mutex only guards reads from Status.
type Poller struct {
	config  Config
	deps    Dependencies
	clock   Clock
	logger  logger.Logger
	closers []func() error

	done      chan struct{}
	closeOnce sync.Once
	cancel    func()
	wg        sync.WaitGroup

	mu         sync.RWMutex
	status     map[int]*vmStatus
	ticks      uint64
	inventory  *inventory.Inventory
	discovered []models.VMEntry
	// lastDiscovery is the tick of the last discovery attempt; valid once discoveryRan is set.
	lastDiscovery uint64
	discoveryRan  bool
	warnedNoDisco bool
}
