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
	"context"
	"fmt"

	"github.com/carverauto/guestmem/pkg/discovery"
	"github.com/carverauto/guestmem/pkg/fetch"
	"github.com/carverauto/guestmem/pkg/inventory"
	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/metrics"
	"github.com/carverauto/guestmem/pkg/natsutil"
	"github.com/carverauto/guestmem/pkg/publish"
	"github.com/carverauto/guestmem/pkg/qga"
	"github.com/carverauto/guestmem/pkg/sshexec"
)

// NewService builds a Poller wired to the production transports, the record
// store, pvesh discovery and, when configured, the NATS event stream.
func NewService(ctx context.Context, config *Config, log logger.Logger) (*Poller, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	agent := qga.NewConnector(config.Agent.SocketDir, config.Agent.Options())

	shell, err := sshexec.NewRunner(config.SSH)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote shell runner: %w", err)
	}

	store, err := publish.NewFileStore(config.RecordDir, config.RecordPattern)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		Inventory: inventory.NewFileSource(config.InventoryPath, logger.New(log.WithComponent("inventory"))),
		Fetcher:   fetch.NewDispatcher(agent, shell),
		Store:     store,
		Metrics:   metrics.NewRecorder(nil),
	}

	pvesh, err := discovery.NewPvesh(ctx, config.ControlPlane, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Control plane unavailable, auto-discovery disabled")
	} else {
		deps.Host = pvesh.Node()
		deps.Discoverer = discovery.NewDiscoverer(pvesh, agent, logger.New(log.WithComponent("discovery")),
			uint64(config.DiscoveryEvery), config.Workers)
	}

	var closers []func() error

	if config.NATS.Enabled() {
		publisher, nc, err := natsutil.Connect(ctx, config.NATS, deps.Host, logger.New(log.WithComponent("nats")))
		if err != nil {
			log.Warn().Err(err).Str("url", config.NATS.URL).Msg("NATS unavailable, health events disabled")
		} else {
			deps.Events = publisher
			closers = append(closers, nc.Drain)

			log.Info().Str("subject", publisher.Subject()).Msg("Publishing VM health events")
		}
	}

	p, err := New(config, deps, log)
	if err != nil {
		return nil, err
	}

	for _, fn := range closers {
		p.addCloser(fn)
	}

	return p, nil
}
