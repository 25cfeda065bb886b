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

// Package discovery finds running VMs with an enabled guest agent on this host and
// classifies their OS family, caching classifications across ticks.
package discovery

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
)

const (
	DefaultCacheTTL = 60
	DefaultWorkers  = 5
)

type cacheEntry struct {
	family      models.OSFamily
	lastChecked uint64
}

// Discoverer owns the classification cache. Discover must be called from a
// single goroutine; probes run in parallel but only that caller writes the cache.
type Discoverer struct {
	controlPlane ControlPlane
	agent        GuestAgent
	logger       logger.Logger
	ttl          uint64
	workers      int
	cache        map[int]cacheEntry
}

// NewDiscoverer creates a Discoverer. ttl is in ticks; zero values take the defaults.
func NewDiscoverer(cp ControlPlane, agent GuestAgent, log logger.Logger, ttl uint64, workers int) *Discoverer {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	if workers <= 0 {
		workers = DefaultWorkers
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Discoverer{
		controlPlane: cp,
		agent:        agent,
		logger:       log,
		ttl:          ttl,
		workers:      workers,
		cache:        make(map[int]cacheEntry),
	}
}

// ListEligible returns the ids of running VMs whose guest agent is enabled,
// sorted ascending. Only a failed list query is an error.
func (d *Discoverer) ListEligible(ctx context.Context) ([]int, error) {
	vms, err := d.controlPlane.ListVMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list VMs: %w", models.ErrDiscovery, err)
	}

	var running []int

	for i := range vms {
		if vms[i].Status == statusRunning {
			running = append(running, vms[i].VMID)
		}
	}

	enabled := make([]bool, len(running))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i, vmid := range running {
		g.Go(func() error {
			cfg, err := d.controlPlane.VMConfig(gctx, vmid)
			if err != nil {
				d.logger.Debug().Err(err).Int("vmid", vmid).Msg("Skipping VM, config query failed")

				return nil
			}

			enabled[i] = AgentEnabled(cfg["agent"])

			return nil
		})
	}

	_ = g.Wait()

	var ids []int

	for i, vmid := range running {
		if enabled[i] {
			ids = append(ids, vmid)
		}
	}

	sort.Ints(ids)

	return ids, nil
}

// Classify probes a single VM through its guest agent.
func (d *Discoverer) Classify(ctx context.Context, vmid int) (models.OSFamily, error) {
	return Classify(ctx, d.agent, vmid)
}

type probe struct {
	vmid   int
	family models.OSFamily
	err    error
}

// Discover lists eligible VMs, re-probes those without a fresh classification
// and returns agent-transport entries for every VM with a known family.
// A VM whose re-probe fails keeps its previous family; one never classified is skipped.
func (d *Discoverer) Discover(ctx context.Context, tick uint64) ([]models.VMEntry, error) {
	ids, err := d.ListEligible(ctx)
	if err != nil {
		return nil, err
	}

	var stale []int

	for _, vmid := range ids {
		if entry, ok := d.cache[vmid]; !ok || tick-entry.lastChecked >= d.ttl {
			stale = append(stale, vmid)
		}
	}

	probes := make([]probe, len(stale))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i, vmid := range stale {
		g.Go(func() error {
			family, err := d.Classify(gctx, vmid)
			probes[i] = probe{vmid: vmid, family: family, err: err}

			return nil
		})
	}

	_ = g.Wait()

	for _, p := range probes {
		if p.err != nil || p.family == models.OSUnknown {
			d.logger.Debug().Err(p.err).Int("vmid", p.vmid).Msg("OS classification failed")

			continue
		}

		if prev, ok := d.cache[p.vmid]; ok && prev.family != p.family {
			d.logger.Info().Int("vmid", p.vmid).
				Str("previous", prev.family.String()).
				Str("current", p.family.String()).
				Msg("VM OS family changed")
		}

		d.cache[p.vmid] = cacheEntry{family: p.family, lastChecked: tick}
	}

	eligible := make(map[int]struct{}, len(ids))
	entries := make([]models.VMEntry, 0, len(ids))

	for _, vmid := range ids {
		eligible[vmid] = struct{}{}

		entry, ok := d.cache[vmid]
		if !ok {
			continue
		}

		entries = append(entries, models.VMEntry{
			ID:         vmid,
			OSFamily:   entry.family,
			Transport:  models.TransportAgent,
			Enabled:    true,
			Discovered: true,
		})
	}

	for vmid := range d.cache {
		if _, ok := eligible[vmid]; !ok {
			delete(d.cache, vmid)
		}
	}

	return entries, nil
}

// Cached returns the cached family of a VM.
func (d *Discoverer) Cached(vmid int) (models.OSFamily, bool) {
	entry, ok := d.cache[vmid]

	return entry.family, ok
}
