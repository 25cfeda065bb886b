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
	"errors"
	"fmt"

	"github.com/carverauto/guestmem/pkg/fetch"
	"github.com/carverauto/guestmem/pkg/inventory"
	"github.com/carverauto/guestmem/pkg/models"
)

// loadInventory reloads the declarative VM set. A failed reload reuses the last
// good inventory; nil means nothing has loaded yet.
func (p *Poller) loadInventory(ctx context.Context) *inventory.Inventory {
	inv, err := p.deps.Inventory.Load(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to load VM inventory, reusing previous set")

		p.mu.RLock()
		defer p.mu.RUnlock()

		return p.inventory
	}

	p.mu.Lock()
	p.inventory = inv
	p.mu.Unlock()

	return inv
}

// activeSet merges explicit entries with discovered ones. Explicit entries win
// on id collisions and keep their inventory order; explicitly disabled ids are
// never activated by discovery.
func (p *Poller) activeSet(ctx context.Context, inv *inventory.Inventory, tick uint64) []models.VMEntry {
	active := make([]models.VMEntry, 0, len(inv.Entries))
	seen := make(map[int]struct{}, len(inv.Entries)+len(inv.Disabled))

	for id := range inv.Disabled {
		seen[id] = struct{}{}
	}

	for _, entry := range inv.Entries {
		if _, dup := seen[entry.ID]; dup {
			continue
		}

		seen[entry.ID] = struct{}{}

		active = append(active, entry)
	}

	if !inv.Auto {
		return active
	}

	for _, entry := range p.discover(ctx, tick) {
		if _, dup := seen[entry.ID]; dup {
			continue
		}

		seen[entry.ID] = struct{}{}

		active = append(active, entry)
	}

	return active
}

// discover returns the discovered set for this tick, running discovery when due.
func (p *Poller) discover(ctx context.Context, tick uint64) []models.VMEntry {
	if p.deps.Discoverer == nil {
		if !p.warnedNoDisco {
			p.logger.Warn().Msg("Auto-discovery requested but no discoverer is configured")

			p.warnedNoDisco = true
		}

		return nil
	}

	p.mu.RLock()
	due := !p.discoveryRan || tick-p.lastDiscovery >= uint64(p.config.DiscoveryEvery)
	previous := p.discovered
	p.mu.RUnlock()

	if !due {
		return previous
	}

	found, err := p.deps.Discoverer.Discover(ctx, tick)
	p.deps.Metrics.RecordDiscovery(ctx, err, len(found))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastDiscovery = tick
	p.discoveryRan = true

	if err != nil {
		p.logger.Error().Err(err).Msg("VM discovery failed, reusing previous discovered set")

		return p.discovered
	}

	p.logger.Debug().Int("count", len(found)).Uint64("tick", tick).Msg("VM discovery complete")

	p.discovered = found

	return found
}

// applyResults publishes successful fetches and advances each VM's state.
func (p *Poller) applyResults(
	ctx context.Context, tick uint64, active []models.VMEntry, results []fetch.Result) (healthy, failed int) {
	heartbeat := every(tick, p.config.HeartbeatEvery)

	for i, entry := range active {
		res := results[i]

		if res.OK() {
			if err := p.deps.Store.Write(entry.ID, res.Bytes); err != nil {
				res.Err = fmt.Errorf("%w: %w", errPublish, err)
				res.Kind = errorKindPublish
			}
		}

		p.deps.Metrics.RecordFetch(ctx, entry.OSFamily.String(), string(entry.Transport), string(res.Kind), res.Duration)

		next := StateFailed
		if res.OK() {
			next = StateHealthy
			healthy++
		} else {
			failed++
		}

		prev := p.setStatus(entry.ID, next, res)

		switch {
		case prev != next:
			p.logTransition(entry, prev, next, res)
			p.deps.Metrics.RecordTransition(ctx, string(prev), string(next))
			p.publishTransition(ctx, tick, entry, prev, next, res)
		case next == StateHealthy && heartbeat:
			p.logger.Info().
				Str("event", "heartbeat").
				Int("vmid", entry.ID).
				Uint64("used_bytes", res.Bytes).
				Msg("VM memory healthy")
		}
	}

	p.logger.Debug().
		Uint64("tick", tick).
		Int("healthy", healthy).
		Int("failed", failed).
		Msg("Tick complete")

	return healthy, failed
}

// setStatus stores the new state and returns the previous one.
func (p *Poller) setStatus(vmid int, next State, res fetch.Result) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.status[vmid]
	if !ok {
		st = &vmStatus{state: StateUnknown}
		p.status[vmid] = st
	}

	prev := st.state
	st.state = next

	if res.OK() {
		bytes := res.Bytes
		st.lastBytes = &bytes
	}

	return prev
}

func (p *Poller) logTransition(entry models.VMEntry, prev, next State, res fetch.Result) {
	if next == StateHealthy {
		p.logger.Info().
			Str("event", "transition").
			Int("vmid", entry.ID).
			Str("from", string(prev)).
			Str("to", string(next)).
			Str("os_family", entry.OSFamily.String()).
			Str("transport", string(entry.Transport)).
			Uint64("used_bytes", res.Bytes).
			Msg("VM memory collection healthy")

		return
	}

	p.logger.Warn().
		Str("event", "transition").
		Int("vmid", entry.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("os_family", entry.OSFamily.String()).
		Str("transport", string(entry.Transport)).
		Str("error_kind", string(res.Kind)).
		Err(res.Err).
		Msg("VM memory collection failed")
}

func (p *Poller) publishTransition(
	ctx context.Context, tick uint64, entry models.VMEntry, prev, next State, res fetch.Result) {
	if p.deps.Events == nil {
		return
	}

	data := &models.VMHealthEventData{
		VMID:          entry.ID,
		PreviousState: string(prev),
		CurrentState:  string(next),
		OSFamily:      entry.OSFamily.String(),
		Transport:     string(entry.Transport),
		Host:          p.deps.Host,
		Tick:          tick,
		Timestamp:     p.clock.Now().UTC(),
	}

	if res.OK() {
		bytes := res.Bytes
		data.UsedBytes = &bytes
	} else {
		data.ErrorKind = string(res.Kind)
		if res.Err != nil {
			data.Error = res.Err.Error()
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
	defer cancel()

	if err := p.deps.Events.PublishVMHealthEvent(pubCtx, data); err != nil {
		p.logger.Warn().Err(err).Int("vmid", entry.ID).Msg("Failed to publish VM health event")
	}
}

// reconcile deletes records and status for VMs outside the active set.
func (p *Poller) reconcile(ctx context.Context, active []models.VMEntry) {
	keep := make(map[int]struct{}, len(active))
	for _, entry := range active {
		keep[entry.ID] = struct{}{}
	}

	ids, err := p.deps.Store.List()
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to list published records")
	}

	removed := 0

	var errs []error

	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}

		if err := p.deps.Store.Remove(id); err != nil {
			errs = append(errs, err)

			continue
		}

		removed++

		p.logger.Info().Int("vmid", id).Msg("Removed published record for inactive VM")
	}

	if len(errs) > 0 {
		p.logger.Error().Err(errors.Join(errs...)).Msg("Failed to remove stale records")
	}

	p.mu.Lock()
	for id := range p.status {
		if _, ok := keep[id]; !ok {
			delete(p.status, id)
		}
	}
	p.mu.Unlock()

	p.deps.Metrics.RecordReconcileRemovals(ctx, removed)
}
