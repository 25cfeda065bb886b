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

// Package poller drives the collection loop: reload the VM set, discover, fetch
// in a bounded pool, publish records, log transitions and reconcile stale records.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/guestmem/pkg/fetch"
	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
)

const eventPublishTimeout = 2 * time.Second

// New creates a Poller. config must already be validated.
func New(config *Config, deps Dependencies, log logger.Logger) (*Poller, error) {
	if deps.Inventory == nil || deps.Fetcher == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: inventory, fetcher and store are required", ErrMissingDependency)
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &Poller{
		config: *config,
		deps:   deps,
		clock:  clock,
		logger: log,
		done:   make(chan struct{}),
		cancel: func() {},
		status: make(map[int]*vmStatus),
	}, nil
}

// Start implements lifecycle.Service. It runs the first tick immediately and
// then one tick per poll interval on a single goroutine, so ticks never overlap.
func (p *Poller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	interval := p.config.PollInterval.OrDefault(defaultPollInterval)

	p.logger.Info().
		Dur("interval", interval).
		Int("workers", p.config.Workers).
		Msg("Starting VM memory poller")

	p.wg.Add(1)

	go p.run(runCtx, interval)

	return nil
}

func (p *Poller) run(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	p.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.Chan():
			p.runTick(ctx)
		}
	}
}

// Stop implements lifecycle.Service. It waits for the running tick up to ctx's deadline.
func (p *Poller) Stop(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })
	p.cancel()

	stopped := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info().Uint64("ticks", p.tickCount()).Msg("VM memory poller stopped")

	return p.closeResources()
}

// Close stops the loop without waiting and releases owned resources.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.cancel()

	return p.closeResources()
}

func (p *Poller) closeResources() error {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	var errs []error

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errClosing, errors.Join(errs...))
	}

	return nil
}

func (p *Poller) addCloser(fn func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closers = append(p.closers, fn)
}

// Status returns the current state of a VM; false means it is not tracked.
func (p *Poller) Status(vmid int) (State, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.status[vmid]
	if !ok {
		return StateUnknown, false
	}

	return st.state, true
}

// LastBytes returns the most recent published byte count of a VM.
func (p *Poller) LastBytes(vmid int) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.status[vmid]
	if !ok || st.lastBytes == nil {
		return 0, false
	}

	return *st.lastBytes, true
}

func (p *Poller) tickCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.ticks
}

// runTick executes one full tick and advances the tick counter.
func (p *Poller) runTick(ctx context.Context) {
	start := p.clock.Now()
	tick := p.tickCount()

	defer func() {
		p.mu.Lock()
		p.ticks++
		p.mu.Unlock()
	}()

	inv := p.loadInventory(ctx)
	if inv == nil {
		return
	}

	active := p.activeSet(ctx, inv, tick)
	results := p.fetchAll(ctx, active)
	healthy, failed := p.applyResults(ctx, tick, active, results)

	if every(tick, p.config.ReconcileEvery) {
		p.reconcile(ctx, active)
	}

	p.deps.Metrics.RecordTick(ctx, p.clock.Now().Sub(start), healthy, failed)
}

// every reports whether tick is a positive multiple of n.
func every(tick uint64, n int) bool {
	return n > 0 && tick > 0 && tick%uint64(n) == 0
}

// fetchAll runs every fetch through a pool of config.Workers and waits for all of them.
func (p *Poller) fetchAll(ctx context.Context, active []models.VMEntry) []fetch.Result {
	results := make([]fetch.Result, len(active))

	var g errgroup.Group

	g.SetLimit(p.config.Workers)

	for i := range active {
		g.Go(func() error {
			results[i] = p.deps.Fetcher.Fetch(ctx, active[i])

			return nil
		})
	}

	_ = g.Wait()

	return results
}
