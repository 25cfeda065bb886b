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

package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
	"github.com/carverauto/guestmem/pkg/qga"
)

// fakeAgent answers OSInfo from a table and counts probes per VM.
type fakeAgent struct {
	mu     sync.Mutex
	infos  map[int]*qga.OSInfo
	probes map[int]int
}

func newFakeAgent(infos map[int]*qga.OSInfo) *fakeAgent {
	return &fakeAgent{infos: infos, probes: make(map[int]int)}
}

func (f *fakeAgent) OSInfo(_ context.Context, vmid int) (*qga.OSInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probes[vmid]++

	info, ok := f.infos[vmid]
	if !ok {
		return nil, fmt.Errorf("%w: agent not running", models.ErrTransport)
	}

	return info, nil
}

func (*fakeAgent) ExecCapture(context.Context, int, string, ...string) (string, error) {
	return "", fmt.Errorf("%w: exec unsupported", models.ErrProtocol)
}

func (f *fakeAgent) set(vmid int, info *qga.OSInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if info == nil {
		delete(f.infos, vmid)
		return
	}

	f.infos[vmid] = info
}

func (f *fakeAgent) count(vmid int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.probes[vmid]
}

func expectHost(cp *MockControlPlane, vms []VMSummary, configs map[int]map[string]any) {
	cp.EXPECT().ListVMs(gomock.Any()).Return(vms, nil).AnyTimes()

	for vmid, cfg := range configs {
		cp.EXPECT().VMConfig(gomock.Any(), vmid).Return(cfg, nil).AnyTimes()
	}
}

func TestListEligible(t *testing.T) {
	ctrl := gomock.NewController(t)
	cp := NewMockControlPlane(ctrl)

	cp.EXPECT().ListVMs(gomock.Any()).Return([]VMSummary{
		{VMID: 105, Status: "running"},
		{VMID: 101, Status: "running"},
		{VMID: 102, Status: "stopped"},
		{VMID: 103, Status: "running"},
		{VMID: 104, Status: "running"},
	}, nil)
	cp.EXPECT().VMConfig(gomock.Any(), 101).Return(map[string]any{"agent": "1"}, nil)
	cp.EXPECT().VMConfig(gomock.Any(), 103).Return(map[string]any{"agent": "enabled=0"}, nil)
	cp.EXPECT().VMConfig(gomock.Any(), 104).Return(nil, fmt.Errorf("%w: timeout", models.ErrDiscovery))
	cp.EXPECT().VMConfig(gomock.Any(), 105).Return(map[string]any{"agent": "enabled=1,fstrim_cloned_disks=1"}, nil)

	d := NewDiscoverer(cp, newFakeAgent(nil), logger.NewTestLogger(), 0, 0)

	ids, err := d.ListEligible(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{101, 105}, ids)
}

func TestListEligibleListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	cp := NewMockControlPlane(ctrl)

	cp.EXPECT().ListVMs(gomock.Any()).Return(nil, errPveshFailed).Times(2)

	d := NewDiscoverer(cp, newFakeAgent(nil), nil, 0, 0)

	_, err := d.ListEligible(context.Background())
	require.ErrorIs(t, err, models.ErrDiscovery)

	entries, err := d.Discover(context.Background(), 0)
	require.ErrorIs(t, err, models.ErrDiscovery)
	assert.Nil(t, entries)
}

func TestDiscoverClassifiesAndCaches(t *testing.T) {
	ctrl := gomock.NewController(t)
	cp := NewMockControlPlane(ctrl)

	expectHost(cp,
		[]VMSummary{{VMID: 101, Status: "running"}, {VMID: 102, Status: "running"}, {VMID: 103, Status: "running"}},
		map[int]map[string]any{
			101: {"agent": "1"},
			102: {"agent": "1"},
			103: {"agent": "1"},
		})

	agent := newFakeAgent(map[int]*qga.OSInfo{
		101: {ID: "debian"},
		102: {ID: "mswindows", Name: "Microsoft Windows"},
	})

	d := NewDiscoverer(cp, agent, logger.NewTestLogger(), 60, 5)

	entries, err := d.Discover(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []models.VMEntry{
		{ID: 101, OSFamily: models.OSLinux, Transport: models.TransportAgent, Enabled: true, Discovered: true},
		{ID: 102, OSFamily: models.OSWindows, Transport: models.TransportAgent, Enabled: true, Discovered: true},
	}, entries)

	// 103 was never classified, so it is re-probed; the others are fresh.
	entries, err = d.Discover(context.Background(), 59)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, agent.count(101))
	assert.Equal(t, 2, agent.count(103))

	_, err = d.Discover(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, 2, agent.count(101))
	assert.Equal(t, 2, agent.count(102))
}

func TestDiscoverKeepsStaleFamilyWhenReprobeFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	cp := NewMockControlPlane(ctrl)

	expectHost(cp, []VMSummary{{VMID: 101, Status: "running"}}, map[int]map[string]any{101: {"agent": "1"}})

	agent := newFakeAgent(map[int]*qga.OSInfo{101: {ID: "freebsd"}})
	d := NewDiscoverer(cp, agent, nil, 60, 5)

	_, err := d.Discover(context.Background(), 0)
	require.NoError(t, err)

	agent.set(101, nil)

	entries, err := d.Discover(context.Background(), 120)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OSBSD, entries[0].OSFamily)
	assert.Equal(t, 2, agent.count(101))

	// The failed probe was not cached, so the next pass probes again.
	_, err = d.Discover(context.Background(), 121)
	require.NoError(t, err)
	assert.Equal(t, 3, agent.count(101))
}

func TestDiscoverDropsIneligibleFromCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	cp := NewMockControlPlane(ctrl)

	gomock.InOrder(
		cp.EXPECT().ListVMs(gomock.Any()).Return([]VMSummary{{VMID: 101, Status: "running"}}, nil),
		cp.EXPECT().ListVMs(gomock.Any()).Return([]VMSummary{{VMID: 101, Status: "stopped"}}, nil),
		cp.EXPECT().ListVMs(gomock.Any()).Return([]VMSummary{{VMID: 101, Status: "running"}}, nil),
	)
	cp.EXPECT().VMConfig(gomock.Any(), 101).Return(map[string]any{"agent": "1"}, nil).Times(2)

	agent := newFakeAgent(map[int]*qga.OSInfo{101: {ID: "alpine"}})
	d := NewDiscoverer(cp, agent, nil, 60, 5)

	entries, err := d.Discover(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = d.Discover(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, cached := d.Cached(101)
	assert.False(t, cached)

	entries, err = d.Discover(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 2, agent.count(101))
}
