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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/guestmem/pkg/models"
)

var errPveshFailed = errors.New("exit status 2")

type recordedCall struct {
	name string
	args []string
}

func fakeRunner(calls *[]recordedCall, outputs map[string]string, failing map[string]bool) CommandRunner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recordedCall{name: name, args: args})

		apiPath := args[1]
		if failing[apiPath] {
			return nil, errPveshFailed
		}

		return []byte(outputs[apiPath]), nil
	}
}

func TestPveshListVMs(t *testing.T) {
	var calls []recordedCall

	run := fakeRunner(&calls, map[string]string{
		"/nodes/pve1/qemu": `[
			{"vmid": 101, "name": "web", "status": "running"},
			{"vmid": "102", "name": "db", "status": "stopped"}
		]`,
	}, nil)

	p, err := NewPvesh(context.Background(), ControlPlaneConfig{Node: "pve1", PveshPath: "/usr/bin/pvesh"}, run)
	require.NoError(t, err)

	vms, err := p.ListVMs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []VMSummary{
		{VMID: 101, Name: "web", Status: "running"},
		{VMID: 102, Name: "db", Status: "stopped"},
	}, vms)

	require.Len(t, calls, 1)
	assert.Equal(t, "/usr/bin/pvesh", calls[0].name)
	assert.Equal(t, []string{"get", "/nodes/pve1/qemu", "--output-format", "json"}, calls[0].args)
}

func TestPveshVMConfig(t *testing.T) {
	var calls []recordedCall

	run := fakeRunner(&calls, map[string]string{
		"/nodes/pve1/qemu/101/config": `{"agent": "enabled=1,fstrim_cloned_disks=1", "memory": "4096"}`,
	}, nil)

	p, err := NewPvesh(context.Background(), ControlPlaneConfig{Node: "pve1"}, run)
	require.NoError(t, err)

	cfg, err := p.VMConfig(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, AgentEnabled(cfg["agent"]))
	assert.Equal(t, DefaultPveshPath, calls[0].name)
}

func TestPveshErrorsAreDiscoveryErrors(t *testing.T) {
	var calls []recordedCall

	run := fakeRunner(&calls, map[string]string{
		"/nodes/pve1/qemu/103/config": `not json`,
		"/nodes/pve1/qemu/104/config": ``,
	}, map[string]bool{"/nodes/pve1/qemu": true})

	p, err := NewPvesh(context.Background(), ControlPlaneConfig{Node: "pve1"}, run)
	require.NoError(t, err)

	_, err = p.ListVMs(context.Background())
	require.ErrorIs(t, err, models.ErrDiscovery)
	require.ErrorIs(t, err, errPveshFailed)

	_, err = p.VMConfig(context.Background(), 103)
	require.ErrorIs(t, err, models.ErrDiscovery)

	_, err = p.VMConfig(context.Background(), 104)
	require.ErrorIs(t, err, errEmptyCommand)
}

func TestVMSummaryRejectsBadID(t *testing.T) {
	var calls []recordedCall

	run := fakeRunner(&calls, map[string]string{"/nodes/pve1/qemu": `[{"vmid": "abc"}]`}, nil)

	p, err := NewPvesh(context.Background(), ControlPlaneConfig{Node: "pve1"}, run)
	require.NoError(t, err)

	_, err = p.ListVMs(context.Background())
	require.ErrorIs(t, err, errInvalidVMID)
}

func TestNewPveshResolvesNodeFromHostname(t *testing.T) {
	p, err := NewPvesh(context.Background(), ControlPlaneConfig{}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, p.Node())
	assert.NotContains(t, p.Node(), ".")
}

func TestAgentEnabled(t *testing.T) {
	tests := []struct {
		value    any
		expected bool
	}{
		{"1", true},
		{"0", false},
		{"enabled=1", true},
		{"enabled=0", false},
		{"1,fstrim_cloned_disks=1", true},
		{"0,fstrim_cloned_disks=1", false},
		{"enabled=true,type=virtio", true},
		{"fstrim_cloned_disks=1,enabled=1", true},
		{"fstrim_cloned_disks=1", false},
		{"", false},
		{float64(1), true},
		{float64(0), false},
		{true, true},
		{nil, false},
		{[]string{"1"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, AgentEnabled(tt.value), "value %#v", tt.value)
	}
}
