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

//go:generate mockgen -destination=mock_discovery.go -package=discovery github.com/carverauto/guestmem/pkg/discovery ControlPlane,GuestAgent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/carverauto/guestmem/pkg/models"
)

const (
	DefaultPveshPath    = "pvesh"
	defaultQueryTimeout = 10 * time.Second
	statusRunning       = "running"
)

var (
	errNodeUnknown  = errors.New("could not determine node name")
	errInvalidVMID  = errors.New("invalid vmid")
	errEmptyCommand = errors.New("empty command output")
)

// VMSummary is one row of the node's VM list.
type VMSummary struct {
	VMID   int    `json:"vmid"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
}

func (s *VMSummary) UnmarshalJSON(data []byte) error {
	var raw struct {
		VMID   json.RawMessage `json:"vmid"`
		Name   string          `json:"name"`
		Status string          `json:"status"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	text := strings.Trim(string(raw.VMID), `"`)

	id, err := strconv.Atoi(text)
	if err != nil || id <= 0 {
		return fmt.Errorf("%w: %s", errInvalidVMID, string(raw.VMID))
	}

	s.VMID = id
	s.Name = raw.Name
	s.Status = raw.Status

	return nil
}

// ControlPlane answers the host-level questions discovery needs.
type ControlPlane interface {
	ListVMs(ctx context.Context) ([]VMSummary, error)
	VMConfig(ctx context.Context, vmid int) (map[string]any, error)
}

// CommandRunner executes a host command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ControlPlaneConfig selects the node and the pvesh binary.
type ControlPlaneConfig struct {
	Node      string          `json:"node"`
	PveshPath string          `json:"pvesh_path"`
	Timeout   models.Duration `json:"timeout"`
}

// Pvesh queries the local Proxmox API through the pvesh CLI.
type Pvesh struct {
	path    string
	node    string
	timeout time.Duration
	run     CommandRunner
}

// NewPvesh builds a pvesh client. An empty node resolves to the host's short
// hostname; a nil runner executes the real binary.
func NewPvesh(ctx context.Context, cfg ControlPlaneConfig, run CommandRunner) (*Pvesh, error) {
	node := cfg.Node
	if node == "" {
		info, err := host.InfoWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errNodeUnknown, err)
		}

		node, _, _ = strings.Cut(info.Hostname, ".")
		if node == "" {
			return nil, errNodeUnknown
		}
	}

	path := cfg.PveshPath
	if path == "" {
		path = DefaultPveshPath
	}

	if run == nil {
		run = execCommand
	}

	return &Pvesh{
		path:    path,
		node:    node,
		timeout: cfg.Timeout.OrDefault(defaultQueryTimeout),
		run:     run,
	}, nil
}

func (p *Pvesh) Node() string {
	return p.node
}

func (p *Pvesh) ListVMs(ctx context.Context) ([]VMSummary, error) {
	var vms []VMSummary

	if err := p.get(ctx, fmt.Sprintf("/nodes/%s/qemu", p.node), &vms); err != nil {
		return nil, err
	}

	return vms, nil
}

func (p *Pvesh) VMConfig(ctx context.Context, vmid int) (map[string]any, error) {
	var cfg map[string]any

	if err := p.get(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/config", p.node, vmid), &cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (p *Pvesh) get(ctx context.Context, apiPath string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.run(ctx, p.path, "get", apiPath, "--output-format", "json")
	if err != nil {
		return fmt.Errorf("%w: pvesh get %s: %w", models.ErrDiscovery, apiPath, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: pvesh get %s: %w", models.ErrDiscovery, apiPath, errEmptyCommand)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode pvesh get %s: %w", models.ErrDiscovery, apiPath, err)
	}

	return nil
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}

		return nil, err
	}

	return out, nil
}

// AgentEnabled interprets the "agent" property of a VM config. Proxmox stores
// it as a bare flag ("1") or a property string ("enabled=1,fstrim_cloned_disks=1").
func AgentEnabled(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case string:
		return agentStringEnabled(v)
	default:
		return false
	}
}

func agentStringEnabled(s string) bool {
	for i, part := range strings.Split(s, ",") {
		key, value, hasKey := strings.Cut(strings.TrimSpace(part), "=")

		switch {
		case !hasKey && i == 0:
			return truthy(key)
		case hasKey && strings.EqualFold(strings.TrimSpace(key), "enabled"):
			return truthy(value)
		}
	}

	return false
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
