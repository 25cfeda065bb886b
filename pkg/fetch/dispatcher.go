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

// Package fetch turns a VM entry into a used-memory byte count by picking a transport,
// an OS-specific command and the matching parser.
package fetch

//go:generate mockgen -destination=mock_fetch.go -package=fetch github.com/carverauto/guestmem/pkg/fetch GuestExecutor,RemoteShell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/guestmem/pkg/models"
	"github.com/carverauto/guestmem/pkg/parser"
)

// GuestExecutor runs a command inside a VM through its guest agent.
type GuestExecutor interface {
	ExecCapture(ctx context.Context, vmid int, path string, args ...string) (string, error)
}

// RemoteShell runs a command on a VM over a remote shell.
type RemoteShell interface {
	Run(ctx context.Context, target *models.RemoteTarget, command string) (string, error)
}

// Command is the measurement command for one OS family.
type Command struct {
	Path string
	Args []string
}

// Shell renders the command as a single remote-shell command line.
func (c Command) Shell() string {
	if len(c.Args) == 0 {
		return c.Path
	}

	return c.Path + " " + strings.Join(c.Args, " ")
}

var (
	linuxCommand = Command{Path: "cat", Args: []string{"/proc/meminfo"}}
	bsdCommand   = Command{Path: "sysctl", Args: []string{
		"-n", "vm.stats.vm.v_active_count", "vm.stats.vm.v_wire_count", "vm.stats.vm.v_page_size",
	}}
	wmicQuery      = "wmic OS get FreePhysicalMemory,TotalVisibleMemorySize /Value"
	windowsAgent   = Command{Path: "cmd.exe", Args: []string{"/c", wmicQuery}}
	windowsShell   = Command{Path: wmicQuery}
	errUnsupported = errors.New("unsupported os family or transport")
	errPanic       = errors.New("fetch panicked")
)

// CommandFor returns the measurement command for an OS family and transport.
func CommandFor(family models.OSFamily, transport models.Transport) (Command, error) {
	switch family {
	case models.OSLinux:
		return linuxCommand, nil
	case models.OSBSD:
		return bsdCommand, nil
	case models.OSWindows:
		if transport == models.TransportRemoteShell {
			return windowsShell, nil
		}

		return windowsAgent, nil
	default:
		return Command{}, fmt.Errorf("%w: %w: %q", models.ErrConfig, errUnsupported, family)
	}
}

// Dispatcher selects transport, command and parser for each VM.
type Dispatcher struct {
	agent GuestExecutor
	shell RemoteShell
}

// NewDispatcher creates a Dispatcher. Either transport may be nil, in which case
// entries using it fail with a config error.
func NewDispatcher(agent GuestExecutor, shell RemoteShell) *Dispatcher {
	return &Dispatcher{agent: agent, shell: shell}
}

// Fetch measures one VM. It never returns an error directly: every failure is
// carried in the Result.
func (d *Dispatcher) Fetch(ctx context.Context, entry models.VMEntry) (result Result) {
	start := time.Now()
	result.VMID = entry.ID

	defer func() {
		if r := recover(); r != nil {
			result.Bytes = 0
			result.Err = fmt.Errorf("%w: %w: %v", models.ErrProtocol, errPanic, r)
		}

		result.Kind = Classify(result.Err)
		result.Duration = time.Since(start)
	}()

	output, err := d.run(ctx, entry)
	if err != nil {
		result.Err = err
		return result
	}

	parse, err := parser.For(entry.OSFamily)
	if err != nil {
		result.Err = err
		return result
	}

	bytes, err := parse(output)
	if err != nil {
		result.Err = err
		return result
	}

	result.Bytes = bytes

	return result
}

func (d *Dispatcher) run(ctx context.Context, entry models.VMEntry) (string, error) {
	cmd, err := CommandFor(entry.OSFamily, entry.Transport)
	if err != nil {
		return "", err
	}

	switch entry.Transport {
	case models.TransportAgent:
		if d.agent == nil {
			return "", fmt.Errorf("%w: %w: guest agent transport not configured", models.ErrConfig, errUnsupported)
		}

		return d.agent.ExecCapture(ctx, entry.ID, cmd.Path, cmd.Args...)
	case models.TransportRemoteShell:
		if d.shell == nil {
			return "", fmt.Errorf("%w: %w: remote shell transport not configured", models.ErrConfig, errUnsupported)
		}

		return d.shell.Run(ctx, entry.Remote, cmd.Shell())
	default:
		return "", fmt.Errorf("%w: %w: transport %q", models.ErrConfig, errUnsupported, entry.Transport)
	}
}
