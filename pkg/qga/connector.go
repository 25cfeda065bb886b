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

package qga

import (
	"context"
	"fmt"
	"path/filepath"
)

// DefaultSocketDir is where qemu-server places per-VM guest agent sockets.
const DefaultSocketDir = "/var/run/qemu-server"

// Connector opens a fresh guest agent connection for each operation on a VM,
// synchronizes it and always releases it before returning.
type Connector struct {
	socketDir string
	opts      Options
}

// NewConnector creates a Connector for sockets named <socketDir>/<vmid>.qga.
func NewConnector(socketDir string, opts Options) *Connector {
	if socketDir == "" {
		socketDir = DefaultSocketDir
	}

	return &Connector{socketDir: socketDir, opts: opts.normalized()}
}

// SocketPath returns the control socket of a VM.
func (c *Connector) SocketPath(vmid int) string {
	return filepath.Join(c.socketDir, fmt.Sprintf("%d.qga", vmid))
}

// OSInfo queries guest-get-osinfo on a VM.
func (c *Connector) OSInfo(ctx context.Context, vmid int) (*OSInfo, error) {
	var info *OSInfo

	err := c.withClient(ctx, vmid, func(client *Client) error {
		var err error

		info, err = client.GetOSInfo(ctx)

		return err
	})

	return info, err
}

// ExecCapture runs a command inside a VM and returns its stdout.
func (c *Connector) ExecCapture(ctx context.Context, vmid int, path string, args ...string) (string, error) {
	var out string

	err := c.withClient(ctx, vmid, func(client *Client) error {
		var err error

		out, err = client.ExecCapture(ctx, path, args...)

		return err
	})

	return out, err
}

func (c *Connector) withClient(ctx context.Context, vmid int, fn func(*Client) error) error {
	client, err := Dial(ctx, c.SocketPath(vmid), c.opts)
	if err != nil {
		return err
	}

	defer func() { _ = client.Close() }()

	if err := client.Sync(ctx); err != nil {
		return err
	}

	return fn(client)
}
