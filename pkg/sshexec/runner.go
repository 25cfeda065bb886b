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

// Package sshexec runs fixed measurement commands on guests over SSH.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/carverauto/guestmem/pkg/models"
)

const (
	DefaultUser           = "root"
	DefaultPort           = 22
	DefaultKeyPath        = "/etc/proxmox-rmem/id_rsa_monitor"
	DefaultConnectTimeout = 3 * time.Second
	DefaultCommandTimeout = 10 * time.Second
)

var (
	errNoAddress  = errors.New("remote target has no address")
	errKnownHosts = errors.New("strict host key checking requires a known_hosts file")
)

// Config holds defaults applied to every remote target.
type Config struct {
	User           string          `json:"user"`
	Port           int             `json:"port"`
	KeyPath        string          `json:"key_path"`
	ConnectTimeout models.Duration `json:"connect_timeout"`
	CommandTimeout models.Duration `json:"command_timeout"`
	// StrictHostKeyChecking verifies host keys against KnownHosts. When false any host
	// key is accepted; this is an operational convenience, not a security boundary.
	StrictHostKeyChecking bool   `json:"strict_host_key_checking"`
	KnownHosts            string `json:"known_hosts,omitempty"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.User == "" {
		c.User = DefaultUser
	}

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.KeyPath == "" {
		c.KeyPath = DefaultKeyPath
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = models.Duration(DefaultConnectTimeout)
	}

	if c.CommandTimeout <= 0 {
		c.CommandTimeout = models.Duration(DefaultCommandTimeout)
	}

	if c.StrictHostKeyChecking && c.KnownHosts == "" {
		return errKnownHosts
	}

	return nil
}

// Runner executes commands on remote targets. Each Run opens and closes its own session.
type Runner struct {
	cfg             Config
	hostKeyCallback ssh.HostKeyCallback
}

// NewRunner builds a Runner; with strict checking the known_hosts file is loaded once.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	callback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via strict_host_key_checking

	if cfg.StrictHostKeyChecking {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", cfg.KnownHosts, err)
		}

		callback = cb
	}

	return &Runner{cfg: cfg, hostKeyCallback: callback}, nil
}

// Run executes command on target and returns stdout. Every failure is a transport error.
func (r *Runner) Run(ctx context.Context, target *models.RemoteTarget, command string) (string, error) {
	if target == nil || target.Address == "" {
		return "", fmt.Errorf("%w: %w", models.ErrConfig, errNoAddress)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.CommandTimeout))
	defer cancel()

	clientCfg, err := r.clientConfig(target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrTransport, err)
	}

	addr := net.JoinHostPort(target.Address, strconv.Itoa(r.port(target)))

	client, err := r.dial(ctx, addr, clientCfg)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrTransport, addr, err)
	}
	defer func() { _ = client.Close() }()

	// Closing the client unblocks a session stuck past the command timeout.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: %s: new session: %w", models.ErrTransport, addr, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s: %w", models.ErrTransport, addr, ctx.Err())
		}

		return "", fmt.Errorf("%w: %s: %q: %w: %s", models.ErrTransport, addr, command, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (r *Runner) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: cfg.Timeout}

	conn, err := dialer.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake shares the connect budget.
	_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (r *Runner) clientConfig(target *models.RemoteTarget) (*ssh.ClientConfig, error) {
	keyPath := target.Credential
	if keyPath == "" {
		keyPath = r.cfg.KeyPath
	}

	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", keyPath, err)
	}

	user := target.User
	if user == "" {
		user = r.cfg.User
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: r.hostKeyCallback,
		Timeout:         time.Duration(r.cfg.ConnectTimeout),
	}, nil
}

func (r *Runner) port(target *models.RemoteTarget) int {
	if target.Port > 0 {
		return target.Port
	}

	return r.cfg.Port
}
