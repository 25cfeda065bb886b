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
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/guestmem/pkg/discovery"
	"github.com/carverauto/guestmem/pkg/inventory"
	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
	"github.com/carverauto/guestmem/pkg/natsutil"
	"github.com/carverauto/guestmem/pkg/publish"
	"github.com/carverauto/guestmem/pkg/qga"
	"github.com/carverauto/guestmem/pkg/sshexec"
)

var (
	errNegativeCadence = errors.New("cadence values must not be negative")
	errPollInterval    = errors.New("poll_interval must be positive")
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultWorkers        = 5
	defaultDiscoveryEvery = 60
	defaultReconcileEvery = 30
	defaultHeartbeatEvery = 30
)

// AgentConfig tunes guest agent conversations.
type AgentConfig struct {
	SocketDir        string          `json:"socket_dir"`
	ReadTimeout      models.Duration `json:"read_timeout"`
	ExecPollInterval models.Duration `json:"exec_poll_interval"`
	ExecPollAttempts int             `json:"exec_poll_attempts"`
}

// Options converts the config to client options; unset fields keep the client defaults.
func (a AgentConfig) Options() qga.Options {
	return qga.Options{
		ReadTimeout:  time.Duration(a.ReadTimeout),
		PollInterval: time.Duration(a.ExecPollInterval),
		PollAttempts: a.ExecPollAttempts,
	}
}

// Config is the guestmem service configuration.
type Config struct {
	InventoryPath  string                       `json:"inventory_path"`
	RecordDir      string                       `json:"record_dir"`
	RecordPattern  string                       `json:"record_pattern"`
	PollInterval   models.Duration              `json:"poll_interval"`
	Workers        int                          `json:"workers"`
	DiscoveryEvery int                          `json:"discovery_every"`
	ReconcileEvery int                          `json:"reconcile_every"`
	HeartbeatEvery int                          `json:"heartbeat_every"`
	Agent          AgentConfig                  `json:"agent"`
	SSH            sshexec.Config               `json:"ssh"`
	ControlPlane   discovery.ControlPlaneConfig `json:"control_plane"`
	NATS           *models.NATSConfig           `json:"nats,omitempty"`
	Logging        *logger.Config               `json:"logging,omitempty"`
	Metrics        logger.MetricsConfig         `json:"metrics"`
}

// Validate implements config.Validator and fills defaults.
func (c *Config) Validate() error {
	if c.InventoryPath == "" {
		c.InventoryPath = inventory.DefaultPath
	}

	if c.RecordDir == "" {
		c.RecordDir = publish.DefaultDir
	}

	if c.RecordPattern == "" {
		c.RecordPattern = publish.DefaultPattern
	}

	if _, err := publish.NewFileStore(c.RecordDir, c.RecordPattern); err != nil {
		return err
	}

	if c.PollInterval < 0 {
		return errPollInterval
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.Workers < 0 || c.DiscoveryEvery < 0 || c.ReconcileEvery < 0 || c.HeartbeatEvery < 0 {
		return errNegativeCadence
	}

	setDefault(&c.Workers, defaultWorkers)
	setDefault(&c.DiscoveryEvery, defaultDiscoveryEvery)
	setDefault(&c.ReconcileEvery, defaultReconcileEvery)
	setDefault(&c.HeartbeatEvery, defaultHeartbeatEvery)

	if c.Agent.SocketDir == "" {
		c.Agent.SocketDir = qga.DefaultSocketDir
	}

	if err := c.SSH.Validate(); err != nil {
		return fmt.Errorf("ssh: %w", err)
	}

	if c.NATS.Enabled() && c.NATS.Subject == "" {
		c.NATS.Subject = natsutil.DefaultSubject
	}

	return nil
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
