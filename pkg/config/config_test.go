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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
)

var errTooManyWorkers = errors.New("too many workers")

type agentSection struct {
	SocketDir   string          `json:"socket_dir"`
	ReadTimeout models.Duration `json:"read_timeout"`
}

type tlsSection struct {
	CAFile string `json:"ca_file"`
}

type testConfig struct {
	InventoryPath string            `json:"inventory_path"`
	PollInterval  models.Duration   `json:"poll_interval"`
	Workers       int               `json:"workers"`
	Strict        bool              `json:"strict"`
	Agent         agentSection      `json:"agent"`
	TLS           *tlsSection       `json:"tls,omitempty"`
	Tags          []string          `json:"tags"`
	Headers       map[string]string `json:"headers"`
	Ignored       string            `json:"-"`
}

func (c *testConfig) Validate() error {
	if c.Workers > 64 {
		return errTooManyWorkers
	}

	if c.Workers == 0 {
		c.Workers = 5
	}

	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "guestmem.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{
		"inventory_path": "/etc/proxmox-rmem/config.json",
		"poll_interval": "2s",
		"agent": {"socket_dir": "/run/qemu-server", "read_timeout": 10000000000}
	}`)

	var cfg testConfig

	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "/etc/proxmox-rmem/config.json", cfg.InventoryPath)
	assert.Equal(t, models.Duration(2*time.Second), cfg.PollInterval)
	assert.Equal(t, models.Duration(10*time.Second), cfg.Agent.ReadTimeout)
	assert.Equal(t, 5, cfg.Workers)
}

func TestLoadAndValidateErrorsWrapConfigError(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	cfgLoader := NewConfig(nil)

	var cfg testConfig

	err := cfgLoader.LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "missing.json"), &cfg)
	require.ErrorIs(t, err, models.ErrConfig)

	err = cfgLoader.LoadAndValidate(context.Background(), writeConfig(t, `{"workers": 100}`), &cfg)
	require.ErrorIs(t, err, models.ErrConfig)
	require.ErrorIs(t, err, errTooManyWorkers)

	err = cfgLoader.LoadAndValidate(context.Background(), writeConfig(t, `{"poll_interval": "soon"}`), &cfg)
	require.ErrorIs(t, err, models.ErrConfig)

	err = cfgLoader.LoadAndValidate(context.Background(), "", cfg)
	require.ErrorIs(t, err, errInvalidConfigPtr)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
	require.ErrorIs(t, err, models.ErrConfig)
}

func TestEnvConfigLoaderFields(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("GUESTMEM_CONFIG_JSON", "")
	t.Setenv("GUESTMEM_INVENTORY_PATH", "/srv/vms.json")
	t.Setenv("GUESTMEM_POLL_INTERVAL", "500ms")
	t.Setenv("GUESTMEM_WORKERS", "8")
	t.Setenv("GUESTMEM_STRICT", "true")
	t.Setenv("GUESTMEM_AGENT_SOCKET_DIR", "/tmp/qga")
	t.Setenv("GUESTMEM_AGENT_READ_TIMEOUT", "3s")
	t.Setenv("GUESTMEM_TAGS", "a, b")
	t.Setenv("GUESTMEM_HEADERS", `{"x":"y"}`)

	var cfg testConfig

	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "/srv/vms.json", cfg.InventoryPath)
	assert.Equal(t, models.Duration(500*time.Millisecond), cfg.PollInterval)
	assert.Equal(t, 8, cfg.Workers)
	assert.True(t, cfg.Strict)
	assert.Equal(t, "/tmp/qga", cfg.Agent.SocketDir)
	assert.Equal(t, models.Duration(3*time.Second), cfg.Agent.ReadTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, map[string]string{"x": "y"}, cfg.Headers)
	assert.Nil(t, cfg.TLS)
}

func TestEnvConfigLoaderStructPointer(t *testing.T) {
	t.Setenv("APP_TLS_CA_FILE", "/etc/ca.pem")

	var cfg testConfig

	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg))
	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "/etc/ca.pem", cfg.TLS.CAFile)
}

func TestEnvConfigLoaderInvalidValue(t *testing.T) {
	t.Setenv("APP_WORKERS", "many")

	var cfg testConfig

	err := NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_WORKERS")
}

func TestEnvConfigLoaderConfigJSON(t *testing.T) {
	t.Setenv("APP_CONFIG_JSON", `{"inventory_path": "/x.json", "workers": 2}`)

	var cfg testConfig

	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg))
	assert.Equal(t, "/x.json", cfg.InventoryPath)
	assert.Equal(t, 2, cfg.Workers)
}

func TestEnvConfigLoaderRejectsNonStruct(t *testing.T) {
	var n int

	require.ErrorIs(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &n), ErrDstMustBePointerToStruct)
	require.ErrorIs(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", nil), ErrDstMustBeNonNilPointer)
}
