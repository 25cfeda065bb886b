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

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected zerolog.Level
		wantErr  bool
	}{
		{name: "empty defaults to info", config: Config{}, expected: zerolog.InfoLevel},
		{name: "explicit warn", config: Config{Level: "warn"}, expected: zerolog.WarnLevel},
		{name: "debug flag wins", config: Config{Level: "error", Debug: true}, expected: zerolog.DebugLevel},
		{name: "invalid level", config: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := tt.config.ParseLevel()
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestWriterLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer

	log := NewWriterLogger(&buf, zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Int("vmid", 101).Msg("VM healthy")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "VM healthy", entry["message"])
	assert.InDelta(t, 101, entry["vmid"], 0)
	assert.Equal(t, "info", entry["level"])
}

func TestSetDebugTogglesLevel(t *testing.T) {
	var buf bytes.Buffer

	log := NewWriterLogger(&buf, zerolog.InfoLevel)

	log.SetDebug(true)
	log.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	log.SetDebug(false)
	log.Debug().Msg("invisible")
	assert.Empty(t, buf.String())
}

func TestWithComponentAndFields(t *testing.T) {
	var buf bytes.Buffer

	log := NewWriterLogger(&buf, zerolog.InfoLevel)

	component := log.WithComponent("poller")
	component.Info().Msg("tick")
	assert.Contains(t, buf.String(), `"component":"poller"`)

	buf.Reset()

	fields := log.WithFields(map[string]interface{}{"host": "pve1"})
	fields.Info().Msg("started")
	assert.Contains(t, buf.String(), `"host":"pve1"`)
}

func TestTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()
	log.Error().Msg("nothing happens")
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_SERVICE_NAME", "")

	config := DefaultConfig()

	assert.Equal(t, "info", config.Level)
	assert.Equal(t, "stdout", config.Output)
	assert.Equal(t, defaultServiceName, config.OTel.ServiceName)
	assert.False(t, config.OTel.Enabled)
}
