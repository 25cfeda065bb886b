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
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/carverauto/guestmem/pkg/models"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range records {
		e.records = append(e.records, records[i].Clone())
	}

	return nil
}

func (*recordingExporter) Shutdown(context.Context) error   { return nil }
func (*recordingExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingExporter) snapshot() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]sdklog.Record(nil), e.records...)
}

func TestDefaultOTelConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_TIMEOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS", "authorization=Bearer x, tenant = a")

	config := DefaultOTelConfig()

	assert.Equal(t, models.Duration(5*time.Second), config.BatchTimeout)
	assert.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "a"}, config.Headers)
}

func TestNewOTELWriterRejectsBadConfig(t *testing.T) {
	writer, err := NewOTELWriter(context.Background(), OTelConfig{Enabled: false})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)
	assert.Nil(t, writer)

	writer, err = NewOTELWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)
	assert.Nil(t, writer)
}

func TestOTelWriterEmitsRecords(t *testing.T) {
	exporter := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	writer := newOTelWriter(context.Background(), provider)

	line := []byte(`{"level":"warn","component":"poller","vmid":101,"healthy":false,` +
		`"error":"transport failure","time":"2025-01-02T03:04:05Z","message":"VM failed"}`)

	n, err := writer.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	records := exporter.snapshot()
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "VM failed", record.Body().AsString())
	assert.Equal(t, log.SeverityWarn, record.Severity())
	assert.Equal(t, "poller", record.InstrumentationScope().Name)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), record.Timestamp().UTC())

	attrs := make(map[string]log.Value)

	record.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value

		return true
	})

	assert.Equal(t, int64(101), attrs["vmid"].AsInt64())
	assert.False(t, attrs["healthy"].AsBool())
	assert.Equal(t, "transport failure", attrs["error"].AsString())
}

func TestOTelWriterIgnoresNonJSON(t *testing.T) {
	exporter := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	writer := newOTelWriter(context.Background(), provider)

	n, err := writer.Write([]byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Empty(t, exporter.snapshot())
}

func TestMapZerologLevelToOTEL(t *testing.T) {
	tests := []struct {
		level    string
		expected log.Severity
	}{
		{"trace", log.SeverityTrace},
		{"debug", log.SeverityDebug},
		{"info", log.SeverityInfo},
		{"warn", log.SeverityWarn},
		{"warning", log.SeverityWarn},
		{"error", log.SeverityError},
		{"fatal", log.SeverityFatal},
		{"panic", log.SeverityFatal},
		{"unknown", log.SeverityInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, mapZerologLevelToOTEL(tt.level), tt.level)
	}
}

func TestTruncateString(t *testing.T) {
	short := "abc"
	assert.Equal(t, short, truncateString(short))

	long := string(bytes.Repeat([]byte("x"), maxAttributeValueLength+10))
	truncated := truncateString(long)
	assert.True(t, strings.HasPrefix(truncated, long[:maxAttributeValueLength]))
	assert.Equal(t, long[:maxAttributeValueLength]+"...("+strconv.Itoa(len(long))+" bytes)", truncated)

	exact := string(bytes.Repeat([]byte("y"), maxAttributeValueLength))
	assert.Equal(t, exact, truncateString(exact))
}

type failingWriter struct{}

var errWriteFailed = errors.New("write failed")

func (failingWriter) Write([]byte) (int, error) { return 0, errWriteFailed }

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer

	mw := NewMultiWriter(&a, &b)
	n, err := mw.Write([]byte("line"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())

	_, err = NewMultiWriter(&a, failingWriter{}).Write([]byte("x"))
	require.ErrorIs(t, err, errWriteFailed)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	provider, err := InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
	assert.Nil(t, provider)
}
