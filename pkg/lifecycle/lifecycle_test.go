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

package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/guestmem/pkg/logger"
)

type fakeService struct {
	started  atomic.Bool
	stopped  atomic.Bool
	startErr error
}

func (s *fakeService) Start(context.Context) error {
	s.started.Store(true)

	return s.startErr
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.stopped.Store(true)

	return ctx.Err()
}

func TestRunServiceStopsOnContextCancel(t *testing.T) {
	svc := &fakeService{}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- RunService(ctx, &ServiceOptions{ServiceName: "guestmem", Service: svc})
	}()

	require.Eventually(t, svc.started.Load, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunService did not return")
	}

	assert.True(t, svc.stopped.Load())
}

func TestRunServiceStartFailure(t *testing.T) {
	errBoom := errors.New("boom")
	svc := &fakeService{startErr: errBoom}

	err := RunService(context.Background(), &ServiceOptions{ServiceName: "guestmem", Service: svc})
	require.ErrorIs(t, err, errBoom)
	assert.False(t, svc.stopped.Load())
}

func TestRunServiceRequiresService(t *testing.T) {
	require.ErrorIs(t, RunService(context.Background(), &ServiceOptions{}), errServiceRequired)
}

func TestCreateComponentLogger(t *testing.T) {
	log, err := CreateComponentLogger(context.Background(), "poller", &logger.Config{Level: "debug", Output: "stderr"})
	require.NoError(t, err)
	require.NotNil(t, log)

	_, err = CreateComponentLogger(context.Background(), "poller", &logger.Config{Level: "chatty"})
	require.Error(t, err)
}
