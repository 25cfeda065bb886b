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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/guestmem/pkg/models"
)

type agentRequest struct {
	Execute   string          `json:"execute"`
	Arguments json.RawMessage `json:"arguments"`
}

// fakeAgent serves the guest agent protocol on a unix socket. The handler returns
// the response as a list of chunks; a nil slice means "never answer". Sync requests
// are answered by the agent itself, after writing backlog.
type fakeAgent struct {
	dir     string
	closed  chan struct{}
	backlog string
}

func startFakeAgent(t *testing.T, vmid int, handle func(req agentRequest) []string) *fakeAgent {
	t.Helper()

	return startFakeAgentWithBacklog(t, vmid, "", handle)
}

func startFakeAgentWithBacklog(t *testing.T, vmid int, backlog string, handle func(req agentRequest) []string) *fakeAgent {
	t.Helper()

	dir := t.TempDir()

	ln, err := net.Listen("unix", filepath.Join(dir, fmt.Sprintf("%d.qga", vmid)))
	require.NoError(t, err)

	fa := &fakeAgent{dir: dir, closed: make(chan struct{}, 16), backlog: backlog}

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go fa.serve(conn, handle)
		}
	}()

	return fa
}

func (fa *fakeAgent) serve(conn net.Conn, handle func(req agentRequest) []string) {
	defer func() {
		_ = conn.Close()
		fa.closed <- struct{}{}
	}()

	dec := json.NewDecoder(delimiterFilter{conn})

	for {
		var req agentRequest
		if err := dec.Decode(&req); err != nil {
			return
		}

		if req.Execute == cmdSyncDelimited {
			var args syncArgs
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				return
			}

			reply := fmt.Sprintf("%s\xff{\"return\": %d}\n", fa.backlog, args.ID)
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}

			continue
		}

		for _, chunk := range handle(req) {
			if _, err := conn.Write([]byte(chunk)); err != nil {
				return
			}

			time.Sleep(5 * time.Millisecond)
		}
	}
}

// delimiterFilter drops the parser reset byte a client sends ahead of a sync request.
type delimiterFilter struct {
	r io.Reader
}

func (f delimiterFilter) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)

		kept := 0

		for _, b := range p[:n] {
			if b != syncDelimiter {
				p[kept] = b
				kept++
			}
		}

		if kept > 0 || err != nil {
			return kept, err
		}
	}
}

func fastOptions() Options {
	return Options{
		ReadTimeout:  time.Second,
		PollInterval: time.Millisecond,
		PollAttempts: 30,
	}
}

func encoded(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestOSInfoChunkedResponse(t *testing.T) {
	agent := startFakeAgent(t, 101, func(req agentRequest) []string {
		assert.Equal(t, cmdGetOSInfo, req.Execute)

		return []string{
			`{"return": {"name": "Debian GNU/Linux", `,
			`"id": "debian", "kernel-release": `,
			`"6.1.0-18-amd64"}}` + "\n",
		}
	})

	conn := NewConnector(agent.dir, fastOptions())
	info, err := conn.OSInfo(context.Background(), 101)
	require.NoError(t, err)

	assert.Equal(t, "Debian GNU/Linux", info.Name)
	assert.Equal(t, "debian", info.ID)
	assert.Equal(t, "6.1.0-18-amd64", info.KernelRelease)

	select {
	case <-agent.closed:
	case <-time.After(time.Second):
		t.Fatal("connection was not released")
	}
}

func TestExecCaptureSuccess(t *testing.T) {
	var polls atomic.Int32

	agent := startFakeAgent(t, 102, func(req agentRequest) []string {
		switch req.Execute {
		case cmdExec:
			var args execArgs
			assert.NoError(t, json.Unmarshal(req.Arguments, &args))
			assert.Equal(t, "cat", args.Path)
			assert.Equal(t, []string{"/proc/meminfo"}, args.Arg)
			assert.True(t, args.CaptureOutput)

			return []string{`{"return": {"pid": 42}}`}
		case cmdExecStatus:
			if polls.Add(1) < 3 {
				return []string{`{"return": {"exited": false}}`}
			}

			return []string{`{"return": {"exited": true, "exitcode": 0, `, `"out-data": "` + encoded("MemTotal: 10 kB\n") + `"}}`}
		default:
			return []string{`{"error": {"class": "CommandNotFound", "desc": "nope"}}`}
		}
	})

	conn := NewConnector(agent.dir, fastOptions())
	out, err := conn.ExecCapture(context.Background(), 102, "cat", "/proc/meminfo")
	require.NoError(t, err)

	assert.Equal(t, "MemTotal: 10 kB\n", out)
	assert.Equal(t, int32(3), polls.Load())
}

func TestExecCaptureNonZeroExit(t *testing.T) {
	agent := startFakeAgent(t, 103, func(req agentRequest) []string {
		if req.Execute == cmdExec {
			return []string{`{"return": {"pid": 7}}`}
		}

		return []string{`{"return": {"exited": true, "exitcode": 1, "err-data": "` + encoded("boom") + `"}}`}
	})

	conn := NewConnector(agent.dir, fastOptions())
	_, err := conn.ExecCapture(context.Background(), 103, "sysctl", "-n", "vm.stats.vm.v_page_size")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecFailed)
	assert.ErrorIs(t, err, models.ErrProtocol)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecCaptureNoOutput(t *testing.T) {
	agent := startFakeAgent(t, 104, func(req agentRequest) []string {
		if req.Execute == cmdExec {
			return []string{`{"return": {"pid": 7}}`}
		}

		return []string{`{"return": {"exited": true, "exitcode": 0}}`}
	})

	_, err := NewConnector(agent.dir, fastOptions()).ExecCapture(context.Background(), 104, "true")
	assert.ErrorIs(t, err, ErrExecFailed)
}

func TestExecCaptureNeverExits(t *testing.T) {
	var polls atomic.Int32

	agent := startFakeAgent(t, 105, func(req agentRequest) []string {
		if req.Execute == cmdExec {
			return []string{`{"return": {"pid": 9}}`}
		}

		polls.Add(1)

		return []string{`{"return": {"exited": false}}`}
	})

	opts := Options{ReadTimeout: time.Second, PollInterval: 2 * time.Millisecond, PollAttempts: 30}
	start := time.Now()

	_, err := NewConnector(agent.dir, opts).ExecCapture(context.Background(), 105, "sleep", "100")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecTimeout)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, int32(30), polls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReadTimeout(t *testing.T) {
	agent := startFakeAgent(t, 106, func(agentRequest) []string {
		return nil
	})

	opts := fastOptions()
	opts.ReadTimeout = 50 * time.Millisecond
	start := time.Now()

	_, err := NewConnector(agent.dir, opts).OSInfo(context.Background(), 106)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPartialResponseThenTimeout(t *testing.T) {
	agent := startFakeAgent(t, 107, func(agentRequest) []string {
		return []string{`{"return": {"name": "Fre`}
	})

	opts := fastOptions()
	opts.ReadTimeout = 50 * time.Millisecond

	_, err := NewConnector(agent.dir, opts).OSInfo(context.Background(), 107)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestAgentErrorObject(t *testing.T) {
	agent := startFakeAgent(t, 108, func(agentRequest) []string {
		return []string{`{"error": {"class": "GenericError", "desc": "Guest agent is not running"}}`}
	})

	_, err := NewConnector(agent.dir, fastOptions()).OSInfo(context.Background(), 108)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgent)
	assert.ErrorIs(t, err, models.ErrProtocol)
	assert.Contains(t, err.Error(), "not running")
}

func TestDialMissingSocket(t *testing.T) {
	_, err := NewConnector(t.TempDir(), fastOptions()).OSInfo(context.Background(), 999)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/var/run/qemu-server/100.qga", NewConnector("", DefaultOptions()).SocketPath(100))
}

func TestClientOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	c := NewClient(client, fastOptions())
	defer func() { _ = c.Close() }()

	go func() {
		var req agentRequest
		_ = json.NewDecoder(server).Decode(&req)
		_, _ = server.Write([]byte(`{"return": {"name": "Microsoft Windows"}}`))
	}()

	info, err := c.GetOSInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Microsoft Windows", info.Name)
}

func TestSyncDiscardsStaleReplies(t *testing.T) {
	// A late exec-status answer and an older sync reply are still queued on the socket.
	backlog := "{\"return\": {\"exited\": true, \"exitcode\": 0}}\n\xff{\"return\": 12345}\n{\"return\": {\"pid\": 9}}\n"

	agent := startFakeAgentWithBacklog(t, 100, backlog, func(req agentRequest) []string {
		if req.Execute != cmdGetOSInfo {
			return []string{`{"error": {"class": "CommandNotFound", "desc": "unexpected"}}`}
		}

		return []string{`{"return": {"name": "FreeBSD", "id": "freebsd"}}`}
	})

	info, err := NewConnector(agent.dir, fastOptions()).OSInfo(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "freebsd", info.ID)
}

func TestSyncTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	c := NewClient(client, Options{ReadTimeout: 50 * time.Millisecond})
	defer func() { _ = c.Close() }()

	go func() {
		_, _ = io.Copy(io.Discard, server)
	}()

	err := c.Sync(context.Background())
	require.ErrorIs(t, err, models.ErrTransport)
	assert.Contains(t, err.Error(), cmdSyncDelimited)
}

func TestScanSync(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		done bool
		keep string
	}{
		{name: "no delimiter", buf: `{"return": {}}`, keep: ""},
		{name: "matching reply", buf: "junk\xff{\"return\": 7}", done: true},
		{name: "partial reply", buf: "junk\xff{\"return\"", keep: "\xff{\"return\""},
		{name: "stale then matching", buf: "\xff{\"return\": 1}\n\xff{\"return\": 7}\n", done: true},
		{name: "stale only", buf: "\xff{\"return\": 1}\n", keep: "\xff{\"return\": 1}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done, keep := scanSync([]byte(tt.buf), 7)
			assert.Equal(t, tt.done, done)
			assert.Equal(t, tt.keep, string(keep))
		})
	}
}
