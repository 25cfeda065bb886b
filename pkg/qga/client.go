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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/guestmem/pkg/models"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultPollAttempts = 30
	readChunkSize       = 4096
)

// Options bounds every blocking step of a guest agent conversation.
type Options struct {
	// ReadTimeout is the idle timeout applied to each read (and to the dial).
	ReadTimeout time.Duration
	// PollInterval separates guest-exec-status queries.
	PollInterval time.Duration
	// PollAttempts caps the number of guest-exec-status queries.
	PollAttempts int
}

// DefaultOptions returns the stock 10s read timeout and 30 x 100ms exec polling.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:  defaultReadTimeout,
		PollInterval: defaultPollInterval,
		PollAttempts: defaultPollAttempts,
	}
}

func (o Options) normalized() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}

	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}

	if o.PollAttempts <= 0 {
		o.PollAttempts = defaultPollAttempts
	}

	return o
}

// Client speaks the guest agent protocol over a single connection. It is not safe for
// concurrent use; callers open one client per operation.
type Client struct {
	conn net.Conn
	opts Options
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts Options) *Client {
	return &Client{conn: conn, opts: opts.normalized()}
}

// Dial connects to a guest agent unix socket.
func Dial(ctx context.Context, socketPath string, opts Options) (*Client, error) {
	opts = opts.normalized()
	dialer := net.Dialer{Timeout: opts.ReadTimeout}

	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", models.ErrTransport, socketPath, err)
	}

	return NewClient(conn, opts), nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Sync starts a conversation with guest-sync-delimited. Everything the agent sent
// before the matching delimited reply, such as late answers to an abandoned
// conversation, is discarded.
func (c *Client) Sync(ctx context.Context) error {
	id := int64(uuid.New().ID())

	payload, err := json.Marshal(request{Execute: cmdSyncDelimited, Arguments: syncArgs{ID: id}})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", models.ErrProtocol, cmdSyncDelimited, err)
	}

	if err := c.write(ctx, cmdSyncDelimited, append([]byte{syncDelimiter}, payload...)); err != nil {
		return err
	}

	var (
		buf  []byte
		done bool
	)

	chunk := make([]byte, readChunkSize)

	for {
		n, err := c.read(ctx, chunk)
		if n > 0 {
			done, buf = scanSync(append(buf, chunk[:n]...), id)
			if done {
				return nil
			}

			if len(buf) > maxResponseBytes {
				return fmt.Errorf("%w: %s: %w", models.ErrProtocol, cmdSyncDelimited, errOversized)
			}
		}

		if err != nil {
			return fmt.Errorf("%s: %w", cmdSyncDelimited, readError(err, len(buf)))
		}
	}
}

// scanSync looks for the delimited reply carrying id. It returns the bytes worth
// keeping for the next read: the last delimited segment, or nothing.
func scanSync(buf []byte, id int64) (bool, []byte) {
	for {
		start := bytes.IndexByte(buf, syncDelimiter)
		if start < 0 {
			return false, nil
		}

		body := buf[start+1:]
		segment := body

		next := bytes.IndexByte(body, syncDelimiter)
		if next >= 0 {
			segment = body[:next]
		}

		var resp response
		if err := json.NewDecoder(bytes.NewReader(segment)).Decode(&resp); err == nil && resp.Error == nil {
			var got int64
			if json.Unmarshal(resp.Return, &got) == nil && got == id {
				return true, nil
			}
		}

		if next < 0 {
			return false, buf[start:]
		}

		buf = body[next:]
	}
}

// GetOSInfo issues guest-get-osinfo.
func (c *Client) GetOSInfo(ctx context.Context) (*OSInfo, error) {
	var info OSInfo

	if err := c.call(ctx, cmdGetOSInfo, nil, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// ExecCapture runs path with args inside the guest and returns its decoded stdout.
// Status is polled at PollInterval for at most PollAttempts queries.
func (c *Client) ExecCapture(ctx context.Context, path string, args ...string) (string, error) {
	var started execStarted

	err := c.call(ctx, cmdExec, execArgs{Path: path, Arg: args, CaptureOutput: true}, &started)
	if err != nil {
		return "", err
	}

	if started.PID <= 0 {
		return "", fmt.Errorf("%w: %w", models.ErrProtocol, errMissingPID)
	}

	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		var status execStatus

		if err := c.call(ctx, cmdExecStatus, execStatusArgs{PID: started.PID}, &status); err != nil {
			return "", err
		}

		if status.Exited {
			return decodeOutput(path, &status)
		}

		if attempt == c.opts.PollAttempts {
			break
		}

		timer.Reset(c.opts.PollInterval)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", models.ErrTransport, ctx.Err())
		case <-timer.C:
		}
	}

	return "", fmt.Errorf("%w: %w: %s (pid %d) after %d polls",
		models.ErrTransport, ErrExecTimeout, path, started.PID, c.opts.PollAttempts)
}

func decodeOutput(path string, status *execStatus) (string, error) {
	if status.ExitCode == nil || *status.ExitCode != 0 {
		code := -1
		if status.ExitCode != nil {
			code = *status.ExitCode
		}

		detail := ""
		if raw, err := base64.StdEncoding.DecodeString(status.ErrData); err == nil {
			detail = strings.TrimSpace(string(raw))
		}

		return "", fmt.Errorf("%w: %w: %s exited with code %d: %s", models.ErrProtocol, ErrExecFailed, path, code, detail)
	}

	if status.OutData == "" {
		return "", fmt.Errorf("%w: %w: %s produced no output", models.ErrProtocol, ErrExecFailed, path)
	}

	out, err := base64.StdEncoding.DecodeString(status.OutData)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", models.ErrProtocol, errDecodeOutput, err)
	}

	return string(out), nil
}

func (c *Client) call(ctx context.Context, execute string, args, out interface{}) error {
	payload, err := json.Marshal(request{Execute: execute, Arguments: args})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", models.ErrProtocol, execute, err)
	}

	if err := c.write(ctx, execute, append(payload, '\n')); err != nil {
		return err
	}

	resp, err := c.readResponse(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", execute, err)
	}

	if resp.Error != nil {
		return fmt.Errorf("%w: %w: %s: %s: %s", models.ErrProtocol, ErrAgent, execute, resp.Error.Class, resp.Error.Desc)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Return, out); err != nil {
		return fmt.Errorf("%w: decode %s return: %w", models.ErrProtocol, execute, err)
	}

	return nil
}

func (c *Client) write(ctx context.Context, execute string, payload []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}

	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("%w: write %s: %w", models.ErrTransport, execute, err)
	}

	return nil
}

// read performs one read bounded by the idle timeout and the context deadline.
func (c *Client) read(ctx context.Context, chunk []byte) (int, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return 0, err
	}

	return c.conn.Read(chunk)
}

// readResponse accumulates chunks until the buffer decodes as one complete message.
func (c *Client) readResponse(ctx context.Context) (*response, error) {
	var buf []byte

	chunk := make([]byte, readChunkSize)

	for {
		n, err := c.read(ctx, chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			if resp, ok := tryDecode(buf); ok {
				return resp, nil
			}

			if len(buf) > maxResponseBytes {
				return nil, fmt.Errorf("%w: %w", models.ErrProtocol, errOversized)
			}
		}

		if err != nil {
			return nil, readError(err, len(buf))
		}
	}
}

func readError(err error, buffered int) error {
	switch {
	case errors.Is(err, io.EOF) && buffered > 0:
		return fmt.Errorf("%w: %w (%d bytes buffered)", models.ErrProtocol, errIncomplete, buffered)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: read timed out with %d bytes buffered", models.ErrTransport, buffered)
	default:
		return fmt.Errorf("%w: read: %w", models.ErrTransport, err)
	}
}

func tryDecode(buf []byte) (*response, bool) {
	var resp response

	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, false
	}

	if resp.Return == nil && resp.Error == nil {
		// A complete but empty object still ends the read.
		resp.Error = &agentError{Class: "ProtocolError", Desc: errNoReturn.Error()}
	}

	return &resp, true
}

func (c *Client) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.opts.ReadTimeout)

	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}

	return deadline
}
