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

// Package qga implements a minimal QEMU guest agent client over the per-VM control socket.
package qga

import (
	"encoding/json"
	"errors"
)

var (
	// ErrExecFailed is returned when a guest process exits unsuccessfully or without output.
	ErrExecFailed = errors.New("guest exec failed")
	// ErrExecTimeout is returned when a guest process does not exit within the poll budget.
	ErrExecTimeout = errors.New("guest exec did not complete")
	// ErrAgent wraps an error object returned by the guest agent.
	ErrAgent = errors.New("guest agent returned error")

	errIncomplete   = errors.New("connection closed before a complete response")
	errNoReturn     = errors.New("response has neither return nor error")
	errOversized    = errors.New("response exceeds maximum size")
	errMissingPID   = errors.New("guest-exec returned no pid")
	errDecodeOutput = errors.New("failed to decode guest output")
)

const (
	cmdGetOSInfo     = "guest-get-osinfo"
	cmdExec          = "guest-exec"
	cmdExecStatus    = "guest-exec-status"
	cmdSyncDelimited = "guest-sync-delimited"
	maxResponseBytes = 8 << 20

	// syncDelimiter precedes the guest-sync-delimited reply and resets the agent's parser
	// when sent by the client. It never occurs in UTF-8 encoded JSON.
	syncDelimiter byte = 0xFF
)

type request struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
}

type response struct {
	Return json.RawMessage `json:"return"`
	Error  *agentError     `json:"error"`
}

type agentError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

// OSInfo is the subset of guest-get-osinfo used for classification.
type OSInfo struct {
	Name          string `json:"name"`
	PrettyName    string `json:"pretty-name"`
	ID            string `json:"id"`
	Version       string `json:"version"`
	VersionID     string `json:"version-id"`
	KernelRelease string `json:"kernel-release"`
	KernelVersion string `json:"kernel-version"`
	Machine       string `json:"machine"`
}

type syncArgs struct {
	ID int64 `json:"id"`
}

type execArgs struct {
	Path          string   `json:"path"`
	Arg           []string `json:"arg,omitempty"`
	CaptureOutput bool     `json:"capture-output"`
}

type execStarted struct {
	PID int `json:"pid"`
}

type execStatusArgs struct {
	PID int `json:"pid"`
}

type execStatus struct {
	Exited       bool   `json:"exited"`
	ExitCode     *int   `json:"exitcode,omitempty"`
	Signal       *int   `json:"signal,omitempty"`
	OutData      string `json:"out-data,omitempty"`
	ErrData      string `json:"err-data,omitempty"`
	OutTruncated bool   `json:"out-truncated,omitempty"`
}
