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

package models

import (
	"fmt"
	"strings"
)

// OSFamily is the guest operating system family used to pick commands and parsers.
type OSFamily string

const (
	OSUnknown OSFamily = ""
	OSLinux   OSFamily = "linux"
	OSBSD     OSFamily = "bsd"
	OSWindows OSFamily = "windows"
)

// ParseOSFamily maps user supplied names, including the legacy distribution
// aliases, onto an OSFamily.
func ParseOSFamily(s string) (OSFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linux":
		return OSLinux, nil
	case "bsd", "freebsd", "opnsense", "pfsense", "openbsd", "netbsd":
		return OSBSD, nil
	case "windows", "win":
		return OSWindows, nil
	default:
		return OSUnknown, fmt.Errorf("%w: unknown os family %q", ErrConfig, s)
	}
}

func (f OSFamily) String() string {
	if f == OSUnknown {
		return "unknown"
	}

	return string(f)
}

// Transport selects how in-guest commands are executed.
type Transport string

const (
	TransportAgent       Transport = "agent"
	TransportRemoteShell Transport = "remote-shell"
)

// ParseTransport accepts both the canonical names and the legacy "qga"/"ssh" spellings.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent", "qga", "guest-agent":
		return TransportAgent, nil
	case "remote-shell", "ssh":
		return TransportRemoteShell, nil
	default:
		return "", fmt.Errorf("%w: unknown transport %q", ErrConfig, s)
	}
}

// RemoteTarget holds the remote-shell connection parameters of a VM.
type RemoteTarget struct {
	Address    string `json:"address"`
	Port       int    `json:"port,omitempty"`
	User       string `json:"user,omitempty"`
	Credential string `json:"credential,omitempty"` // private key path
}

// VMEntry is one VM in the active set.
type VMEntry struct {
	ID         int           `json:"id"`
	OSFamily   OSFamily      `json:"os_family"`
	Transport  Transport     `json:"transport"`
	Remote     *RemoteTarget `json:"remote,omitempty"`
	Enabled    bool          `json:"enabled"`
	Discovered bool          `json:"discovered,omitempty"`
}
