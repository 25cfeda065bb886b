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

package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carverauto/guestmem/pkg/models"
	"github.com/carverauto/guestmem/pkg/qga"
)

var errUnclassified = errors.New("could not determine guest os family")

// GuestAgent is the guest agent surface used for classification.
type GuestAgent interface {
	OSInfo(ctx context.Context, vmid int) (*qga.OSInfo, error)
	ExecCapture(ctx context.Context, vmid int, path string, args ...string) (string, error)
}

//nolint:gochecknoglobals // lookup table
var bsdIDs = map[string]struct{}{
	"freebsd":     {},
	"openbsd":     {},
	"netbsd":      {},
	"dragonfly":   {},
	"opnsense":    {},
	"pfsense":     {},
	"ghostbsd":    {},
	"midnightbsd": {},
}

// ClassifyOSInfo maps a guest-get-osinfo answer to an OS family. It returns
// OSUnknown when the answer carries no identifying field.
func ClassifyOSInfo(info *qga.OSInfo) models.OSFamily {
	if info == nil {
		return models.OSUnknown
	}

	names := strings.ToLower(info.Name + " " + info.PrettyName)
	if strings.Contains(names, "windows") || strings.Contains(names, "microsoft") {
		return models.OSWindows
	}

	if strings.EqualFold(info.ID, "mswindows") {
		return models.OSWindows
	}

	if _, ok := bsdIDs[strings.ToLower(strings.TrimSpace(info.ID))]; ok {
		return models.OSBSD
	}

	kernel := strings.ToLower(info.KernelRelease + " " + info.KernelVersion)
	if strings.Contains(kernel, "freebsd") || strings.Contains(kernel, "bsd") {
		return models.OSBSD
	}

	if info.ID != "" || info.Name != "" || info.PrettyName != "" || info.KernelRelease != "" {
		return models.OSLinux
	}

	return models.OSUnknown
}

// classifyUname maps `uname -s` output to a family.
func classifyUname(out string) models.OSFamily {
	out = strings.TrimSpace(out)

	switch {
	case strings.EqualFold(out, "linux"):
		return models.OSLinux
	case strings.HasSuffix(strings.ToUpper(out), "BSD"), strings.EqualFold(out, "DragonFly"):
		return models.OSBSD
	default:
		return models.OSUnknown
	}
}

// Classify determines a VM's OS family through its guest agent: the OS info
// query first, then `cmd.exe /c ver` and `uname -s` probes. An unreachable
// agent fails immediately without the exec probes.
func Classify(ctx context.Context, agent GuestAgent, vmid int) (models.OSFamily, error) {
	info, err := agent.OSInfo(ctx, vmid)
	if err == nil {
		if family := ClassifyOSInfo(info); family != models.OSUnknown {
			return family, nil
		}
	} else if errors.Is(err, models.ErrTransport) {
		return models.OSUnknown, err
	}

	if out, verErr := agent.ExecCapture(ctx, vmid, "cmd.exe", "/c", "ver"); verErr == nil &&
		strings.Contains(strings.ToLower(out), "windows") {
		return models.OSWindows, nil
	}

	out, unameErr := agent.ExecCapture(ctx, vmid, "uname", "-s")
	if unameErr == nil {
		if family := classifyUname(out); family != models.OSUnknown {
			return family, nil
		}
	}

	if err == nil {
		err = unameErr
	}

	if err == nil {
		return models.OSUnknown, fmt.Errorf("VM %d: %w", vmid, errUnclassified)
	}

	return models.OSUnknown, fmt.Errorf("VM %d: %w: %w", vmid, errUnclassified, err)
}
