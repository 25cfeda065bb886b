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

package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
)

var (
	errEmptyDocument  = errors.New("empty document")
	errDocumentShape  = errors.New("expected an array of VMs or an object with \"vms\"")
	errMissingID      = errors.New("missing id")
	errInvalidID      = errors.New("invalid id")
	errInvalidPort    = errors.New("invalid port")
	errConflictingKey = errors.New("conflicting aliases")
)

const defaultSSHPort = 22

// document is the object form of the input.
type document struct {
	Auto bool              `json:"auto"`
	VMs  []json.RawMessage `json:"vms"`
}

// record is one VM record after alias resolution.
type record struct {
	ID         json.RawMessage
	OSFamily   string
	Transport  string
	Enabled    *bool
	Auto       bool
	Address    string
	Port       json.RawMessage
	User       string
	Credential string
}

// aliases maps every accepted key to its canonical name.
//
//nolint:gochecknoglobals // lookup table
var aliases = map[string]string{
	"id":         "id",
	"vmid":       "id",
	"os_family":  "os_family",
	"type":       "os_family",
	"transport":  "transport",
	"method":     "transport",
	"enabled":    "enabled",
	"auto":       "auto",
	"address":    "address",
	"ip":         "address",
	"port":       "port",
	"user":       "user",
	"credential": "credential",
	"ssh_key":    "credential",
}

// Parse decodes and normalizes a declarative VM set. Disabled entries are
// dropped and a repeated id replaces the earlier entry.
func Parse(data []byte, log logger.Logger) (*Inventory, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", models.ErrConfig, errEmptyDocument)
	}

	var (
		raws []json.RawMessage
		inv  Inventory
	)

	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrConfig, err)
		}
	case '{':
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrConfig, err)
		}

		inv.Auto = doc.Auto
		raws = doc.VMs
	default:
		return nil, fmt.Errorf("%w: %w", models.ErrConfig, errDocumentShape)
	}

	index := make(map[int]int)

	var all []models.VMEntry

	for i, raw := range raws {
		entry, auto, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: vm record %d: %w", models.ErrConfig, i, err)
		}

		if auto {
			inv.Auto = true
		}

		if entry == nil {
			continue
		}

		if pos, ok := index[entry.ID]; ok {
			log.Warn().Int("vmid", entry.ID).Msg("Duplicate VM id in inventory, last entry wins")

			all[pos] = *entry

			continue
		}

		index[entry.ID] = len(all)
		all = append(all, *entry)
	}

	for i := range all {
		if all[i].Enabled {
			inv.Entries = append(inv.Entries, all[i])

			continue
		}

		if inv.Disabled == nil {
			inv.Disabled = make(map[int]struct{})
		}

		inv.Disabled[all[i].ID] = struct{}{}
	}

	return &inv, nil
}

func decodeRecord(raw json.RawMessage) (*record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	canonical := make(map[string]json.RawMessage, len(fields))

	for key, value := range fields {
		name, ok := aliases[strings.ToLower(key)]
		if !ok {
			continue
		}

		if prev, dup := canonical[name]; dup && !bytes.Equal(prev, value) {
			return nil, fmt.Errorf("%w: %s", errConflictingKey, name)
		}

		canonical[name] = value
	}

	rec := &record{ID: canonical["id"], Port: canonical["port"]}

	strs := map[string]*string{
		"os_family":  &rec.OSFamily,
		"transport":  &rec.Transport,
		"address":    &rec.Address,
		"user":       &rec.User,
		"credential": &rec.Credential,
	}

	for name, dst := range strs {
		if value, ok := canonical[name]; ok && !isNull(value) {
			if err := json.Unmarshal(value, dst); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	if value, ok := canonical["enabled"]; ok && !isNull(value) {
		var enabled bool
		if err := json.Unmarshal(value, &enabled); err != nil {
			return nil, fmt.Errorf("enabled: %w", err)
		}

		rec.Enabled = &enabled
	}

	if value, ok := canonical["auto"]; ok && !isNull(value) {
		if err := json.Unmarshal(value, &rec.Auto); err != nil {
			return nil, fmt.Errorf("auto: %w", err)
		}
	}

	return rec, nil
}

// normalize returns the entry for a record, or nil for a pure discovery marker.
// The bool reports whether the record turns on discovery.
func normalize(raw json.RawMessage) (*models.VMEntry, bool, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, false, err
	}

	enabled := rec.Enabled == nil || *rec.Enabled

	id, sentinel, err := parseID(rec.ID)
	if err != nil {
		return nil, false, err
	}

	if sentinel {
		return nil, enabled, nil
	}

	if id == 0 {
		if rec.Auto {
			return nil, enabled, nil
		}

		return nil, false, errMissingID
	}

	family, err := models.ParseOSFamily(rec.OSFamily)
	if err != nil {
		return nil, false, err
	}

	address := strings.TrimSpace(rec.Address)

	transport := models.TransportAgent
	if address != "" {
		transport = models.TransportRemoteShell
	}

	if rec.Transport != "" {
		if transport, err = models.ParseTransport(rec.Transport); err != nil {
			return nil, false, err
		}
	}

	entry := &models.VMEntry{
		ID:        id,
		OSFamily:  family,
		Transport: transport,
		Enabled:   enabled,
	}

	if transport == models.TransportRemoteShell {
		port, err := parsePort(rec.Port)
		if err != nil {
			return nil, false, err
		}

		entry.Remote = &models.RemoteTarget{
			Address:    address,
			Port:       port,
			User:       strings.TrimSpace(rec.User),
			Credential: strings.TrimSpace(rec.Credential),
		}
	}

	return entry, rec.Auto && enabled, nil
}

// parseID accepts an integer, a numeric string or the "*"/"auto" sentinel.
// A missing id returns 0.
func parseID(raw json.RawMessage) (int, bool, error) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, fmt.Errorf("%w: %w", errInvalidID, err)
		}

		s = strings.TrimSpace(s)

		switch strings.ToLower(s) {
		case "*", "auto":
			return 0, true, nil
		}
	} else {
		s = string(raw)
	}

	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, false, fmt.Errorf("%w: %s", errInvalidID, string(raw))
	}

	return id, false, nil
}

func parsePort(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || isNull(raw) {
		return defaultSSHPort, nil
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %w", errInvalidPort, err)
		}
	}

	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %s", errInvalidPort, string(raw))
	}

	return port, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
