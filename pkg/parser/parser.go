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

// Package parser converts raw in-guest command output into a used-memory byte count.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/carverauto/guestmem/pkg/models"
)

const kib = 1024

var (
	errMissingField  = errors.New("required field missing")
	errInvalidValues = errors.New("field values out of range")
	errTokenCount    = errors.New("unexpected token count")
	errOverflow      = errors.New("byte count overflows uint64")
	errNoParser      = errors.New("no parser for os family")
)

// Func parses command output into used bytes.
type Func func(text string) (uint64, error)

// For returns the parser matching an OS family.
func For(family models.OSFamily) (Func, error) {
	switch family {
	case models.OSLinux:
		return Linux, nil
	case models.OSBSD:
		return BSD, nil
	case models.OSWindows:
		return Windows, nil
	default:
		return nil, fmt.Errorf("%w: %w %q", models.ErrParse, errNoParser, family)
	}
}

// Linux parses /proc/meminfo: used = (MemTotal - MemAvailable) * 1024.
func Linux(text string) (uint64, error) {
	var (
		total, available     uint64
		haveTotal, haveAvail bool
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		key := strings.TrimSuffix(fields[0], ":")
		if key != "MemTotal" && key != "MemAvailable" {
			continue
		}

		valueKB, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", models.ErrParse, key, err)
		}

		if key == "MemTotal" {
			total, haveTotal = valueKB, true
		} else {
			available, haveAvail = valueKB, true
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrParse, err)
	}

	if !haveTotal || !haveAvail {
		return 0, fmt.Errorf("%w: %w: MemTotal/MemAvailable", models.ErrParse, errMissingField)
	}

	if available == 0 || available >= total {
		return 0, fmt.Errorf("%w: %w: total=%d available=%d", models.ErrParse, errInvalidValues, total, available)
	}

	return mulCheck(total-available, kib)
}

// BSD parses the output of
// `sysctl -n vm.stats.vm.v_active_count vm.stats.vm.v_wire_count vm.stats.vm.v_page_size`.
func BSD(text string) (uint64, error) {
	tokens := strings.Fields(text)
	if len(tokens) != 3 {
		return 0, fmt.Errorf("%w: %w: got %d, want 3", models.ErrParse, errTokenCount, len(tokens))
	}

	var values [3]uint64

	for i, tok := range tokens {
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: token %d: %w", models.ErrParse, i, err)
		}

		values[i] = v
	}

	pages, carry := bits.Add64(values[0], values[1], 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %w", models.ErrParse, errOverflow)
	}

	return mulCheck(pages, values[2])
}

// Windows parses `wmic OS get FreePhysicalMemory,TotalVisibleMemorySize /Value` output.
func Windows(text string) (uint64, error) {
	var (
		total, free         int64
		haveTotal, haveFree bool
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key != "TotalVisibleMemorySize" && key != "FreePhysicalMemory" {
			continue
		}

		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", models.ErrParse, key, err)
		}

		if key == "TotalVisibleMemorySize" {
			total, haveTotal = v, true
		} else {
			free, haveFree = v, true
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrParse, err)
	}

	if !haveTotal || !haveFree {
		return 0, fmt.Errorf("%w: %w: TotalVisibleMemorySize/FreePhysicalMemory", models.ErrParse, errMissingField)
	}

	if total <= 0 || free < 0 || free > total {
		return 0, fmt.Errorf("%w: %w: total=%d free=%d", models.ErrParse, errInvalidValues, total, free)
	}

	return mulCheck(uint64(total-free), kib)
}

func mulCheck(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %w", models.ErrParse, errOverflow)
	}

	return lo, nil
}
