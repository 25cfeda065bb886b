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

package fetch

import (
	"errors"
	"time"

	"github.com/carverauto/guestmem/pkg/models"
)

// Kind classifies why a fetch produced no data.
type Kind string

const (
	KindNone      Kind = ""
	KindTransport Kind = "transport"
	KindProtocol  Kind = "protocol"
	KindParse     Kind = "parse"
	KindConfig    Kind = "config"
	KindUnknown   Kind = "unknown"
)

// Result is the outcome of one fetch. Bytes is meaningful only when Err is nil.
type Result struct {
	VMID     int
	Bytes    uint64
	Err      error
	Kind     Kind
	Duration time.Duration
}

// OK reports whether the fetch produced a byte count.
func (r Result) OK() bool {
	return r.Err == nil
}

// Classify maps an error onto the fetch error taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, models.ErrTransport):
		return KindTransport
	case errors.Is(err, models.ErrProtocol):
		return KindProtocol
	case errors.Is(err, models.ErrParse):
		return KindParse
	case errors.Is(err, models.ErrConfig):
		return KindConfig
	default:
		return KindUnknown
	}
}
