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

import "errors"

// Error taxonomy shared by the collection pipeline. Packages wrap these with
// fmt.Errorf("%w: ...") and callers classify with errors.Is.
var (
	// ErrTransport covers connect, read and timeout failures on either transport.
	ErrTransport = errors.New("transport error")
	// ErrProtocol covers malformed, incomplete or failed guest-agent responses.
	ErrProtocol = errors.New("protocol error")
	// ErrParse is returned when in-guest command output has an unexpected shape.
	ErrParse = errors.New("parse error")
	// ErrConfig marks malformed declarative input.
	ErrConfig = errors.New("config error")
	// ErrDiscovery marks control-plane query failures.
	ErrDiscovery = errors.New("discovery error")
)
