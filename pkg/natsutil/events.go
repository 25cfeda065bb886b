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

// Package natsutil publishes VM health transitions as CloudEvents over NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/models"
)

const (
	EventTypeVMHealth = "com.carverauto.guestmem.vm.health"
	DefaultSubject    = "events.guestmem.vm.health"
	DefaultStream     = "events"
	DefaultClientName = "guestmem"

	eventSourcePrefix = "guestmem/"
)

var errNATSURLRequired = errors.New("NATS url is required")

// EventPublisher publishes CloudEvents to a JetStream subject.
type EventPublisher struct {
	js      jetstream.JetStream
	subject string
	source  string
}

// NewEventPublisher creates a publisher for subject; host identifies the event source.
func NewEventPublisher(js jetstream.JetStream, subject, host string) *EventPublisher {
	if subject == "" {
		subject = DefaultSubject
	}

	return &EventPublisher{
		js:      js,
		subject: subject,
		source:  eventSourcePrefix + host,
	}
}

func (p *EventPublisher) Subject() string {
	return p.subject
}

// PublishVMHealthEvent publishes one status transition and waits for the JetStream ack.
func (p *EventPublisher) PublishVMHealthEvent(ctx context.Context, data *models.VMHealthEventData) error {
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now().UTC()
	}

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            EventTypeVMHealth,
		DataContentType: "application/json",
		Subject:         p.subject,
		Time:            &data.Timestamp,
		Data:            data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal VM health event: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish VM health event for VM %d: %w", data.VMID, err)
	}

	return nil
}

// Connect dials NATS, ensures a stream covers the configured subject and
// returns a publisher bound to it. The caller owns the returned connection.
func Connect(ctx context.Context, cfg *models.NATSConfig, host string, log logger.Logger) (*EventPublisher, *nats.Conn, error) {
	if !cfg.Enabled() {
		return nil, nil, errNATSURLRequired
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	name := cfg.Name
	if name == "" {
		name = DefaultClientName
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	if err := ensureStream(ctx, js, stream, subject); err != nil {
		nc.Close()

		return nil, nil, err
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("stream", stream).Str("subject", subject).
		Msg("Publishing VM health events to NATS")

	return NewEventPublisher(js, subject, host), nc, nil
}

// ensureStream creates the stream if missing and adds subject to it when no
// existing subject filter covers it.
func ensureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: []string{subject},
		}); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		return nil
	}

	cfg := stream.CachedInfo().Config

	subjects := ensureSubjectList(cfg.Subjects, subject)
	if len(subjects) == len(cfg.Subjects) {
		return nil
	}

	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, name, err)
	}

	return nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject filter with * and > wildcards matches subject.
func matchesSubject(pattern, subject string) bool {
	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, token := range patternTokens {
		if token == ">" {
			return len(subjectTokens) > i
		}

		if i >= len(subjectTokens) {
			return false
		}

		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}

	return len(patternTokens) == len(subjectTokens)
}
