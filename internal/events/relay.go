// Copyright 2025 James Ross
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// wireEvent is the JSON shape published to NATS for each relayed event.
type wireEvent struct {
	Service  string `json:"service"`
	Kind     string `json:"kind"`
	TenantID string `json:"tenant_id"`
	Data     any    `json:"data,omitempty"`
	At       string `json:"at"`
}

// RelayTo forwards every event matching pattern to subject on nc as JSON, for
// out-of-process observers. It registers a plain listener on h and returns
// its ID so the caller can Off() it later; publish failures are logged but
// never block or fail the in-process emission they ride along with.
func RelayTo(h *Hub, nc *nats.Conn, subject string, pattern Pattern, log *zap.Logger) int64 {
	return h.On(pattern, func(_ context.Context, ev Event) {
		payload, err := json.Marshal(wireEvent{
			Service:  ev.Service,
			Kind:     ev.Kind,
			TenantID: ev.TenantID,
			Data:     ev.Data,
			At:       ev.At.Format("2006-01-02T15:04:05.000000000Z07:00"),
		})
		if err != nil {
			log.Warn("events: relay marshal failed", zap.Error(err), zap.String("service", ev.Service), zap.String("kind", ev.Kind))
			return
		}
		if err := nc.Publish(subject, payload); err != nil {
			log.Warn("events: relay publish failed", zap.Error(err), zap.String("subject", subject))
		}
	})
}

// RelaySubject builds the conventional subject for a service/kind pair,
// e.g. "dogqueue.events.jobs.created".
func RelaySubject(root, service, kind string) string {
	return fmt.Sprintf("%s.events.%s.%s", root, service, kind)
}
