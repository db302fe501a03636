// Copyright 2025 James Ross
// Package events implements the in-process, pattern-matched event hub that
// services broadcast standard CRUD (and custom) events through.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Standard event kinds emitted automatically by the pipeline on successful
// writes. Services may also emit arbitrary Custom kinds.
const (
	Created = "created"
	Updated = "updated"
	Patched = "patched"
	Removed = "removed"
)

// MethodToStandardEvent maps a CRUD method name to the event kind the
// pipeline emits after a successful call, mirroring dog-core's
// method_to_standard_event. ok is false for methods with no standard event
// (find, get, and any custom method).
func MethodToStandardEvent(method string) (kind string, ok bool) {
	switch method {
	case "create":
		return Created, true
	case "update":
		return Updated, true
	case "patch":
		return Patched, true
	case "remove":
		return Removed, true
	default:
		return "", false
	}
}

// Event is one emission: which service, which kind, and its payload.
type Event struct {
	Service string
	Kind    string
	TenantID string
	Data    any
	At      time.Time
}

// Listener receives matching events. It must not block indefinitely: the hub
// awaits every matched listener before returning from Emit.
type Listener func(ctx context.Context, ev Event)

// Pattern matches events by service name and kind, with "*" as a wildcard on
// either side — e.g. Pattern{"jobs", "*"} matches every jobs.* event,
// Pattern{"*", "created"} matches every service's created event.
type Pattern struct {
	Service string
	Kind    string
}

const any_ = "*"

// Matches reports whether the pattern matches the given service/kind pair.
func (p Pattern) Matches(service, kind string) bool {
	if p.Service != any_ && p.Service != service {
		return false
	}
	if p.Kind != any_ && p.Kind != kind {
		return false
	}
	return true
}

// ParsePattern parses "service.kind", "service *", or "* *" sugar into a
// Pattern, accepting '.' or whitespace as the separator.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	var parts []string
	if idx := strings.IndexAny(s, ". "); idx >= 0 {
		parts = []string{s[:idx], strings.TrimSpace(s[idx+1:])}
	}
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pattern{}, fmt.Errorf("events: invalid pattern %q, want \"service.kind\"", s)
	}
	return Pattern{Service: parts[0], Kind: parts[1]}, nil
}

type listenerEntry struct {
	id      int64
	pattern Pattern
	fn      Listener
	once    bool
}

// Hub is the process-wide, pattern-matched pub/sub broadcaster. Emit follows
// a strict three-phase protocol so no listener callback ever runs while the
// hub's internal lock is held: snapshot matches under a read lock, await
// listeners with no lock held, then remove any fired "once" listeners under
// a write lock.
type Hub struct {
	mu        sync.RWMutex
	listeners []listenerEntry
	nextID    atomic.Int64
	publish   atomic.Bool
	log       *zap.Logger
}

// NewHub returns a Hub with publishing enabled.
func NewHub() *Hub {
	h := &Hub{log: zap.NewNop()}
	h.publish.Store(true)
	return h
}

// WithLogger sets the logger a panicking listener is reported to. A nil
// logger is treated as a no-op sink.
func (h *Hub) WithLogger(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h.log = log
	return h
}

// SetPublishing toggles whether Emit delivers to listeners at all; useful to
// quiesce a hub during backfills or tests without tearing down listeners.
func (h *Hub) SetPublishing(enabled bool) {
	h.publish.Store(enabled)
}

// On registers fn for every event matching pattern and returns its ID, for
// later removal via Off.
func (h *Hub) On(pattern Pattern, fn Listener) int64 {
	return h.add(pattern, fn, false)
}

// Once registers fn to fire at most one time for a matching event.
func (h *Hub) Once(pattern Pattern, fn Listener) int64 {
	return h.add(pattern, fn, true)
}

func (h *Hub) add(pattern Pattern, fn Listener, once bool) int64 {
	id := h.nextID.Add(1)
	h.mu.Lock()
	h.listeners = append(h.listeners, listenerEntry{id: id, pattern: pattern, fn: fn, once: once})
	h.mu.Unlock()
	return id
}

// Off removes the listener with the given ID, if still registered.
func (h *Hub) Off(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l.id == id {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

// RemoveAll drops every registered listener.
func (h *Hub) RemoveAll() {
	h.mu.Lock()
	h.listeners = nil
	h.mu.Unlock()
}

// Emit delivers ev to every matching listener and removes any "once"
// listeners that fired. A listener that panics is isolated: the panic is
// recovered and reported to the hub's logger, and delivery continues to
// every later-matched listener and every subsequent Emit call.
func (h *Hub) Emit(ctx context.Context, ev Event) {
	if !h.publish.Load() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	matched, onceIDs := h.snapshotEmit(ev)
	for _, fn := range matched {
		h.invoke(ctx, ev, fn)
	}
	h.finalizeOnceRemovals(onceIDs)
}

func (h *Hub) invoke(ctx context.Context, ev Event, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("events: listener panicked",
				zap.String("service", ev.Service),
				zap.String("kind", ev.Kind),
				zap.Any("panic", r))
		}
	}()
	fn(ctx, ev)
}

func (h *Hub) snapshotEmit(ev Event) (matched []Listener, onceIDs []int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.listeners {
		if l.pattern.Matches(ev.Service, ev.Kind) {
			matched = append(matched, l.fn)
			if l.once {
				onceIDs = append(onceIDs, l.id)
			}
		}
	}
	return matched, onceIDs
}

func (h *Hub) finalizeOnceRemovals(ids []int64) {
	if len(ids) == 0 {
		return
	}
	remove := make(map[int64]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.listeners[:0:0]
	for _, l := range h.listeners {
		if !remove[l.id] {
			kept = append(kept, l)
		}
	}
	h.listeners = kept
}
