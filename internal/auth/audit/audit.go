// Package audit emits security events to the log without ever blocking the
// request that raised them.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Event is one security-relevant occurrence. Subject identifiers are hashed
// before they reach the log.
type Event struct {
	Type      string
	SubjectID string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

type Options struct {
	// Buffer is the queue depth. Events beyond it are dropped. Default 256.
	Buffer int

	// PerKeyRate and PerKeyBurst throttle repeats of the same (type, client)
	// pair so a replay storm cannot flood the log. Zero disables throttling.
	PerKeyRate  rate.Limit
	PerKeyBurst int
}

const maxThrottleKeys = 10_000

// Auditor writes events from a single background worker. All methods are
// safe on a nil *Auditor.
type Auditor struct {
	logger *slog.Logger
	opts   Options
	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	limiters map[string]*rate.Limiter

	// OnDrop, when set, is called for every event that is not written.
	OnDrop func(eventType, reason string)
}

func New(logger *slog.Logger, opts Options) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}

	a := &Auditor{
		logger:   logger,
		opts:     opts,
		events:   make(chan Event, opts.Buffer),
		done:     make(chan struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
	go a.run()
	return a
}

// Emit queues e. It never blocks: a full queue, a throttled key or a closed
// auditor drops the event.
func (a *Auditor) Emit(e Event) {
	if a == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.dropped(e.Type, "closed")
		return
	}
	if !a.allow(e.Type + "|" + e.ClientID) {
		a.dropped(e.Type, "throttled")
		return
	}

	select {
	case a.events <- e:
	default:
		a.dropped(e.Type, "buffer_full")
	}
}

// allow must be called with a.mu held.
func (a *Auditor) allow(key string) bool {
	if a.opts.PerKeyRate == 0 {
		return true
	}
	lim, ok := a.limiters[key]
	if !ok {
		if len(a.limiters) >= maxThrottleKeys {
			clear(a.limiters)
		}
		lim = rate.NewLimiter(a.opts.PerKeyRate, max(a.opts.PerKeyBurst, 1))
		a.limiters[key] = lim
	}
	return lim.Allow()
}

func (a *Auditor) dropped(eventType, reason string) {
	if a.OnDrop != nil {
		a.OnDrop(eventType, reason)
	}
}

func (a *Auditor) run() {
	defer close(a.done)
	for e := range a.events {
		a.write(e)
	}
}

func (a *Auditor) write(e Event) {
	a.logger.Warn("security_audit",
		"event_type", e.Type,
		"subject_hash", hashForLogging(e.SubjectID),
		"client_id", e.ClientID,
		"details", e.Details,
		"timestamp", e.Timestamp,
	)
}

// Close stops accepting events and waits for queued ones to be written.
func (a *Auditor) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()
	<-a.done
}

func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:])[:16]
}
