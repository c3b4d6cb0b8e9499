// Package debounce holds the deadman-timer state machine that turns an
// intermittent stream of status tokens (plus silence) into discrete dispatch
// cycles.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/log"
	"github.com/skeops/diwatch/internal/status"
)

// Trigger records what caused a dispatch cycle.
type Trigger string

const (
	// TriggerEvent is a cycle caused by a status token from the source.
	TriggerEvent Trigger = "event"
	// TriggerWatchdog is a cycle caused by the deadman window elapsing.
	TriggerWatchdog Trigger = "watchdog"
)

// Dispatcher starts one dispatch cycle for a decided status.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger Trigger, token status.Token)
}

// Watchdog owns the current status and the single outstanding deadman timer.
// Every accepted token cancels and re-arms the timer; if the window elapses
// un-cancelled the safe token is fed back in, so sustained silence
// redispatches the safe payload once per window, forever.
//
// The mutex covers only the timer-handle swap and the status fields. Dispatch
// runs outside it and cycles are deliberately not serialized against each
// other: a token arriving just after an expiry can put two cycles in flight
// at once. That overlap is accepted behavior, observable in the cycle
// journal.
type Watchdog struct {
	window     time.Duration
	safe       status.Token
	dispatcher Dispatcher
	hub        *events.Hub
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	timer    *time.Timer
	armedAt  time.Time
	closed   bool
	last     status.Token
	lastAt   time.Time
	haveLast bool
}

// New creates a Watchdog. It stays idle until Start arms the first window.
func New(window time.Duration, safe status.Token, dispatcher Dispatcher, hub *events.Hub) *Watchdog {
	return &Watchdog{
		window:     window,
		safe:       safe,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     log.WithComponent("watchdog"),
		ctx:        context.Background(),
	}
}

// Start arms the deadman window immediately, before any event has been
// observed. Nothing is dispatched until the first token arrives or the first
// window expires. ctx is the base context handed to dispatch cycles.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.ctx = ctx
	w.rearmLocked()
	w.logger.Info("watchdog armed", "window", w.window, "safe", w.safe)
}

// OnStatus handles one accepted status token. It re-arms the deadman window
// and triggers exactly one dispatch cycle for the token.
func (w *Watchdog) OnStatus(token status.Token) {
	w.feed(token, TriggerEvent)
}

func (w *Watchdog) feed(token status.Token, trigger Trigger) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.rearmLocked()
	w.last = token
	w.lastAt = time.Now().UTC()
	w.haveLast = true
	ctx := w.ctx
	w.mu.Unlock()

	// Outside the lock: re-arming protects the timer handle only, never an
	// in-flight cycle.
	w.dispatcher.Dispatch(ctx, trigger, token)
}

// rearmLocked cancels the outstanding timer (if any) and installs a new one.
// Cancel-then-arm keeps at most one timer outstanding at any instant.
func (w *Watchdog) rearmLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.expire)
	w.armedAt = time.Now().UTC()
}

func (w *Watchdog) expire() {
	w.logger.Warn("no status within watchdog window, assuming safe state",
		"window", w.window, "safe", w.safe)
	w.hub.Publish(events.WatchdogExpired, map[string]any{
		"window": w.window.String(),
		"safe":   w.safe,
	})
	w.feed(w.safe, TriggerWatchdog)
}

// Close cancels the outstanding timer and ignores all further tokens.
func (w *Watchdog) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.logger.Info("watchdog stopped")
}

// Current returns the most recently decided status and when it was decided.
// ok is false before the first dispatch cycle.
func (w *Watchdog) Current() (token status.Token, at time.Time, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.lastAt, w.haveLast
}

// Deadline returns when the current window expires. Zero before Start.
func (w *Watchdog) Deadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armedAt.IsZero() {
		return time.Time{}
	}
	return w.armedAt.Add(w.window)
}
