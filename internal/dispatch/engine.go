// Package dispatch fans one status-derived downlink out to every current
// fleet member with bounded concurrency and per-member failure isolation.
package dispatch

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeops/diwatch/internal/debounce"
	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/log"
	"github.com/skeops/diwatch/internal/status"
)

// Config holds the engine's dispatch parameters. Payloads must contain a
// mapping for every recognized token; the config loader enforces that before
// the engine is ever constructed.
type Config struct {
	Payloads       map[status.Token][]byte
	ConcurrencyCap int
	PerCallTimeout time.Duration
}

// Engine implements debounce.Dispatcher. Each Dispatch call is one complete
// cycle: a fresh fleet read, one enqueue attempt per member through a worker
// pool of min(memberCount, ConcurrencyCap), and an aggregate record. No
// retries at any level; a failed cycle is corrected only by the next trigger.
type Engine struct {
	cfg       Config
	directory Directory
	channel   Channel
	recorder  Recorder
	hub       *events.Hub
	logger    *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewEngine creates an Engine. recorder may be nil to disable the journal.
func NewEngine(cfg Config, directory Directory, channel Channel, recorder Recorder, hub *events.Hub) *Engine {
	return &Engine{
		cfg:       cfg,
		directory: directory,
		channel:   channel,
		recorder:  recorder,
		hub:       hub,
		logger:    log.WithComponent("dispatch"),
	}
}

// Dispatch runs one cycle for the decided status. It blocks the caller until
// every member's attempt has completed or timed out; callers that must not
// block (the watchdog path already dispatches outside its lock) rely on the
// per-call timeout bounding the cycle.
func (e *Engine) Dispatch(ctx context.Context, trigger debounce.Trigger, token status.Token) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn("engine closed, dropping dispatch cycle", "trigger", trigger, "status", token)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	cycleID := uuid.NewString()
	logger := log.WithCycle(cycleID).With("trigger", trigger, "status", token)
	startedAt := time.Now().UTC()

	payload, ok := e.cfg.Payloads[token]
	if !ok {
		// Unreachable with a validated config; guard it anyway.
		logger.Error("no payload mapping for status, skipping cycle")
		e.skip(ctx, cycleID, trigger, token, startedAt, "missing payload mapping")
		return
	}

	members, err := e.directory.ListMembers(ctx)
	if err != nil {
		logger.Error("fleet read failed, skipping cycle", "error", err)
		e.skip(ctx, cycleID, trigger, token, startedAt, "fleet read failed: "+err.Error())
		return
	}
	if len(members) == 0 {
		logger.Error("no dispatch targets in fleet, skipping cycle")
		e.skip(ctx, cycleID, trigger, token, startedAt, "empty fleet")
		return
	}

	logger.Info("dispatch cycle started", "members", len(members), "payload", hex.EncodeToString(payload))
	e.hub.Publish(events.CycleStarted, map[string]any{
		"cycle_id": cycleID,
		"trigger":  trigger,
		"status":   token,
		"members":  len(members),
	})

	outcomes := e.fanOut(ctx, members, payload)

	cycle := &Cycle{
		ID:         cycleID,
		Trigger:    string(trigger),
		Token:      token,
		Members:    len(members),
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		if o.Result == ResultOK {
			cycle.Succeeded++
		} else {
			cycle.Failed++
		}
	}

	logger.Info("dispatch cycle finished",
		"members", cycle.Members,
		"succeeded", cycle.Succeeded,
		"failed", cycle.Failed,
		"duration_ms", cycle.FinishedAt.Sub(cycle.StartedAt).Milliseconds(),
	)
	e.record(ctx, cycle)
	e.hub.Publish(events.CycleFinished, map[string]any{
		"cycle_id":  cycleID,
		"succeeded": cycle.Succeeded,
		"failed":    cycle.Failed,
	})
}

// fanOut issues one enqueue per member through a bounded worker pool and
// collects outcomes in completion order. One member's failure or timeout has
// no effect on any other member's attempt.
func (e *Engine) fanOut(ctx context.Context, members []string, payload []byte) []Outcome {
	workers := e.cfg.ConcurrencyCap
	if len(members) < workers {
		workers = len(members)
	}

	jobs := make(chan string)
	results := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for member := range jobs {
				results <- e.enqueueOne(ctx, member, payload)
			}
		}()
	}

	go func() {
		for _, m := range members {
			jobs <- m
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(members))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (e *Engine) enqueueOne(ctx context.Context, member string, payload []byte) Outcome {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.PerCallTimeout)
	defer cancel()

	start := time.Now()
	ackID, err := e.channel.Enqueue(cctx, member, payload)
	elapsed := time.Since(start)

	if err != nil {
		result := ResultError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			result = ResultTimeout
		}
		log.WithMember(member).Error("downlink enqueue failed",
			"result", result, "error", err, "duration_ms", elapsed.Milliseconds())
		return Outcome{Member: member, Result: result, Error: err.Error(), Duration: elapsed}
	}

	log.WithMember(member).Info("downlink enqueued", "ack_id", ackID, "duration_ms", elapsed.Milliseconds())
	return Outcome{Member: member, Result: ResultOK, AckID: ackID, Duration: elapsed}
}

// skip records a cycle that was aborted whole before any enqueue. The next
// status token or window expiry retries naturally.
func (e *Engine) skip(ctx context.Context, cycleID string, trigger debounce.Trigger, token status.Token, startedAt time.Time, reason string) {
	e.record(ctx, &Cycle{
		ID:         cycleID,
		Trigger:    string(trigger),
		Token:      token,
		Skipped:    true,
		Reason:     reason,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	})
	e.hub.Publish(events.CycleSkipped, map[string]any{
		"cycle_id": cycleID,
		"trigger":  trigger,
		"status":   token,
		"reason":   reason,
	})
}

func (e *Engine) record(ctx context.Context, cycle *Cycle) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, cycle); err != nil {
		log.WithCycle(cycle.ID).Error("failed to journal cycle", "error", err)
	}
}

// Close stops accepting new cycles immediately and waits up to grace for
// in-flight ones, then abandons them. Shutdown is lossy on purpose: a cycle
// cut off here is not retried.
func (e *Engine) Close(grace time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("dispatch engine drained")
	case <-time.After(grace):
		e.logger.Warn("shutdown grace elapsed, abandoning in-flight cycles", "grace", grace)
	}
}
