// Package protosched periodically re-triggers a Protocol, the way a
// BLE host might re-run a GATT walk or observation protocol on a
// fixed interval rather than only on an explicit user action. It is
// adapted from the teacher's internal/scheduler timer mechanism with
// the SQL-backed Task/Execution persistence dropped — the core
// engine's single-current-protocol model (spec.md §1: "no multiple
// simultaneously running protocols") means there is nothing here to
// persist across restarts beyond the in-memory task list itself.
package protosched

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dohiam/ble-protocol-runtime/internal/engine"
	"github.com/dohiam/ble-protocol-runtime/internal/events"
)

// Task is a named, periodically re-triggered protocol run.
type Task struct {
	Name     string
	Every    time.Duration
	Protocol *engine.Protocol
}

// Scheduler drives a Dispatcher's SetCurrentProtocol on a timer for
// each registered Task. It never runs two tasks concurrently: firing a
// task while the Dispatcher is already running a protocol is logged
// and skipped, since spec.md §1 forbids multiple simultaneously
// running protocols and the Scheduler must not override an in-flight
// one.
//
// Dispatcher is not safe for concurrent use (spec.md §5: one
// cooperative, single-threaded host loop owns it). Timer firings
// happen on their own goroutine, so the recurring path never touches
// the Dispatcher directly: scheduleLocked's timer only enqueues onto
// Requests(), and the host loop's own goroutine drains that channel
// and calls Dispatch. TriggerNow calls Dispatch synchronously instead
// of enqueuing — it is for manual/test invocation from the same
// goroutine that owns the Dispatcher, not from arbitrary goroutines.
type Scheduler struct {
	dispatch *engine.Dispatcher
	bus      *events.Bus
	log      *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	running  bool
	requests chan Task
}

// New creates a Scheduler driving protocols on disp. A nil bus is
// accepted (no events are published); a nil logger uses slog.Default().
func New(disp *engine.Dispatcher, bus *events.Bus, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		dispatch: disp,
		bus:      bus,
		log:      log,
		timers:   make(map[string]*time.Timer),
		requests: make(chan Task, 8),
	}
}

// Requests returns the channel of timer-fired tasks awaiting dispatch.
// The goroutine that owns the Dispatcher must drain this channel and
// call Dispatch for each task it receives.
func (s *Scheduler) Requests() <-chan Task {
	return s.requests
}

// Start begins the recurring timers for every task in tasks.
func (s *Scheduler) Start(tasks []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	for _, t := range tasks {
		s.scheduleLocked(t)
	}
	s.log.Debug("protosched started", "tasks", len(tasks))
}

// Stop cancels all pending timers. Already-firing tasks are allowed to
// finish configuring their first production before the Scheduler
// stops rescheduling them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
}

// scheduleLocked arms a timer for t.Every from now, replacing any
// timer already pending for the same task name. Callers must hold s.mu.
func (s *Scheduler) scheduleLocked(t Task) {
	if existing, ok := s.timers[t.Name]; ok {
		existing.Stop()
	}
	s.timers[t.Name] = time.AfterFunc(t.Every, func() { s.fire(t) })
}

// fire is invoked on the timer goroutine when a task's interval
// elapses. It re-arms the timer for the next interval before
// enqueuing the task, so a slow or aborted dispatch does not also
// delay the following firing's schedule. It never touches the
// Dispatcher itself — only the goroutine draining Requests() may do
// that.
func (s *Scheduler) fire(t Task) {
	s.mu.Lock()
	// Only reschedule if the Scheduler is still started.
	if s.running {
		s.scheduleLocked(t)
	}
	s.mu.Unlock()

	select {
	case s.requests <- t:
	default:
		s.log.Warn("protosched: request queue full, dropping task firing", "task", t.Name)
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceProtoSched,
			Kind:      events.KindTaskComplete,
			Data:      map[string]any{"task_id": t.Name, "protocol": t.Protocol.Name, "ok": false, "dropped": true},
		})
	}
}

// Dispatch starts t.Protocol on the Dispatcher, unless one is already
// running. Callers must be on the same goroutine that owns the
// Dispatcher (spec.md §5's single cooperative host loop) — typically
// the host loop itself, draining Requests(), or a test/manual caller
// via TriggerNow.
func (s *Scheduler) Dispatch(t Task) {
	start := time.Now()
	s.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceProtoSched,
		Kind:      events.KindTaskFired,
		Data:      map[string]any{"task_id": t.Name, "protocol": t.Protocol.Name},
	})

	if s.dispatch.IsRunning() {
		s.log.Warn("protosched: skipping task, a protocol is already running",
			"task", t.Name, "running_protocol", s.dispatch.Get().Name)
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceProtoSched,
			Kind:      events.KindTaskComplete,
			Data: map[string]any{
				"task_id": t.Name, "protocol": t.Protocol.Name,
				"ok": false, "duration_ms": time.Since(start).Milliseconds(),
			},
		})
		return
	}

	s.log.Info("protosched: starting protocol", "task", t.Name, "protocol", t.Protocol.Name)
	s.dispatch.SetCurrentProtocol(t.Protocol)

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceProtoSched,
		Kind:      events.KindTaskComplete,
		Data: map[string]any{
			"task_id": t.Name, "protocol": t.Protocol.Name,
			"ok": true, "duration_ms": time.Since(start).Milliseconds(),
		},
	})
}

// TriggerNow immediately dispatches task t, bypassing its schedule,
// without disturbing its existing timer — the "bypass schedule"
// operation the teacher's Scheduler.TriggerTask exposed for
// manual/test invocation. Unlike a timer firing, this calls Dispatch
// synchronously: it is meant to be called from the goroutine that
// owns the Dispatcher.
func (s *Scheduler) TriggerNow(t Task) {
	s.Dispatch(t)
}
