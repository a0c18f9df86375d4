// Package agent implements the per-name actor at the core of the runtime.
//
// Each Agent owns one event log. A single processor goroutine drains the
// mailbox and, per event: assigns the id/timestamp/parent chain, folds the
// event into the reduced state, updates the partial-response accumulator,
// broadcasts to subscribers, and hands persisted variants to a background
// FIFO append worker. A separate trigger goroutine watches for triggering
// events, debounces bursts, and drives the turn lifecycle against the
// TurnExecutor port.
//
// External operations never mutate agent state directly: they enqueue to the
// mailbox (AddEvent), read atomically-swapped snapshots (State, Log), or
// coordinate with the turn registry (InterruptTurn, EndSession).
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/state"
	"github.com/agentchain-dev/agentchain/pkg/store"
)

// Defaults for Config zero values.
const (
	defaultDebounceWindow   = 100 * time.Millisecond
	defaultSubscriberBuffer = 256
	defaultMailboxSize      = 1024
	persistDrainTimeout     = 5 * time.Second
)

// contextSuffix versions the persistence key. The context name is the agent
// name plus this suffix; bumping it abandons old logs without deleting them.
const contextSuffix = "-v1"

// ContextName returns the persistence key for an agent name.
func ContextName(agentName string) string { return agentName + contextSuffix }

// Config tunes a single agent's runtime behavior.
type Config struct {
	// DebounceWindow is how long the trigger loop waits for further
	// triggering events before starting a turn. A burst within the window
	// results in exactly one turn, on the last event of the burst.
	DebounceWindow time.Duration

	// TurnTimeout bounds a single turn. Zero means unbounded. On expiry the
	// turn is cancelled and an AgentTurnInterrupted{reason: timeout} is
	// emitted.
	TurnTimeout time.Duration

	// SubscriberBuffer is the per-subscription buffer size (see Hub).
	SubscriberBuffer int

	// MailboxSize is the submission queue depth.
	MailboxSize int
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaultDebounceWindow
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	return c
}

// submission is one mailbox entry. done, when non-nil, is closed by the
// processor after the event has been reduced, broadcast, and queued for
// persistence.
type submission struct {
	ev   event.Event
	done chan struct{}
}

// turnHandle tracks the single open turn.
type turnHandle struct {
	number    int
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Agent is a named, long-lived actor owning one event log.
type Agent struct {
	name        string
	contextName string
	cfg         Config
	store       store.EventStore
	executor    TurnExecutor
	log         *slog.Logger
	hub         *Hub

	// mailMu guards ended and the right to send on mailbox, so EndSession
	// can close the channel without racing producers.
	mailMu  sync.RWMutex
	ended   bool
	mailbox chan submission

	// mu guards the snapshot state below. Only the processor writes it.
	mu             sync.RWMutex
	events         []event.Event // full in-memory log, deltas included
	st             state.State
	lastEventID    string
	nextCounter    int             // id counter; may run ahead of st.NextEventNumber after a resume
	partial        strings.Builder // deltas of the open turn
	appendFailures int

	// turnMu guards the open-turn handle and the turn counter.
	turnMu  sync.Mutex
	turn    *turnHandle
	turnSeq int

	// lifecycleMu serializes whole turn transitions (start, interrupt, end):
	// an interrupter holds it from claiming the handle until its
	// AgentTurnInterrupted is in the mailbox, so a debounce-fired TurnStarted
	// can never overtake the interrupt. The turn worker never takes it.
	lifecycleMu sync.Mutex

	// triggerCh carries triggering events from the processor to the trigger
	// loop. Oldest entries are shed on overflow; only the last trigger of a
	// burst matters.
	triggerCh     chan event.Event
	triggerCancel context.CancelFunc
	triggerDone   chan struct{}

	persistCh     chan event.Event
	persistDone   chan struct{}
	processorDone chan struct{}

	endOnce sync.Once
}

// New loads and replays the agent's persisted log, then starts its workers.
// A load or replay failure is fatal for creation: the error is returned once,
// before any events are delivered. The caller (normally the Registry) is
// expected to append a SessionStarted after New returns.
func New(ctx context.Context, name string, st store.EventStore, exec TurnExecutor, cfg Config, logger *slog.Logger) (*Agent, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		name:          name,
		contextName:   ContextName(name),
		cfg:           cfg,
		store:         st,
		executor:      exec,
		log:           logger.With("agent", name),
		hub:           NewHub(cfg.SubscriberBuffer),
		mailbox:       make(chan submission, cfg.MailboxSize),
		triggerCh:     make(chan event.Event, 64),
		triggerDone:   make(chan struct{}),
		persistCh:     make(chan event.Event, cfg.MailboxSize),
		persistDone:   make(chan struct{}),
		processorDone: make(chan struct{}),
	}

	existing, err := st.Load(ctx, a.contextName)
	if err != nil {
		return nil, err
	}
	reduced, err := state.Reduce(state.State{}, existing)
	if err != nil {
		return nil, err
	}
	a.events = existing
	a.st = reduced
	a.turnSeq = reduced.CurrentTurnNumber
	if len(existing) > 0 {
		a.lastEventID = existing[len(existing)-1].ID
		// Deltas consumed counters but were never persisted, so the reduced
		// event count can lag the persisted tail. Ids must stay unique, so
		// the counter resumes past the tail, not at the reduced count.
		n, err := event.ParseCounter(a.lastEventID)
		if err != nil {
			return nil, err
		}
		a.nextCounter = n + 1
	}

	triggerCtx, cancel := context.WithCancel(context.Background())
	a.triggerCancel = cancel

	go a.runProcessor()
	go a.runPersister()
	go a.runTriggerLoop(triggerCtx)

	a.log.Info("Agent created", "context", a.contextName, "replayed_events", len(existing))
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Context returns the agent's persistence key.
func (a *Agent) Context() string { return a.contextName }

// AddEvent submits an event for processing and returns immediately. The
// caller sets only the tag, payload and triggersAgentTurn flag; the processor
// assigns id, timestamp, agent name and parent in submission order. Events
// submitted after the session ended are discarded.
func (a *Agent) AddEvent(ev event.Event) {
	a.submit(submission{ev: ev})
}

// AddEventWait submits an event and blocks until the processor has reduced
// and broadcast it (or ctx is done). Used where a caller needs the event to
// be observable before proceeding, e.g. session bookends.
func (a *Agent) AddEventWait(ctx context.Context, ev event.Event) {
	done := make(chan struct{})
	if !a.submit(submission{ev: ev, done: done}) {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (a *Agent) submit(sub submission) bool {
	a.mailMu.RLock()
	defer a.mailMu.RUnlock()
	if a.ended {
		a.log.Debug("Event discarded after session end", "tag", string(sub.ev.Tag))
		return false
	}
	a.mailbox <- sub
	return true
}

// Subscribe returns a live tap on the event stream. When Subscribe returns,
// every event whose processing begins afterwards is delivered; events already
// processed are not replayed (use Log for history).
func (a *Agent) Subscribe() *Subscription {
	return a.hub.Subscribe()
}

// Log returns a snapshot of all events processed so far, in order, including
// in-memory TextDelta entries.
func (a *Agent) Log() []event.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]event.Event(nil), a.events...)
}

// State returns the current reduced-state snapshot.
func (a *Agent) State() state.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st
}

// AppendFailures reports how many background store appends have failed.
func (a *Agent) AppendFailures() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appendFailures
}

// IsIdle reports whether no turn is open.
func (a *Agent) IsIdle() bool {
	a.turnMu.Lock()
	open := a.turn != nil
	a.turnMu.Unlock()
	return !open && !a.State().TurnInProgress()
}

// InterruptTurn cancels the open turn, if any, and emits an
// AgentTurnInterrupted with reason user_cancel. The partial response is
// filled from the delta accumulator by the processor. No-op when idle.
func (a *Agent) InterruptTurn() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	h := a.takeTurn()
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
	a.AddEvent(event.NewTurnInterrupted(h.number, event.ReasonUserCancel, ""))
}

// EndSession gracefully terminates the agent: the trigger loop stops, an open
// turn is interrupted with reason session_ended, a SessionEnded is appended,
// pending persistence is flushed (bounded), and all subscriptions complete
// after delivering the SessionEnded. Idempotent.
func (a *Agent) EndSession(ctx context.Context) {
	a.endOnce.Do(func() {
		a.log.Info("Ending session")

		a.triggerCancel()
		<-a.triggerDone

		a.lifecycleMu.Lock()
		if h := a.takeTurn(); h != nil {
			h.cancel()
			<-h.done
			a.AddEventWait(ctx, event.NewTurnInterrupted(h.number, event.ReasonSessionEnded, ""))
		}
		a.AddEventWait(ctx, event.NewSessionEnded())
		a.lifecycleMu.Unlock()

		a.mailMu.Lock()
		a.ended = true
		close(a.mailbox)
		a.mailMu.Unlock()
		<-a.processorDone

		select {
		case <-a.persistDone:
		case <-time.After(persistDrainTimeout):
			a.log.Warn("Timed out waiting for pending appends to flush")
		}

		a.hub.Close(nil)
		a.log.Info("Session ended")
	})
}

// takeTurn atomically claims the open turn handle, leaving none registered.
func (a *Agent) takeTurn() *turnHandle {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	h := a.turn
	a.turn = nil
	return h
}

// runProcessor is the single writer of agent state. Steps per event: assign
// identity and chain, reduce, update the partial accumulator, broadcast, then
// queue for persistence. State is updated before the broadcast so a
// subscriber that sees event n observes State() consistent with events 0..n.
func (a *Agent) runProcessor() {
	defer close(a.processorDone)
	defer close(a.persistCh)

	for sub := range a.mailbox {
		ev := sub.ev

		a.mu.Lock()
		ev.ID = event.FormatID(a.contextName, a.nextCounter)
		a.nextCounter++
		ev.Timestamp = time.Now().UTC()
		ev.AgentName = a.name
		ev.ParentEventID = a.lastEventID // empty for the first event ever

		switch ev.Tag {
		case event.TagAgentTurnStarted:
			a.partial.Reset()
		case event.TagTextDelta:
			a.partial.WriteString(ev.Delta)
		case event.TagAgentTurnInterrupted:
			if ev.PartialResponse == "" {
				ev.PartialResponse = a.partial.String()
			}
			a.partial.Reset()
		}

		next, err := state.Reduce(a.st, []event.Event{ev})
		if err != nil {
			a.mu.Unlock()
			if sub.done != nil {
				close(sub.done)
			}
			a.fail(err)
			return
		}

		a.st = next
		a.lastEventID = ev.ID
		a.events = append(a.events, ev)
		a.mu.Unlock()

		a.hub.Publish(ev)

		if ev.TriggersAgentTurn {
			a.offerTrigger(ev)
		}
		if ev.Persisted() {
			a.persistCh <- ev
		}

		if sub.done != nil {
			close(sub.done)
		}
	}
}

// offerTrigger hands a triggering event to the trigger loop without ever
// blocking the processor. On overflow the oldest pending trigger is shed;
// debouncing only acts on the last trigger of a burst anyway.
func (a *Agent) offerTrigger(ev event.Event) {
	for {
		select {
		case a.triggerCh <- ev:
			return
		default:
		}
		select {
		case <-a.triggerCh:
		default:
		}
	}
}

// runPersister drains persistCh in FIFO order, one append per event, so
// overlapping appends can never reorder relative to submission. Failures are
// logged and counted, never propagated: the in-memory log stays authoritative
// for subscribers.
func (a *Agent) runPersister() {
	defer close(a.persistDone)

	for ev := range a.persistCh {
		if err := a.store.Append(context.Background(), a.contextName, []event.Event{ev}); err != nil {
			a.log.Error("Failed to persist event", "event_id", ev.ID, "tag", string(ev.Tag), "error", err)
			a.mu.Lock()
			a.appendFailures++
			a.mu.Unlock()
		}
	}
}

// fail handles a fatal processor error (reducer bug). The agent stops
// processing, subscriptions are closed with the error, and any queued
// submissions are discarded.
func (a *Agent) fail(err error) {
	a.log.Error("Agent processor failed", "error", err)

	a.triggerCancel()

	// The processor is no longer consuming, so a producer can be blocked
	// mid-send holding the read lock. Keep draining while the closer waits
	// for the write lock, then the drain loop ends at the close.
	go func() {
		a.mailMu.Lock()
		a.ended = true
		close(a.mailbox)
		a.mailMu.Unlock()
	}()

	for sub := range a.mailbox {
		if sub.done != nil {
			close(sub.done)
		}
	}

	a.hub.Close(err)
}
