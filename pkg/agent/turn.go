package agent

import (
	"context"
	"errors"
	"time"

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/state"
)

// runTriggerLoop consumes triggering events and manages the turn lifecycle.
// Bursts are debounced: each trigger restarts the window, and only the last
// trigger of a burst starts a turn. An open turn is interrupted (reason
// user_new_message) before its successor starts.
func (a *Agent) runTriggerLoop(ctx context.Context) {
	defer close(a.triggerDone)

	timer := time.NewTimer(a.cfg.DebounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	var pending *event.Event

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-a.triggerCh:
			pending = &ev
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(a.cfg.DebounceWindow)

		case <-timer.C:
			if pending == nil {
				continue
			}
			trigger := *pending
			pending = nil
			a.startTurn(ctx, trigger)
		}
	}
}

// startTurn interrupts any open turn, emits AgentTurnStarted, snapshots the
// reduced state (which by then includes the trigger and the turn start), and
// spawns the turn worker.
func (a *Agent) startTurn(ctx context.Context, trigger event.Event) {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if h := a.takeTurn(); h != nil {
		h.cancel()
		<-h.done
		a.AddEventWait(ctx, event.NewTurnInterrupted(h.number, event.ReasonUserNewMessage, trigger.ID))
	}

	a.turnMu.Lock()
	a.turnSeq++
	number := a.turnSeq
	a.turnMu.Unlock()

	a.AddEventWait(ctx, event.NewTurnStarted(number))
	if ctx.Err() != nil {
		// Session is ending; the TurnStarted may still land in the log, but
		// no executor is spawned for it.
		return
	}

	snapshot := a.State()

	// The turn context is deliberately not derived from the trigger loop's:
	// EndSession interrupts the open turn explicitly so it can emit the
	// session_ended interrupt after the executor has stopped.
	var turnCtx context.Context
	var cancel context.CancelFunc
	if a.cfg.TurnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(context.Background(), a.cfg.TurnTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(context.Background())
	}

	h := &turnHandle{
		number:    number,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.turnMu.Lock()
	a.turn = h
	a.turnMu.Unlock()

	a.log.Info("Turn started", "turn", number, "trigger_event", trigger.ID)
	go a.runTurn(turnCtx, h, snapshot)
}

// runTurn drives one TurnExecutor invocation, feeding its output back
// through the pipeline. When cancelled externally it emits nothing; the
// interrupter owns the AgentTurnInterrupted. On deadline expiry this worker
// owns the timeout interrupt.
func (a *Agent) runTurn(ctx context.Context, h *turnHandle, snapshot state.State) {
	defer close(h.done)
	defer h.cancel()

	events, errs := a.executor.Execute(ctx, snapshot)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					a.abortTurn(ctx, h)
					return
				}
				// An error may have been buffered just before the close.
				select {
				case err := <-errs:
					if err != nil {
						if a.concludeTurn(h, event.NewTurnFailed(h.number, err.Error())) {
							a.log.Warn("Turn failed", "turn", h.number, "error", err)
						}
						return
					}
				default:
				}
				if a.concludeTurn(h, event.NewTurnCompleted(h.number, time.Since(h.startedAt))) {
					a.log.Info("Turn completed", "turn", h.number, "duration", time.Since(h.startedAt))
				}
				return
			}
			if ctx.Err() == nil {
				a.AddEvent(ev)
			}

		case err := <-errs:
			if err == nil {
				// errs was closed without an error; keep draining events.
				errs = nil
				continue
			}
			if ctx.Err() != nil {
				a.abortTurn(ctx, h)
				return
			}
			if a.concludeTurn(h, event.NewTurnFailed(h.number, err.Error())) {
				a.log.Warn("Turn failed", "turn", h.number, "error", err)
			}
			return

		case <-ctx.Done():
			a.abortTurn(ctx, h)
			return
		}
	}
}

// abortTurn handles a cancelled turn context. Deadline expiry is owned here
// and produces a timeout interrupt; an external cancel produces nothing
// because the interrupter emits the AgentTurnInterrupted itself.
func (a *Agent) abortTurn(ctx context.Context, h *turnHandle) {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}
	if a.concludeTurn(h, event.NewTurnInterrupted(h.number, event.ReasonTimeout, "")) {
		a.log.Warn("Turn timed out", "turn", h.number, "timeout", a.cfg.TurnTimeout)
	}
}

// concludeTurn atomically emits the terminal event and clears the handle,
// but only if the turn is still registered. An interrupter that already
// claimed the handle owns the terminal event instead. Holding turnMu across
// the submit keeps a successor TurnStarted from overtaking the terminal
// event in the mailbox.
func (a *Agent) concludeTurn(h *turnHandle, terminal event.Event) bool {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if a.turn != h {
		return false
	}
	a.AddEvent(terminal)
	a.turn = nil
	return true
}
