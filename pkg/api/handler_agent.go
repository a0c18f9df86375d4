package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

// postMessageHandler handles POST /agent/:name. The user message is appended
// to the agent's log and the response is an SSE stream of the full
// chronological log: existing events first, then live events, ending with
// the terminal event of the turn the message triggered.
//
// An optional idle_timeout query parameter (milliseconds) changes the close
// condition: the stream stays open until the agent has been idle for that
// long, so a client can ride out several debounced or interrupted turns.
func (s *Server) postMessageHandler(c *echo.Context) error {
	name := c.Param("name")

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tag != "" && req.Tag != string(event.TagUserMessage) {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported event tag: "+req.Tag)
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	var idleTimeout time.Duration
	if v := c.QueryParam("idle_timeout"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid idle_timeout: must be positive milliseconds")
		}
		idleTimeout = time.Duration(ms) * time.Millisecond
	}

	a, err := s.registry.GetOrCreate(c.Request().Context(), name)
	if err != nil {
		return mapError(err)
	}

	// Subscribe before submitting so nothing between the append and the
	// stream start can be missed. The history snapshot is taken before the
	// submit so the message is attributable: the first matching UserMessage
	// past the snapshot tail is ours.
	sub := a.Subscribe()
	defer sub.Close()

	history := a.Log()
	baseline := -1
	if len(history) > 0 {
		if n, err := event.ParseCounter(history[len(history)-1].ID); err == nil {
			baseline = n
		}
	}

	a.AddEvent(event.NewUserMessage(req.Content, req.Images))

	w, flush := sseResponse(c)
	ctx := c.Request().Context()

	for _, ev := range history {
		if err := writeSSE(w, flush, ev); err != nil {
			return nil
		}
		if ev.Tag == event.TagSessionEnded {
			return nil
		}
	}

	var idleCh <-chan time.Time
	var idleTimer *time.Timer
	if idleTimeout > 0 {
		idleTimer = time.NewTimer(idleTimeout)
		defer idleTimer.Stop()
		idleCh = idleTimer.C
	}

	lastCounter := baseline
	msgCounter := -1
	turnNumber := 0

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-idleCh:
			if a.IsIdle() {
				return nil
			}
			idleTimer.Reset(idleTimeout)

		case ev, ok := <-sub.C():
			if !ok {
				if err := sub.Err(); err != nil {
					s.log.Warn("Message stream subscription closed", "agent", name, "error", err)
				}
				return nil
			}

			n, err := event.ParseCounter(ev.ID)
			if err != nil || n <= lastCounter {
				continue
			}
			lastCounter = n

			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(idleTimeout)
			}

			if err := writeSSE(w, flush, ev); err != nil {
				return nil
			}

			switch ev.Tag {
			case event.TagSessionEnded:
				return nil
			case event.TagUserMessage:
				if msgCounter < 0 && ev.Content == req.Content {
					msgCounter = n
				}
			case event.TagAgentTurnStarted:
				if msgCounter >= 0 && turnNumber == 0 && n > msgCounter {
					turnNumber = ev.TurnNumber
				}
			case event.TagAgentTurnCompleted, event.TagAgentTurnFailed, event.TagAgentTurnInterrupted:
				if idleTimeout == 0 && turnNumber != 0 && ev.TurnNumber == turnNumber {
					return nil
				}
			}
		}
	}
}

// streamEventsHandler handles GET /agent/:name/events: the full history
// followed by the live stream, as SSE, until the session ends or the client
// disconnects.
func (s *Server) streamEventsHandler(c *echo.Context) error {
	name := c.Param("name")

	a, err := s.registry.GetOrCreate(c.Request().Context(), name)
	if err != nil {
		return mapError(err)
	}

	sub := a.Subscribe()
	defer sub.Close()

	w, flush := sseResponse(c)
	ctx := c.Request().Context()

	// History first, then live events deduplicated by counter. Counters are
	// strictly increasing across the whole log, so every event between the
	// snapshot and the subscription shows up exactly once.
	lastCounter := -1
	for _, ev := range a.Log() {
		if err := writeSSE(w, flush, ev); err != nil {
			return nil
		}
		if n, err := event.ParseCounter(ev.ID); err == nil {
			lastCounter = n
		}
		if ev.Tag == event.TagSessionEnded {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if n, err := event.ParseCounter(ev.ID); err == nil && n <= lastCounter {
				continue
			}
			if err := writeSSE(w, flush, ev); err != nil {
				return nil
			}
			if ev.Tag == event.TagSessionEnded {
				return nil
			}
		}
	}
}

// stateHandler handles GET /agent/:name/state for a live agent.
func (s *Server) stateHandler(c *echo.Context) error {
	name := c.Param("name")

	a, err := s.registry.Get(name)
	if err != nil {
		return mapError(err)
	}

	st := a.State()
	return c.JSON(http.StatusOK, &StateResponse{
		AgentName:         name,
		NextEventNumber:   st.NextEventNumber,
		CurrentTurnNumber: st.CurrentTurnNumber,
		IsTurnInProgress:  st.TurnInProgress(),
		MessageCount:      len(st.Messages),
		HasLlmConfig:      st.LLMConfig != nil,
	})
}

// interruptHandler handles POST /agent/:name/interrupt: cancels the open
// turn, if any. Idempotent.
func (s *Server) interruptHandler(c *echo.Context) error {
	name := c.Param("name")

	a, err := s.registry.Get(name)
	if err != nil {
		return mapError(err)
	}

	a.InterruptTurn()
	return c.JSON(http.StatusOK, &AckResponse{
		AgentName: name,
		Message:   "turn interrupt requested",
	})
}

// endSessionHandler handles POST /agent/:name/end: graceful session
// termination and removal from the registry.
func (s *Server) endSessionHandler(c *echo.Context) error {
	name := c.Param("name")

	if err := s.registry.Shutdown(c.Request().Context(), name); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &AckResponse{
		AgentName: name,
		Message:   "session ended",
	})
}

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &AgentListResponse{Agents: s.registry.List()})
}

// listStatesHandler handles GET /api/v1/agents/states: one reduced-state
// snapshot per live agent.
func (s *Server) listStatesHandler(c *echo.Context) error {
	states := s.registry.States()
	out := make(map[string]StateResponse, len(states))
	for name, st := range states {
		out[name] = StateResponse{
			AgentName:         name,
			NextEventNumber:   st.NextEventNumber,
			CurrentTurnNumber: st.CurrentTurnNumber,
			IsTurnInProgress:  st.TurnInProgress(),
			MessageCount:      len(st.Messages),
			HasLlmConfig:      st.LLMConfig != nil,
		}
	}
	return c.JSON(http.StatusOK, &AgentStatesResponse{Agents: out})
}

// sseResponse switches the response into SSE streaming mode.
func sseResponse(c *echo.Context) (http.ResponseWriter, *http.ResponseController) {
	w := c.Response()
	h := w.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	return w, http.NewResponseController(w)
}

func writeSSE(w http.ResponseWriter, flush *http.ResponseController, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return flush.Flush()
}
