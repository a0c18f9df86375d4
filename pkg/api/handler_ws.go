package api

import (
	"context"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	echo "github.com/labstack/echo/v5"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

// wsHandler handles GET /agent/:name/ws: a bidirectional WebSocket carrying
// the same streams as the SSE endpoints. Outbound frames are JSON events
// (history first, then live); inbound frames are PostMessageRequest bodies
// appended as user messages.
func (s *Server) wsHandler(c *echo.Context) error {
	name := c.Param("name")

	a, err := s.registry.GetOrCreate(c.Request().Context(), name)
	if err != nil {
		return mapError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Origin checks are delegated to the deployment's ingress.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sub := a.Subscribe()
	defer sub.Close()

	// Inbound messages. A read error means the client went away.
	go func() {
		defer cancel()
		for {
			var req PostMessageRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			if req.Tag != "" && req.Tag != string(event.TagUserMessage) {
				continue
			}
			if strings.TrimSpace(req.Content) == "" {
				continue
			}
			a.AddEvent(event.NewUserMessage(req.Content, req.Images))
		}
	}()

	lastCounter := -1
	for _, ev := range a.Log() {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			return nil
		}
		if n, err := event.ParseCounter(ev.ID); err == nil {
			lastCounter = n
		}
		if ev.Tag == event.TagSessionEnded {
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return nil
			}
			if n, err := event.ParseCounter(ev.ID); err == nil && n <= lastCounter {
				continue
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return nil
			}
			if ev.Tag == event.TagSessionEnded {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return nil
			}
		}
	}
}
