package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/p-blackswan/opsdesk/internal/event"
)

// streamEvents serves the live event feed as server-sent events. A consumer
// that falls behind is dropped by the hub and must reconnect; there is no
// replay.
func (s *Server) streamEvents(c *fiber.Ctx) error {
	if s.hub == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"stream_unavailable", "Service Unavailable",
			"No event hub is configured")
	}

	sub := event.NewChanSubscriber(s.config.EventBuffer)
	id := s.hub.Subscribe(sub)
	heartbeat := s.config.Heartbeat
	done := s.done
	logger := s.logger.With().Str("subscriber_id", id).Logger()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer s.hub.Unsubscribe(id)
		logger.Debug().Msg("event stream opened")

		fmt.Fprintf(w, ": stream online %s\n\n", time.Now().UTC().Format(time.RFC3339))
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					logger.Debug().Msg("event stream dropped by hub")
					return
				}
				if err := writeSSE(w, ev); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// writeSSE writes one event frame carrying the full {id, type, data, at}
// envelope, and flushes it.
func writeSSE(w *bufio.Writer, ev event.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, body); err != nil {
		return err
	}
	return w.Flush()
}
