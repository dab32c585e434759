package handlers

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/api/dto"
	"github.com/spec-kit/case-messaging/internal/auth"
	"github.com/spec-kit/case-messaging/internal/broker"
	"github.com/spec-kit/case-messaging/internal/config"
	"github.com/spec-kit/case-messaging/internal/messaging"
	"github.com/spec-kit/case-messaging/internal/observability"
	"github.com/spec-kit/case-messaging/pkg/util"
)

const streamKeepalive = 15 * time.Second

// StreamHandler serves the live thread stream over SSE. Each connection
// holds one ThreadView; the view's snapshot is pushed on every change and
// the view is torn down when the client goes away.
type StreamHandler struct {
	store   messaging.Store
	broker  broker.Broker
	cfg     config.MessagingConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewStreamHandler constructs handler.
func NewStreamHandler(store messaging.Store, b broker.Broker, cfg config.MessagingConfig, logger *zap.Logger, metrics *observability.Metrics) *StreamHandler {
	return &StreamHandler{store: store, broker: b, cfg: cfg, logger: logger, metrics: metrics}
}

// Stream GET /threads/:id/stream.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	threadID := c.Params("id")

	// Authorize before switching to the stream writer; errors inside the
	// writer can no longer produce a proper status code.
	if _, err := h.store.Thread(c.Context(), identity, threadID); err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		view := messaging.NewThreadView(messaging.ViewConfig{
			Store:     h.store,
			Broker:    h.broker,
			Caller:    identity,
			ThreadID:  threadID,
			Messaging: h.cfg,
			Logger:    h.logger,
			Metrics:   h.metrics,
		})
		defer view.Close()

		if err := writeSnapshot(w, view.Snapshot()); err != nil {
			return
		}

		keepalive := time.NewTicker(streamKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-view.Updates():
				if err := writeSnapshot(w, view.Snapshot()); err != nil {
					return
				}
				if view.ConnectionState() == messaging.StateClosed {
					return
				}
			case <-keepalive.C:
				// Comment line keeps intermediaries from timing the
				// connection out and detects a gone client.
				if _, err := w.WriteString(": ping\n\n"); err != nil {
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

func writeSnapshot(w *bufio.Writer, snap messaging.Snapshot) error {
	payload, err := json.Marshal(dto.NewStreamSnapshot(snap))
	if err != nil {
		return err
	}
	if _, err := w.WriteString("event: snapshot\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
