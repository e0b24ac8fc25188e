package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventLists     = "lists"
	streamEventHeartbeat = "heartbeat"
	streamWriteDeadline  = 60 * time.Second
)

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// handleListsStream delivers the caller's lists as server-sent events: a snapshot on
// connect and after every change, plus periodic heartbeats.
func (h *httpHandler) handleListsStream(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	snapshots, cancel, err := h.lists.SubscribeUserLists(ctx, userID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	controller := http.NewResponseController(c.Writer)
	streamLogger := h.logger.With(zap.String("user_id", userID.String()))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, open := <-snapshots:
			if !open {
				return
			}
			if err := h.sendEvent(c.Writer, controller, streamEventLists, snapshot); err != nil {
				streamLogger.Debug("lists stream closed during send", zap.Error(err))
				return
			}
			streamLogger.Debug("lists snapshot sent", zap.Int("games", snapshot.TotalGames()))
		case tick := <-heartbeat.C:
			if err := h.sendEvent(c.Writer, controller, streamEventHeartbeat, heartbeatPayload{Timestamp: tick.UTC()}); err != nil {
				streamLogger.Debug("lists stream closed during heartbeat", zap.Error(err))
				return
			}
		}
	}
}

func (h *httpHandler) sendEvent(w http.ResponseWriter, controller *http.ResponseController, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	if err := controller.Flush(); err != nil {
		return err
	}
	if err := controller.SetWriteDeadline(time.Now().Add(streamWriteDeadline)); err != nil {
		h.logger.Debug("stream write deadline unsupported", zap.Error(err))
	}
	return nil
}
