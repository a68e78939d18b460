package handler

import (
	"net/http"

	"gpuindex/internal/realtime"
	"gpuindex/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// ops route is already behind the API key
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams ops events over websocket
type EventsHandler struct {
	hub *realtime.Hub
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream upgrades the connection and subscribes it to the hub
// @Summary Live job and anomaly feed
// @Tags ops
// @Param provider query string false "Only events of this provider"
// @Router /api/v1/ops/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}

	client := h.hub.Register(ws, c.Query("provider"))
	logger.InfoCtx(c.Request.Context(), "ops subscriber %s connected (filter=%q)", client.ID, client.Filter)

	go h.hub.WritePump(client)
	h.hub.ReadPump(client)
}
