package handlers

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.SSEHub

	mu      sync.Mutex
	clients map[uuid.UUID]*sse.SSEClient
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		log:     log.With("handler", "SSEHandler"),
		hub:     hub,
		clients: make(map[uuid.UUID]*sse.SSEClient),
	}
}

// SSEStream opens the event stream. Initial channels come from repeated
// session_id query params; more can be added via SSESubscribe using the
// client_id announced in the first event.
func (h *SSEHandler) SSEStream(c *gin.Context) {
	client := h.hub.NewSSEClient()
	for _, sessionID := range c.QueryArray("session_id") {
		h.hub.AddChannel(client, sessionID)
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		h.mu.Unlock()
		h.hub.CloseClient(client)
	}()

	// Announce the client id so the front-end can manage subscriptions.
	client.Outbound <- sse.SSEMessage{
		Channel: client.ID.String(),
		Event:   "Connected",
		Data:    map[string]any{"client_id": client.ID},
	}
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

type sseSubscribeRequest struct {
	ClientID  uuid.UUID `json:"client_id"`
	SessionID string    `json:"session_id"`
}

func (h *SSEHandler) SSESubscribe(c *gin.Context) {
	var req sseSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}
	h.mu.Lock()
	client, ok := h.clients[req.ClientID]
	h.mu.Unlock()
	if !ok {
		RespondError(c, http.StatusNotFound, "client_not_found", fmt.Errorf("unknown sse client %s", req.ClientID))
		return
	}
	h.hub.AddChannel(client, req.SessionID)
	RespondOK(c, gin.H{"subscribed": req.SessionID})
}

func (h *SSEHandler) SSEUnsubscribe(c *gin.Context) {
	var req sseSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}
	h.mu.Lock()
	client, ok := h.clients[req.ClientID]
	h.mu.Unlock()
	if !ok {
		RespondError(c, http.StatusNotFound, "client_not_found", fmt.Errorf("unknown sse client %s", req.ClientID))
		return
	}
	h.hub.RemoveChannel(client, req.SessionID)
	RespondOK(c, gin.H{"unsubscribed": req.SessionID})
}
