package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"alert-relay/internal/logging"
	"alert-relay/internal/models"
	"alert-relay/internal/services"
)

// StatusProvider exposes the relay snapshot.
type StatusProvider interface {
	Status() services.Status
}

type Handler struct {
	logger *logging.Logger
	relay  StatusProvider
}

func NewHandler(logger *logging.Logger, relay StatusProvider) *Handler {
	return &Handler{logger: logger, relay: relay}
}

// Health reports 503 while the feed is in its error backoff.
func (h *Handler) Health(c *gin.Context) {
	st := h.relay.Status()
	if st.Presence == models.PresenceError {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": st.LastError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session": st.Session})
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.Status())
}
