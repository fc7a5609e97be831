package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/campusguard/backend/internal/feed"
)

// FeedHandler upgrades subscribers onto the live campus alert feed.
type FeedHandler struct {
	hub *feed.Hub
}

func NewFeedHandler(hub *feed.Hub) *FeedHandler {
	return &FeedHandler{hub: hub}
}

// GET /api/feed
// Authentication runs in middleware; browser WebSocket clients pass the
// token as a query parameter.
func (h *FeedHandler) Subscribe(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request)
}
