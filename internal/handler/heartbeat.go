package handler

import (
	"time"

	"github.com/jonboulle/clockwork"
)

type HeartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type HeartbeatHandlerInterface interface {
	Handle() HeartbeatResponse
}

type HeartbeatHandler struct {
	clock clockwork.Clock
}

func NewHeartbeatHandler(clock clockwork.Clock) *HeartbeatHandler {
	return &HeartbeatHandler{
		clock,
	}
}

func (h *HeartbeatHandler) Handle() HeartbeatResponse {
	return HeartbeatResponse{
		Timestamp: h.clock.Now(),
	}
}
