package handler

import (
	"context"
	"errors"

	"github.com/goevery/crawlcast/internal/broadcaster"
	"github.com/goevery/crawlcast/internal/ierr"
)

type LatestProvider interface {
	Latest() (broadcaster.Message, bool)
}

type LatestHandlerInterface interface {
	Handle(ctx context.Context) (broadcaster.Message, error)
}

// LatestHandler lets a client catch up on the last payload without waiting for
// the next tick.
type LatestHandler struct {
	provider LatestProvider
}

func NewLatestHandler(provider LatestProvider) *LatestHandler {
	return &LatestHandler{
		provider,
	}
}

func (h *LatestHandler) Handle(ctx context.Context) (broadcaster.Message, error) {
	message, ok := h.provider.Latest()
	if !ok {
		return broadcaster.Message{},
			ierr.New(ierr.ErrorCodeNotFound, errors.New("no payload has been broadcast yet"))
	}

	return message, nil
}
