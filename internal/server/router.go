package server

import (
	"context"
	"errors"

	"github.com/goevery/crawlcast/internal/handler"
	"github.com/goevery/crawlcast/internal/ierr"
	"github.com/goevery/crawlcast/internal/registry"
	"github.com/goevery/crawlcast/internal/rpc"
	"go.uber.org/zap"
)

type Router struct {
	logger *zap.Logger

	heartbeatHandler handler.HeartbeatHandlerInterface
	latestHandler    handler.LatestHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	latestHandler handler.LatestHandlerInterface,
) *Router {
	return &Router{
		logger,
		heartbeatHandler,
		latestHandler,
	}
}

func (r *Router) RouteRequest(ctx context.Context, request rpc.Request) *rpc.Response {
	logger := r.logger
	if connection, ok := registry.ConnectionFromContext(ctx); ok {
		logger = logger.With(zap.String("connectionId", connection.Id()))
	}

	logger.Debug("request received",
		zap.Int("id", request.Id),
		zap.String("method", request.Method))

	result, err := r.Handle(ctx, request)
	if err == nil && !request.ReplyExpected() {
		return nil
	}

	if err == nil {
		var response rpc.Response
		response, err = request.Reply(result)
		if err == nil {
			return &response
		}
	}

	logger.Debug("request failed",
		zap.String("method", request.Method),
		zap.String("code", string(ierr.CodeOf(err))),
		zap.Error(err))

	if !request.ReplyExpected() {
		return nil
	}

	response := request.ReplyWithError(r.mapError(logger, err))

	return &response
}

func (r *Router) Handle(ctx context.Context, request rpc.Request) (any, error) {
	switch request.Method {
	case "":
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("method is required"))
	case "heartbeat":
		return r.heartbeatHandler.Handle(), nil
	case "latest":
		return r.latestHandler.Handle(ctx)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

func (r *Router) mapError(logger *zap.Logger, err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	logger.Error("error in rpc handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}
