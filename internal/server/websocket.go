package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/goevery/crawlcast/internal/metrics"
	"github.com/goevery/crawlcast/internal/registry"
	"github.com/goevery/crawlcast/internal/rpc"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type WebSocketServer struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	upgrader *websocket.Upgrader
	registry registry.Registry
	router   *Router

	// limiter throttles upgrade attempts; nil disables throttling.
	limiter *rate.Limiter
	options ConnectionOptions
}

func NewWebSocketServer(
	logger *zap.Logger,
	clock clockwork.Clock,
	upgrader *websocket.Upgrader,
	registry registry.Registry,
	router *Router,
	limiter *rate.Limiter,
	options ConnectionOptions,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		clock,
		upgrader,
		registry,
		router,
		limiter,
		options,
	}
}

// Register mounts the socket endpoint. /crawler-data is kept for clients of the
// earlier crawler service.
func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.handle).Methods("GET")
	router.HandleFunc("/crawler-data", s.handle).Methods("GET")
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.ConnectionsRejectedTotal.Inc()
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)

		return
	}

	connectionId, err := registry.GenerateConnectionId()
	if err != nil {
		s.logger.Error("failed to generate connection id", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))

		return
	}

	clientIp := clientIpFromRequest(r)
	connectionLogger := s.logger.With(
		zap.String("connectionId", connectionId),
		zap.String("clientIp", clientIp))

	connection := NewWebSocketConnection(connectionId, clientIp, conn, s.clock, s.options)
	connection.configureReader()

	go connection.writePump(connectionLogger)

	s.onOpen(connection)
	connectionLogger.Info("websocket connection established")

	defer func() {
		s.onClose(connection)
		connectionLogger.Info("websocket connection closed")
	}()

	s.readLoop(connectionLogger, connection)
}

func (s *WebSocketServer) onOpen(connection *WebSocketConnection) {
	s.registry.Add(connection)
}

func (s *WebSocketServer) onClose(connection *WebSocketConnection) {
	s.registry.Remove(connection)
	_ = connection.Close()
}

func (s *WebSocketServer) readLoop(logger *zap.Logger, connection *WebSocketConnection) {
	ctx := registry.WithConnection(context.Background(), connection)

	for {
		messageType, reader, err := connection.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", zap.Error(err))
			}

			return
		}

		connection.extendReadDeadline()

		if messageType != websocket.TextMessage {
			_ = connection.closeWith(websocket.CloseUnsupportedData, "text frames only")

			return
		}

		var request rpc.Request
		if err := decodeRequest(reader, &request); err != nil {
			logger.Debug("invalid message received", zap.Error(err))
			_ = connection.closeWith(websocket.CloseUnsupportedData, "invalid message")

			return
		}

		response := s.router.RouteRequest(ctx, request)
		if response == nil {
			continue
		}

		replyCtx, cancel := context.WithTimeout(ctx, s.options.WriteTimeout)
		err = connection.Reply(replyCtx, *response)
		cancel()

		if err != nil {
			logger.Debug("failed to queue reply", zap.Error(err))

			return
		}
	}
}

func clientIpFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func decodeRequest(reader io.Reader, request *rpc.Request) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(request); err != nil {
		return err
	}

	if decoder.More() {
		return errors.New("trailing data after request")
	}

	return nil
}
