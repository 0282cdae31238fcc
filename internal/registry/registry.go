package registry

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/goevery/crawlcast/internal/metrics"
	"go.uber.org/zap"
)

// Connection is one live client channel. The transport owns it; the registry only
// keeps a reference for the scheduler to deliver to.
type Connection interface {
	Id() string
	ClientIp() string
	Send(ctx context.Context, method string, params any) error
	Close() error
}

// Registry tracks the currently open connections
type Registry interface {
	// Add registers a connection, doing nothing if it is already registered
	Add(connection Connection)

	// Remove deregisters a connection, doing nothing if it is absent
	Remove(connection Connection)

	// Snapshot returns a copy of the registered connections in registration order
	Snapshot() []Connection

	Len() int
}

type entry struct {
	connection Connection
	order      uint64
}

type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections map[string]entry
	nextOrder   uint64
}

func NewInMemoryRegistry(
	logger *zap.Logger,
) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:      logger,
		connections: make(map[string]entry),
	}
}

func (r *InMemoryRegistry) Add(connection Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connection.Id()]; ok {
		return
	}

	r.connections[connection.Id()] = entry{
		connection: connection,
		order:      r.nextOrder,
	}
	r.nextOrder++

	metrics.ConnectedClients.Inc()

	r.logger.Debug("connection registered",
		zap.String("connectionId", connection.Id()),
		zap.Int("connections", len(r.connections)))
}

func (r *InMemoryRegistry) Remove(connection Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connection.Id()]; !ok {
		return
	}

	delete(r.connections, connection.Id())

	metrics.ConnectedClients.Dec()

	r.logger.Debug("connection unregistered",
		zap.String("connectionId", connection.Id()),
		zap.Int("connections", len(r.connections)))
}

func (r *InMemoryRegistry) Snapshot() []Connection {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.connections))
	for _, e := range r.connections {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.order, b.order)
	})

	connections := make([]Connection, len(entries))
	for i, e := range entries {
		connections[i] = e.connection
	}

	return connections
}

func (r *InMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}
