package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goevery/crawlcast/internal/metrics"
	"github.com/goevery/crawlcast/internal/registry"
	"github.com/goevery/crawlcast/internal/source"
	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BroadcastMethod is the notification method clients receive payloads on.
const BroadcastMethod = "broadcast"

type State int32

const (
	StateIdle State = iota
	StateFetching
	StateBroadcasting
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "Fetching"
	case StateBroadcasting:
		return "Broadcasting"
	default:
		return "Idle"
	}
}

type Options struct {
	Period       time.Duration
	FetchTimeout time.Duration
	SendTimeout  time.Duration
	// FanoutLimit caps concurrent sends within a tick. Zero means unlimited.
	FanoutLimit int
}

type TickReport struct {
	Seq       uint64
	Delivered int
	Failed    []*SendError
	Skipped   bool
	// Err is set when the tick was skipped.
	Err *source.FetchError
}

// Scheduler fetches a payload every period and delivers it to every registered
// connection. Connections that fail delivery are removed and closed.
type Scheduler struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	registry registry.Registry
	source   source.DataSource
	options  Options

	// tickMu serializes ticks; seq is only touched under it.
	tickMu sync.Mutex
	seq    uint64

	state  atomic.Int32
	latest atomic.Pointer[Message]
}

func NewScheduler(
	logger *zap.Logger,
	clock clockwork.Clock,
	registry registry.Registry,
	source source.DataSource,
	options Options,
) *Scheduler {
	return &Scheduler{
		logger:   logger,
		clock:    clock,
		registry: registry,
		source:   source,
		options:  options,
	}
}

// Run triggers a tick every period until ctx is cancelled. A tick in flight when
// ctx is cancelled runs to completion. A tick that outlasts the period delays the
// next one instead of overlapping it.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.options.Period <= 0 {
		return fmt.Errorf("tick period must be positive, got %s", s.options.Period)
	}

	ticker := s.clock.NewTicker(s.options.Period)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("period", s.options.Period))

	tickCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")

			return nil
		case <-ticker.Chan():
			if ctx.Err() != nil {
				continue
			}

			s.RunTick(tickCtx)
		}
	}
}

// RunTick performs one fetch and broadcast cycle. Concurrent callers are served
// one at a time.
func (s *Scheduler) RunTick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := s.clock.Now()
	defer func() {
		s.state.Store(int32(StateIdle))
		metrics.TickDuration.Observe(s.clock.Since(start).Seconds())
	}()

	s.state.Store(int32(StateFetching))

	payload, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("fetch failed, skipping tick", zap.Error(err))
		metrics.TicksTotal.WithLabelValues("skipped").Inc()

		return TickReport{
			Skipped: true,
			Err:     err,
		}
	}

	s.seq++
	message := Message{
		Id:         gonanoid.Must(),
		Seq:        s.seq,
		CreateTime: s.clock.Now(),
		Payload:    payload,
	}
	s.latest.Store(&message)

	s.state.Store(int32(StateBroadcasting))

	connections := s.registry.Snapshot()
	failed := s.deliver(ctx, message, connections)

	metrics.TicksTotal.WithLabelValues("broadcast").Inc()

	s.logger.Debug("tick broadcast",
		zap.Uint64("seq", message.Seq),
		zap.Int("connections", len(connections)),
		zap.Int("failed", len(failed)))

	return TickReport{
		Seq:       message.Seq,
		Delivered: len(connections) - len(failed),
		Failed:    failed,
	}
}

func (s *Scheduler) fetch(ctx context.Context) (string, *source.FetchError) {
	fetchCtx, cancel := withTimeout(ctx, s.options.FetchTimeout)
	defer cancel()

	payload, err := s.source.Fetch(fetchCtx)
	if err != nil {
		var fetchErr *source.FetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = source.NewFetchError("unknown", err)
		}

		return "", fetchErr
	}

	return payload, nil
}

func (s *Scheduler) deliver(ctx context.Context, message Message, connections []registry.Connection) []*SendError {
	var mu sync.Mutex
	var failed []*SendError

	var group errgroup.Group
	if s.options.FanoutLimit > 0 {
		group.SetLimit(s.options.FanoutLimit)
	}

	for _, connection := range connections {
		group.Go(func() error {
			err := s.send(ctx, connection, message)
			if err == nil {
				metrics.DeliveriesTotal.WithLabelValues("ok").Inc()

				return nil
			}

			metrics.DeliveriesTotal.WithLabelValues("failed").Inc()

			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()

			return nil
		})
	}

	_ = group.Wait()

	return failed
}

func (s *Scheduler) send(ctx context.Context, connection registry.Connection, message Message) *SendError {
	sendCtx, cancel := withTimeout(ctx, s.options.SendTimeout)
	defer cancel()

	err := connection.Send(sendCtx, BroadcastMethod, message)
	if err == nil {
		return nil
	}

	sendErr := &SendError{
		ConnectionId: connection.Id(),
		Cause:        err,
	}

	s.registry.Remove(connection)

	if closeErr := connection.Close(); closeErr != nil {
		s.logger.Debug("failed to close connection after send failure",
			zap.String("connectionId", connection.Id()),
			zap.Error(closeErr))
	}

	s.logger.Warn("delivery failed, connection removed",
		zap.String("connectionId", connection.Id()),
		zap.String("clientIp", connection.ClientIp()),
		zap.Error(err))

	return sendErr
}

// Latest returns the message produced by the last successful fetch.
func (s *Scheduler) Latest() (Message, bool) {
	message := s.latest.Load()
	if message == nil {
		return Message{}, false
	}

	return *message, true
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}
