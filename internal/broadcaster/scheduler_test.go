package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goevery/crawlcast/internal/registry"
	"github.com/goevery/crawlcast/internal/source"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context) (string, error) {
	args := m.Called(ctx)

	return args.String(0), args.Error(1)
}

type fakeConnection struct {
	id      string
	sendErr error
	onSend  func(ctx context.Context) error

	mu       sync.Mutex
	received []Message
	closed   bool
}

func newFakeConnection(id string) *fakeConnection {
	return &fakeConnection{id: id}
}

func (c *fakeConnection) Id() string { return c.id }

func (c *fakeConnection) ClientIp() string { return "127.0.0.1" }

func (c *fakeConnection) Send(ctx context.Context, method string, params any) error {
	if c.onSend != nil {
		if err := c.onSend(ctx); err != nil {
			return err
		}
	}

	if c.sendErr != nil {
		return c.sendErr
	}

	if method != BroadcastMethod {
		return fmt.Errorf("unexpected method %s", method)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.received = append(c.received, params.(Message))

	return nil
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *fakeConnection) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	payloads := make([]string, len(c.received))
	for i, m := range c.received {
		payloads[i] = m.Payload
	}

	return payloads
}

func (c *fakeConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func snapshotIds(r registry.Registry) []string {
	var ids []string
	for _, conn := range r.Snapshot() {
		ids = append(ids, conn.Id())
	}

	return ids
}

func newTestScheduler(dataSource source.DataSource, options Options) (*Scheduler, *registry.InMemoryRegistry) {
	logger := zap.NewNop()
	connections := registry.NewInMemoryRegistry(logger)

	if options.Period == 0 {
		options.Period = 10 * time.Second
	}

	scheduler := NewScheduler(logger, clockwork.NewRealClock(), connections, dataSource, options)

	return scheduler, connections
}

func TestScheduler_RunTick(t *testing.T) {
	t.Run("failed send removes only that connection", func(t *testing.T) {
		dataSource := &mockSource{}
		dataSource.On("Fetch", mock.Anything).Return("data-1", nil).Once()
		dataSource.On("Fetch", mock.Anything).Return("data-2", nil).Once()

		scheduler, connections := newTestScheduler(dataSource, Options{FanoutLimit: 2})

		a := newFakeConnection("A")
		b := newFakeConnection("B")
		c := newFakeConnection("C")
		c.sendErr = errors.New("broken pipe")

		connections.Add(a)
		connections.Add(b)
		connections.Add(c)

		report := scheduler.RunTick(context.Background())

		assert.False(t, report.Skipped)
		assert.Equal(t, uint64(1), report.Seq)
		assert.Equal(t, 2, report.Delivered)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, "C", report.Failed[0].ConnectionId)
		assert.ErrorContains(t, report.Failed[0], "broken pipe")
		assert.Equal(t, []string{"A", "B"}, snapshotIds(connections))
		assert.True(t, c.isClosed())

		report = scheduler.RunTick(context.Background())

		assert.Equal(t, 2, report.Delivered)
		assert.Empty(t, report.Failed)
		assert.Equal(t, []string{"data-1", "data-2"}, a.payloads())
		assert.Equal(t, []string{"data-1", "data-2"}, b.payloads())
		assert.Empty(t, c.payloads())
		assert.Equal(t, []string{"A", "B"}, snapshotIds(connections))
		assert.False(t, a.isClosed())
		dataSource.AssertExpectations(t)
	})

	t.Run("fetch failure skips the tick", func(t *testing.T) {
		dataSource := &mockSource{}
		dataSource.On("Fetch", mock.Anything).
			Return("", source.NewFetchError("http", errors.New("connection refused"))).Once()
		dataSource.On("Fetch", mock.Anything).Return("data-ok", nil).Once()

		scheduler, connections := newTestScheduler(dataSource, Options{})

		a := newFakeConnection("A")
		b := newFakeConnection("B")
		c := newFakeConnection("C")
		connections.Add(a)
		connections.Add(b)
		connections.Add(c)

		report := scheduler.RunTick(context.Background())

		assert.True(t, report.Skipped)
		require.NotNil(t, report.Err)
		assert.Equal(t, "http", report.Err.Source)
		assert.Zero(t, report.Delivered)
		assert.Equal(t, []string{"A", "B", "C"}, snapshotIds(connections))
		assert.Empty(t, a.payloads())

		_, ok := scheduler.Latest()
		assert.False(t, ok)

		report = scheduler.RunTick(context.Background())

		assert.False(t, report.Skipped)
		assert.Equal(t, uint64(1), report.Seq)
		for _, conn := range []*fakeConnection{a, b, c} {
			assert.Equal(t, []string{"data-ok"}, conn.payloads())
		}
		dataSource.AssertExpectations(t)
	})

	t.Run("plain fetch errors are wrapped", func(t *testing.T) {
		scheduler, _ := newTestScheduler(source.Func(func(ctx context.Context) (string, error) {
			return "", errors.New("boom")
		}), Options{})

		report := scheduler.RunTick(context.Background())

		require.NotNil(t, report.Err)
		assert.Equal(t, "unknown", report.Err.Source)
		assert.ErrorContains(t, report.Err, "boom")
	})

	t.Run("fetch gets a deadline", func(t *testing.T) {
		scheduler, _ := newTestScheduler(source.Func(func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", source.NewFetchError("http", ctx.Err())
		}), Options{FetchTimeout: 20 * time.Millisecond})

		report := scheduler.RunTick(context.Background())

		assert.True(t, report.Skipped)
		assert.ErrorIs(t, report.Err, context.DeadlineExceeded)
	})

	t.Run("slow connection is dropped after the send timeout", func(t *testing.T) {
		scheduler, connections := newTestScheduler(source.Func(func(ctx context.Context) (string, error) {
			return "data-1", nil
		}), Options{SendTimeout: 20 * time.Millisecond})

		fast := newFakeConnection("fast")
		slow := newFakeConnection("slow")
		slow.onSend = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}

		connections.Add(slow)
		connections.Add(fast)

		report := scheduler.RunTick(context.Background())

		assert.Equal(t, 1, report.Delivered)
		require.Len(t, report.Failed, 1)
		assert.ErrorIs(t, report.Failed[0], context.DeadlineExceeded)
		assert.Equal(t, []string{"data-1"}, fast.payloads())
		assert.Equal(t, []string{"fast"}, snapshotIds(connections))
	})

	t.Run("one failure among many", func(t *testing.T) {
		scheduler, connections := newTestScheduler(source.Func(func(ctx context.Context) (string, error) {
			return "data-1", nil
		}), Options{FanoutLimit: 4})

		const k = 20
		fakes := make([]*fakeConnection, k)
		for i := range k {
			fakes[i] = newFakeConnection(fmt.Sprintf("conn-%02d", i))
			connections.Add(fakes[i])
		}
		fakes[7].sendErr = errors.New("reset by peer")

		report := scheduler.RunTick(context.Background())

		assert.Equal(t, k-1, report.Delivered)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, "conn-07", report.Failed[0].ConnectionId)

		for i, conn := range fakes {
			if i == 7 {
				assert.Empty(t, conn.payloads())
				continue
			}
			assert.Equal(t, []string{"data-1"}, conn.payloads())
		}

		assert.Equal(t, k-1, connections.Len())
		assert.NotContains(t, snapshotIds(connections), "conn-07")
	})

	t.Run("empty registry still fetches", func(t *testing.T) {
		var fetches atomic.Int32
		scheduler, _ := newTestScheduler(source.Func(func(ctx context.Context) (string, error) {
			fetches.Add(1)
			return "data-1", nil
		}), Options{})

		report := scheduler.RunTick(context.Background())

		assert.Equal(t, int32(1), fetches.Load())
		assert.Zero(t, report.Delivered)

		latest, ok := scheduler.Latest()
		require.True(t, ok)
		assert.Equal(t, "data-1", latest.Payload)
		assert.Equal(t, uint64(1), latest.Seq)
		assert.NotEmpty(t, latest.Id)
		assert.Equal(t, StateIdle, scheduler.State())
	})
}

func TestScheduler_TicksDoNotOverlap(t *testing.T) {
	var fetches atomic.Int32
	scheduler, connections := newTestScheduler(source.Func(func(ctx context.Context) (string, error) {
		n := fetches.Add(1)
		return fmt.Sprintf("data-%d", n), nil
	}), Options{})

	entered := make(chan struct{}, 2)
	release := make(chan struct{})

	slow := newFakeConnection("slow")
	slow.onSend = func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	connections.Add(slow)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scheduler.RunTick(context.Background())
	}()

	<-entered
	assert.Equal(t, StateBroadcasting, scheduler.State())

	go func() {
		defer wg.Done()
		scheduler.RunTick(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fetches.Load(), "second tick fetched while the first was broadcasting")

	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), fetches.Load())
	assert.Equal(t, []string{"data-1", "data-2"}, slow.payloads())
}

func TestScheduler_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fetches atomic.Int32
	clock := clockwork.NewFakeClock()
	logger := zap.NewNop()
	connections := registry.NewInMemoryRegistry(logger)

	a := newFakeConnection("A")
	connections.Add(a)

	scheduler := NewScheduler(logger, clock, connections, source.Func(func(ctx context.Context) (string, error) {
		n := fetches.Add(1)
		return fmt.Sprintf("data-%d", n), nil
	}), Options{Period: 10 * time.Second})

	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Zero(t, fetches.Load())

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, time.Millisecond)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return fetches.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(a.payloads()) == 2 }, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(2), fetches.Load())
	assert.Equal(t, []string{"data-1", "data-2"}, a.payloads())
}

func TestScheduler_RunRejectsNonPositivePeriod(t *testing.T) {
	logger := zap.NewNop()

	for _, period := range []time.Duration{0, -time.Second} {
		scheduler := NewScheduler(logger, clockwork.NewFakeClock(), registry.NewInMemoryRegistry(logger),
			source.Func(func(ctx context.Context) (string, error) {
				return "data-1", nil
			}), Options{Period: period})

		err := scheduler.Run(context.Background())
		assert.ErrorContains(t, err, "tick period must be positive")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Fetching", StateFetching.String())
	assert.Equal(t, "Broadcasting", StateBroadcasting.String())
}
