package source

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/crawlcast/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSource fails fast while the wrapped source keeps failing, so a dead
// upstream is not hit on every tick.
type BreakerSource struct {
	name    string
	source  DataSource
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerSource(
	logger *zap.Logger,
	name string,
	source DataSource,
	consecutiveFailures uint32,
	openTimeout time.Duration,
) *BreakerSource {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("data source circuit breaker state changed",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))

			metrics.SourceBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}

	metrics.SourceBreakerState.WithLabelValues(name).Set(breakerStateValue(gobreaker.StateClosed))

	return &BreakerSource{
		name:    name,
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerSource) Fetch(ctx context.Context) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.source.Fetch(ctx)
	})
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return "", err
		}

		return "", NewFetchError(b.name, err)
	}

	return result.(string), nil
}

func (b *BreakerSource) State() gobreaker.State {
	return b.breaker.State()
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
