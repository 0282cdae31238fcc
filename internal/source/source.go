package source

import "context"

// DataSource produces the payload broadcast on every tick.
type DataSource interface {
	Fetch(ctx context.Context) (string, error)
}

// Func adapts a plain function to a DataSource.
type Func func(ctx context.Context) (string, error)

func (f Func) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

// FetchError reports that a source could not produce a payload.
type FetchError struct {
	Source string
	Cause  error
}

func NewFetchError(source string, cause error) *FetchError {
	return &FetchError{
		Source: source,
		Cause:  cause,
	}
}

func (e *FetchError) Error() string {
	return "fetch from " + e.Source + " source: " + e.Cause.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
