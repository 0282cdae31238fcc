package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	httpSourceName = "http"

	DefaultMaxBodyBytes = 1 << 20
)

type HTTPSourceOptions struct {
	URL      string
	Selector string
	// Prefix is prepended to the extracted text.
	Prefix string
	// EmptyPayload is returned when the selector matches nothing.
	EmptyPayload string
	UserAgent    string
	// MaxBodyBytes caps how much of the page is parsed. Content past the cap is
	// ignored. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// HTTPSource crawls a page and extracts the text of the first element matching a
// CSS selector.
type HTTPSource struct {
	client  *http.Client
	options HTTPSourceOptions
}

func NewHTTPSource(client *http.Client, options HTTPSourceOptions) *HTTPSource {
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &HTTPSource{
		client,
		options,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.options.URL, nil)
	if err != nil {
		return "", NewFetchError(httpSourceName, err)
	}

	if s.options.UserAgent != "" {
		req.Header.Set("User-Agent", s.options.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", NewFetchError(httpSourceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", NewFetchError(httpSourceName, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.options.URL))
	}

	document, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.options.MaxBodyBytes))
	if err != nil {
		return "", NewFetchError(httpSourceName, fmt.Errorf("parse document: %w", err))
	}

	selection := document.Find(s.options.Selector).First()
	if selection.Length() == 0 {
		return s.options.EmptyPayload, nil
	}

	text := strings.Join(strings.Fields(selection.Text()), " ")

	return s.options.Prefix + text, nil
}
