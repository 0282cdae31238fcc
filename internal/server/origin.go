package server

import (
	"net/http"
	"slices"
	"strings"
)

// OriginChecker accepts upgrades from the configured origins. An empty list or a
// "*" entry accepts every origin.
type OriginChecker struct {
	allowed []string
}

func NewOriginChecker(allowedOrigins string) *OriginChecker {
	var allowed []string
	for _, origin := range strings.Split(allowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed = append(allowed, origin)
		}
	}

	return &OriginChecker{
		allowed,
	}
}

func (c *OriginChecker) Check(r *http.Request) bool {
	if len(c.allowed) == 0 || slices.Contains(c.allowed, "*") {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(c.allowed, origin)
}
