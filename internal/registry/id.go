package registry

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// GenerateConnectionId generates a unique connection identifier
func GenerateConnectionId() (string, error) {
	return gonanoid.New()
}
