package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generate creates a prefixed record ID, e.g. "bk-V1StGXR8_Z5jdHi6B-myT"
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	if prefix == "" {
		return id, nil
	}
	return prefix + "-" + id, nil
}
