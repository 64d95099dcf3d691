//go:build tools

// Package tools pins CLI dependencies used for development (schema
// migrations under migrations/).
package tools

import (
	_ "github.com/pressly/goose/v3/cmd/goose"
)
