package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/telemetry"
)

func TestRun_RequiresDatabaseURL(t *testing.T) {
	err := run("", "../../migrations", "up", 0, -1, telemetry.NewSlogLogger(io.Discard, "error"))
	assert.ErrorContains(t, err, "database url is required")
}
