// Connector tests in the SecondInning client.

package db

import (
	"SecondInning/pkg/log"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Global instance of log.Logger to be used during connector testing.
var logger log.Logger

// Global context
var ctx context.Context = context.Background()

func TestMain(m *testing.M) {
	logger = log.New("test")
	m.Run()
}

func TestFailedInitReportedOnEveryCall(t *testing.T) {
	// Force the one-shot init down the failure path.
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_PORT", "")

	_, dberr := NewDbConnection(ctx, logger)
	assert.Error(t, dberr)

	// The sync.Once is already consumed; a later caller must still see
	// the init failure instead of a nil client with a nil error.
	client, dberr := NewDbConnection(ctx, logger)
	assert.Error(t, dberr)
	assert.Nil(t, client)
}
