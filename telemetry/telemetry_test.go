package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/telemetry"
)

func TestNewBuildsCountersAndShutsDown(t *testing.T) {
	m, err := telemetry.New()
	require.NoError(t, err)

	ctx := context.Background()
	m.TxnCommits.Add(ctx, 1)
	m.GraphExecutions.Add(ctx, 1)

	require.NoError(t, m.Shutdown(ctx))
}
