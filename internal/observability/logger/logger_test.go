package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/railzway-alerts/internal/observability/context"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithOrgID(ctx, "42")
	ctx = obscontext.WithJob(ctx, "dispatch_activities")
	ctx = obscontext.WithQueue(ctx, "wallet")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "42", fields["org_id"])
	require.Equal(t, "dispatch_activities", fields["job"])
	require.Equal(t, "wallet", fields["queue"])
	require.NotContains(t, fields, "trace_id")
}

func TestWithContextOmitsEmptyFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("bare")

	require.Empty(t, logs.All()[0].ContextMap())
}

func TestOperationFromSQL(t *testing.T) {
	require.Equal(t, "UPDATE", operationFromSQL("update subscription_activities set enqueued = true"))
	require.Equal(t, "SELECT", operationFromSQL("WITH due AS (SELECT 1) SELECT * FROM due"))
	require.Equal(t, "UNKNOWN", operationFromSQL(""))
}
