package context

import "context"

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	orgIDKey     ctxKey = "org_id"
	jobKey       ctxKey = "job"
	queueKey     ctxKey = "queue"
)

// WithRequestID stores the inbound request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithOrgID stores the organization the current unit of work belongs to.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

func OrgIDFromContext(ctx context.Context) string {
	return stringValue(ctx, orgIDKey)
}

// WithJob tags background work with the scheduler job that spawned it.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey, job)
}

func JobFromContext(ctx context.Context) string {
	return stringValue(ctx, jobKey)
}

// WithQueue records which activity queue the evaluation came from.
func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, queueKey, queue)
}

func QueueFromContext(ctx context.Context) string {
	return stringValue(ctx, queueKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
