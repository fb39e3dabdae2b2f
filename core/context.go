package core

import "context"

type ctxKey int

const (
	executorKey ctxKey = iota
	schoolKey
)

// ContextWithExecutor returns a copy of ctx carrying exec.
// Repositories run their statements on the executor carried by the context, falling back to their own.
func ContextWithExecutor(ctx context.Context, exec DBExecutor) context.Context {
	return context.WithValue(ctx, executorKey, exec)
}

// ExecutorFromContext returns the executor carried by ctx, or nil.
func ExecutorFromContext(ctx context.Context) DBExecutor {
	exec, _ := ctx.Value(executorKey).(DBExecutor)
	return exec
}

// ContextWithSchool returns a copy of ctx scoped to the school identified by slug.
func ContextWithSchool(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, schoolKey, slug)
}

// SchoolFromContext returns the slug of the school ctx is scoped to; "" means the platform.
func SchoolFromContext(ctx context.Context) string {
	slug, _ := ctx.Value(schoolKey).(string)
	return slug
}
