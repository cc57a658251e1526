package logging

import (
	"context"
	"errors"
	"time"
)

// OperationLogger is implemented by loggers with domain helpers, such as
// MeshLogger. The package level helpers below prefer it and fall back to
// plain key/value messages for any other Logger.
type OperationLogger interface {
	LogModelLoad(slug string, dur time.Duration, err error)
	LogModelAccess(slug string, wait, dur time.Duration, err error)
	LogDownload(slug string, dur time.Duration, err error)
	LogInvocation(agent string, tokens int, dur time.Duration, err error)
}

var _ OperationLogger = (*MeshLogger)(nil)

// ModelLoad logs the end of a model load.
func ModelLoad(l Logger, slug string, dur time.Duration, err error) {
	if ol, ok := l.(OperationLogger); ok {
		ol.LogModelLoad(slug, dur, err)
		return
	}
	logOutcome(l, err, "Model load completed", "Model load failed", "slug", slug, "duration", dur)
}

// ModelAccess logs the end of a scoped model access.
func ModelAccess(l Logger, slug string, wait, dur time.Duration, err error) {
	if ol, ok := l.(OperationLogger); ok {
		ol.LogModelAccess(slug, wait, dur, err)
		return
	}
	logOutcome(l, err, "Model access completed", "Model access failed", "slug", slug, "wait", wait, "duration", dur)
}

// Download logs the end of a download.
func Download(l Logger, slug string, dur time.Duration, err error) {
	if ol, ok := l.(OperationLogger); ok {
		ol.LogDownload(slug, dur, err)
		return
	}
	logOutcome(l, err, "Download completed", "Download failed", "slug", slug, "duration", dur)
}

// Invocation logs the end of an agent invocation.
func Invocation(l Logger, agent string, tokens int, dur time.Duration, err error) {
	if ol, ok := l.(OperationLogger); ok {
		ol.LogInvocation(agent, tokens, dur, err)
		return
	}
	logOutcome(l, err, "Invocation completed", "Invocation failed", "agent", agent, "token_count", tokens, "duration", dur)
}

func logOutcome(l Logger, err error, ok, failed string, args ...any) {
	l = OrNoOp(l)
	switch {
	case err == nil:
		l.Info(ok, args...)
	case errors.Is(err, context.Canceled):
		l.Debug(ok+" (cancelled)", args...)
	default:
		l.Error(failed, append(args, "error", err.Error())...)
	}
}

// ForInvocation returns l tagged with an invocation id when l supports it.
func ForInvocation(l Logger, id string) Logger {
	if ml, ok := l.(*MeshLogger); ok {
		return ml.WithInvocation(id)
	}
	return OrNoOp(l)
}

// Component returns l scoped to a component name when l supports it.
func Component(l Logger, name string) Logger {
	if ml, ok := l.(*MeshLogger); ok {
		return ml.WithComponent(name)
	}
	return OrNoOp(l)
}
