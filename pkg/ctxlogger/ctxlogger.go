package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextHandler decorates a slog.Handler so that attributes appended to the
// context with AppendCtx are attached to every record logged with that context.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a context carrying the given attribute in addition to any
// attributes already appended to the parent.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if attrs, ok := parent.Value(ctxKey{}).([]slog.Attr); ok {
		appended := make([]slog.Attr, 0, len(attrs)+1)
		appended = append(appended, attrs...)
		appended = append(appended, attr)
		return context.WithValue(parent, ctxKey{}, appended)
	}

	return context.WithValue(parent, ctxKey{}, []slog.Attr{attr})
}
