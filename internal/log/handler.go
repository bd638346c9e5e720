package log

import (
	"context"
	"log/slog"

	"github.com/bigsmoke/pg_cmdqd/internal/requestid"
)

// ContextHandler wraps an slog.Handler and enriches each record with
// values carried on its context: the admin-HTTP request_id, and, for
// records logged from within a runner's command loop, the queue
// identity and the command currently being processed.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler returns a handler that enriches every record with
// context values before delegating to inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if cc := commandContextFromContext(ctx); cc != nil {
		r.AddAttrs(slog.String("queue", cc.Queue))
		if cc.CmdID != "" {
			r.AddAttrs(slog.String("cmd_id", cc.CmdID))
		}
		if cc.CmdSubID != "" {
			r.AddAttrs(slog.String("cmd_subid", cc.CmdSubID))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}

type commandContextKey struct{}

// CommandContext names the command a log record was emitted while
// processing, so operators can grep one command's lifecycle out of
// the interleaved output of many runners.
type CommandContext struct {
	Queue    string
	CmdID    string
	CmdSubID string
}

// WithCommandContext attaches cc to ctx for ContextHandler to pick up.
func WithCommandContext(ctx context.Context, cc CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey{}, cc)
}

func commandContextFromContext(ctx context.Context) *CommandContext {
	cc, ok := ctx.Value(commandContextKey{}).(CommandContext)
	if !ok {
		return nil
	}
	return &cc
}
