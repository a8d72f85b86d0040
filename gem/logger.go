package gem

import (
	"context"
	"log/slog"
)

// nopHandler discards every record. Enabled reports false, so attributes are never built.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func handleAttr(h Handle) slog.Attr {
	return slog.Int("Handle", int(h))
}
