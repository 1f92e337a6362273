package logbuf

import (
	"context"
	"log/slog"
)

// Redacted replaces the value of redacted keys in captured entries.
const Redacted = "[redacted]"

// Handler tees records into a Buffer and an inner handler. The buffer sees
// every level; the inner handler keeps its own level filter. Values of
// redacted keys are masked in the buffer only, since /api/logs serves it
// to dashboard users.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	redact map[string]bool
	bound  map[string]any // qualified key -> value, from WithAttrs
	prefix string         // open groups, joined with "."
}

// NewHandler creates a handler that writes to both buf and inner.
// redactKeys name attributes (unqualified) whose values never reach buf.
func NewHandler(inner slog.Handler, buf *Buffer, redactKeys ...string) *Handler {
	h := &Handler{inner: inner, buf: buf, redact: make(map[string]bool, len(redactKeys))}
	for _, k := range redactKeys {
		h.redact[k] = true
	}
	return h
}

func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.bound)+r.NumAttrs())
	for k, v := range h.bound {
		attrs[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		h.collect(attrs, h.prefix, a)
		return true
	})

	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	if v, ok := attrs[AddressKey].(string); ok {
		e.Address = v
		delete(attrs, AddressKey)
	}
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.buf.Write(e)

	if !h.inner.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// collect flattens a into dst under prefix, expanding groups.
func (h *Handler) collect(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = qualify(prefix, a.Key)
		}
		for _, ga := range v.Group() {
			h.collect(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	key := qualify(prefix, a.Key)
	switch {
	case h.redact[a.Key]:
		dst[key] = Redacted
	default:
		dst[key] = plain(v)
	}
}

// plain converts v to something encoding/json renders usefully; errors
// would otherwise marshal as {}.
func plain(v slog.Value) any {
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}

func qualify(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]any, len(h.bound)+len(attrs))
	for k, v := range h.bound {
		bound[k] = v
	}
	for _, a := range attrs {
		h.collect(bound, h.prefix, a)
	}
	return &Handler{inner: h.inner.WithAttrs(attrs), buf: h.buf, redact: h.redact, bound: bound, prefix: h.prefix}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{inner: h.inner.WithGroup(name), buf: h.buf, redact: h.redact, bound: h.bound, prefix: qualify(h.prefix, name)}
}
