package trace

import "context"

type ctxKey struct{}

type spanKey struct{}

type fileKey struct{}

type progressKey struct{}

// FromContext returns the tracer stored in ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx == nil {
		return Nop
	}
	if t, ok := ctx.Value(ctxKey{}).(Tracer); ok {
		return t
	}
	return Nop
}

// WithTracer stores t in ctx; a nil t stores Nop.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, ctxKey{}, t)
}

// ParentSpan returns the span id stored by WithParent, or 0.
func ParentSpan(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	if id, ok := ctx.Value(spanKey{}).(uint64); ok {
		return id
	}
	return 0
}

// WithParent records s as the parent of spans begun from ctx.
func WithParent(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, s.ID())
}

// WithFile tags spans begun from ctx with the input file being built.
func WithFile(ctx context.Context, file string) context.Context {
	return context.WithValue(ctx, fileKey{}, file)
}

// FileFromContext returns the file stored by WithFile, or "".
func FileFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	file, _ := ctx.Value(fileKey{}).(string)
	return file
}

// WithProgress stores the build progress tracker in ctx.
func WithProgress(ctx context.Context, p *Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// ProgressFromContext returns the tracker stored in ctx, or nil.
func ProgressFromContext(ctx context.Context) *Progress {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(progressKey{}).(*Progress)
	return p
}

// BeginCtx starts a span on the context tracer under the context parent.
func BeginCtx(ctx context.Context, scope Scope, name string) *Span {
	return begin(FromContext(ctx), scope, name, ParentSpan(ctx), FileFromContext(ctx))
}

// PointCtx emits an instant event on the context tracer under the context parent.
func PointCtx(ctx context.Context, scope Scope, name, detail string) {
	point(FromContext(ctx), scope, name, detail, ParentSpan(ctx), FileFromContext(ctx))
}
