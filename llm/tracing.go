package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/agentcoord/llm"

// TracedCompleter 为每次补全创建 llm.complete span
type TracedCompleter struct {
	inner  Completer
	tracer trace.Tracer
}

// WithTracing 用 tracer 包装 c，tracer 为 nil 时使用全局 provider
func WithTracing(c Completer, tracer trace.Tracer) *TracedCompleter {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracedCompleter{inner: c, tracer: tracer}
}

// Name 实现 Completer
func (t *TracedCompleter) Name() string {
	return t.inner.Name()
}

// Complete 实现 Completer
func (t *TracedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := t.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.backend", t.inner.Name()),
		attribute.Int("llm.prompt_bytes", len(prompt)),
	))
	defer span.End()

	out, err := t.inner.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.completion_bytes", len(out)))
	return out, nil
}
