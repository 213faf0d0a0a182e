package llm

import (
	"context"
	"time"

	"trial-screener/internal/common/logger"
	"trial-screener/internal/common/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented decorates a Client with spans, prometheus metrics and logs.
type Instrumented struct {
	next   Client
	tracer trace.Tracer
	logger logger.Logger
}

func NewInstrumented(next Client, tracer trace.Tracer, log logger.Logger) *Instrumented {
	return &Instrumented{
		next:   next,
		tracer: tracer,
		logger: log.WithFields(map[string]interface{}{"component": "llm"}),
	}
}

func (c *Instrumented) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	op := req.Operation
	if op == "" {
		op = "generate"
	}

	ctx, span := c.tracer.Start(ctx, "llm."+op, trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.prompt_chars", len(req.Prompt)),
	))
	defer span.End()

	start := time.Now()
	text, err := c.next.Generate(ctx, req)
	c.observe(span, op, req.Model, start, len(text), err)
	return text, err
}

func (c *Instrumented) StartChat(ctx context.Context, req ChatRequest) (ChatSession, error) {
	ctx, span := c.tracer.Start(ctx, "llm.chat.start", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	session, err := c.next.StartChat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &instrumentedSession{next: session, parent: c, model: req.Model}, nil
}

func (c *Instrumented) observe(span trace.Span, op, model string, start time.Time, replyChars int, err error) {
	elapsed := time.Since(start)
	metrics.LLMCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	fields := map[string]interface{}{
		"operation":  op,
		"model":      model,
		"durationMs": elapsed.Milliseconds(),
	}
	if sc := span.SpanContext(); sc.IsValid() {
		fields["traceId"] = sc.TraceID().String()
		fields["spanId"] = sc.SpanID().String()
	}

	if err != nil {
		metrics.LLMCalls.WithLabelValues(op, metrics.OutcomeFailure).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields["error"] = err.Error()
		c.logger.Warn("Model call failed", fields)
		return
	}

	metrics.LLMCalls.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
	span.SetAttributes(attribute.Int("llm.reply_chars", replyChars))
	fields["replyChars"] = replyChars
	c.logger.Debug("Model call completed", fields)
}

type instrumentedSession struct {
	next   ChatSession
	parent *Instrumented
	model  string
}

func (s *instrumentedSession) Send(ctx context.Context, text string) (string, error) {
	ctx, span := s.parent.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.model", s.model),
	))
	defer span.End()

	start := time.Now()
	reply, err := s.next.Send(ctx, text)
	s.parent.observe(span, "chat", s.model, start, len(reply), err)
	return reply, err
}

func (s *instrumentedSession) Close() error {
	return s.next.Close()
}
