package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/samskara-labs/chitragupta"
)

// ObservedStreamProvider wraps a chitragupta.StreamProvider with OTEL
// instrumentation. The span stays open for the full life of the stream;
// token usage and cost are read off the terminal events.
type ObservedStreamProvider struct {
	inner chitragupta.StreamProvider
	inst  *Instruments
}

// WrapStreamProvider returns an instrumented provider that emits traces,
// metrics, and logs.
func WrapStreamProvider(inner chitragupta.StreamProvider, inst *Instruments) *ObservedStreamProvider {
	return &ObservedStreamProvider{inner: inner, inst: inst}
}

func (o *ObservedStreamProvider) ID() string { return o.inner.ID() }

func (o *ObservedStreamProvider) Stream(ctx context.Context, model string, msgs []chitragupta.Message, opts chitragupta.StreamOptions) (<-chan chitragupta.StreamEvent, error) {
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(
			AttrLLMModel.String(model),
			AttrLLMProvider.String(o.inner.ID()),
		),
	}
	if opts.DiscloseTools && len(opts.Tools) > 0 {
		names := make([]string, len(opts.Tools))
		for i, t := range opts.Tools {
			names[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(opts.Tools)),
			AttrToolNames.StringSlice(names),
		))
	}

	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", spanAttrs...)
	start := time.Now()

	inner, err := o.inner.Stream(ctx, model, msgs, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.record(ctx, span, model, "error", float64(time.Since(start).Milliseconds()), chitragupta.Usage{})
		span.End()
		return nil, err
	}

	// Forward events, counting them and capturing usage from the terminal
	// events. The span ends when the inner channel closes, so duration
	// covers the whole stream, not just the dial.
	out := make(chan chitragupta.StreamEvent, 64)
	go func() {
		var (
			events int
			usage  chitragupta.Usage
			stop   chitragupta.StopReason
			status = "ok"
		)
		defer func() {
			span.SetAttributes(
				AttrStreamEvents.Int(events),
				AttrStopReason.String(string(stop)),
			)
			o.record(ctx, span, model, status, float64(time.Since(start).Milliseconds()), usage)
			span.End()
			close(out)
		}()

		for ev := range inner {
			events++
			switch ev.Type {
			case chitragupta.StreamUsage, chitragupta.StreamDone:
				usage = ev.Usage
				if ev.Type == chitragupta.StreamDone {
					stop = ev.StopReason
				}
			case chitragupta.StreamError:
				status = "error"
				if ev.Err != nil {
					span.RecordError(ev.Err)
					span.SetStatus(codes.Error, ev.Err.Error())
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				status = "cancelled"
				// The provider observes the same cancellation and closes
				// inner; drain it so its sender can finish.
				for range inner {
				}
				return
			}
		}
	}()

	return out, nil
}

func (o *ObservedStreamProvider) record(ctx context.Context, span trace.Span, model, status string, durationMs float64, usage chitragupta.Usage) {
	cost := o.inst.Cost.Calculate(model, usage)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.ID()),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrTokensCacheRead.Int(usage.CacheReadTokens),
		AttrTokensCacheWrite.Int(usage.CacheWriteTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.ID()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.ID()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.ID()),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm stream completed"))
	rec.AddAttributes(
		otellog.String("llm.model", model),
		otellog.String("llm.provider", o.inner.ID()),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// compile-time check
var _ chitragupta.StreamProvider = (*ObservedStreamProvider)(nil)
