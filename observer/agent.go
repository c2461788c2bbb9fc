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

// ObservedAgent wraps an Agent to emit OTEL lifecycle spans, metrics, and
// logs. The wrapper creates a parent span for each Prompt call that
// contains all inner operations (provider streams, tool executions) as
// child spans via context propagation. Pair it with NewTracer on the
// agent's config so the loop's own spans nest under it.
type ObservedAgent struct {
	inner *chitragupta.Agent
	inst  *Instruments
}

// WrapAgent returns an instrumented agent that emits lifecycle telemetry.
func WrapAgent(inner *chitragupta.Agent, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

// Agent returns the wrapped agent for direct access to tree operations.
func (o *ObservedAgent) Agent() *chitragupta.Agent { return o.inner }

func (o *ObservedAgent) ID() string      { return o.inner.ID() }
func (o *ObservedAgent) Purpose() string { return o.inner.Purpose() }

// Prompt wraps the inner agent's Prompt, emitting an agent.run span that
// serves as the parent for all inner operations.
func (o *ObservedAgent) Prompt(ctx context.Context, text string) (chitragupta.Message, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.run", trace.WithAttributes(
		AttrAgentID.String(o.inner.ID()),
		AttrAgentPurpose.String(o.inner.Purpose()),
		AttrAgentDepth.Int(o.inner.Depth()),
	))
	defer span.End()
	start := time.Now()
	costBefore := o.inner.TotalCost()

	span.AddEvent("agent.started")

	msg, err := o.inner.Prompt(ctx, text)

	durationMs := float64(time.Since(start).Milliseconds())
	cost := o.inner.TotalCost() - costBefore
	status := "ok"

	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("agent.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("agent.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("agent.completed")
	}

	span.SetAttributes(
		AttrAgentStatus.String(status),
		AttrCostUSD.Float64(cost),
	)

	// Metrics
	o.inst.AgentPrompts.Add(ctx, 1, metric.WithAttributes(
		AttrAgentPurpose.String(o.inner.Purpose()),
		attribute.String("status", status),
	))
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentPurpose.String(o.inner.Purpose()),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent prompt completed"))
	rec.AddAttributes(
		otellog.String("agent.id", o.inner.ID()),
		otellog.String("agent.purpose", o.inner.Purpose()),
		otellog.String("agent.status", status),
		otellog.Float64("agent.cost_usd", cost),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return msg, err
}
