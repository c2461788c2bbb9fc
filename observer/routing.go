package observer

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/samskara-labs/chitragupta/marga"
)

// ObservedSink wraps a marga.Sink, counting routing decisions by task
// type, resolution, and complexity as they are persisted.
type ObservedSink struct {
	inner marga.Sink
	inst  *Instruments
}

// WrapSink returns an instrumented decision sink.
func WrapSink(inner marga.Sink, inst *Instruments) *ObservedSink {
	return &ObservedSink{inner: inner, inst: inst}
}

func (o *ObservedSink) SaveDecision(ctx context.Context, sessionID string, d marga.Decision) error {
	err := o.inner.SaveDecision(ctx, sessionID, d)

	o.inst.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
		AttrRouteTaskType.String(string(d.TaskType)),
		AttrRouteResolution.String(string(d.Resolution)),
		AttrRouteComplexity.String(string(d.Complexity)),
		AttrRouteSkipLLM.Bool(d.SkipLLM),
	))
	o.inst.RoutingDuration.Record(ctx, float64(d.DecisionTimeMs), metric.WithAttributes(
		AttrRouteTaskType.String(string(d.TaskType)),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("routing decision"))
	rec.AddAttributes(
		otellog.String("session.id", sessionID),
		otellog.String("routing.task_type", string(d.TaskType)),
		otellog.String("routing.resolution", string(d.Resolution)),
		otellog.String("routing.complexity", string(d.Complexity)),
		otellog.String("routing.provider", d.ProviderID),
		otellog.String("routing.model", d.ModelID),
		otellog.Float64("routing.confidence", d.Confidence),
		otellog.Bool("routing.skip_llm", d.SkipLLM),
		otellog.String("routing.rationale", d.Rationale),
	)
	o.inst.Logger.Emit(ctx, rec)

	return err
}

// compile-time check
var _ marga.Sink = (*ObservedSink)(nil)
