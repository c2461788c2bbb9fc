package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/samskara-labs/chitragupta/session"
)

// ObservedIndex wraps a session.Index with OTEL instrumentation. Every
// index operation gets a span plus a count and duration metric keyed by
// operation name.
type ObservedIndex struct {
	inner session.Index
	inst  *Instruments
}

// WrapIndex returns an instrumented relational index.
func WrapIndex(inner session.Index, inst *Instruments) *ObservedIndex {
	return &ObservedIndex{inner: inner, inst: inst}
}

func (o *ObservedIndex) do(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := o.inst.Tracer.Start(ctx, "index."+op, trace.WithAttributes(
		AttrIndexOp.String(op),
	))
	defer span.End()
	start := time.Now()

	err := fn(ctx)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.inst.IndexOps.Add(ctx, 1, metric.WithAttributes(
		AttrIndexOp.String(op),
		attribute.String("status", status),
	))
	o.inst.IndexDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		AttrIndexOp.String(op),
	))
	return err
}

func (o *ObservedIndex) Init(ctx context.Context) error {
	return o.do(ctx, "init", o.inner.Init)
}

func (o *ObservedIndex) SaveSession(ctx context.Context, meta session.Meta) error {
	return o.do(ctx, "save_session", func(ctx context.Context) error {
		return o.inner.SaveSession(ctx, meta)
	})
}

func (o *ObservedIndex) GetSession(ctx context.Context, id string) (session.Meta, bool, error) {
	var meta session.Meta
	var ok bool
	err := o.do(ctx, "get_session", func(ctx context.Context) error {
		var err error
		meta, ok, err = o.inner.GetSession(ctx, id)
		return err
	})
	return meta, ok, err
}

func (o *ObservedIndex) ListSessions(ctx context.Context, project string) ([]session.Meta, error) {
	var out []session.Meta
	err := o.do(ctx, "list_sessions", func(ctx context.Context) error {
		var err error
		out, err = o.inner.ListSessions(ctx, project)
		return err
	})
	return out, err
}

func (o *ObservedIndex) InsertTurn(ctx context.Context, t session.Turn) error {
	return o.do(ctx, "insert_turn", func(ctx context.Context) error {
		return o.inner.InsertTurn(ctx, t)
	})
}

func (o *ObservedIndex) SearchTurns(ctx context.Context, match, project string, limit int) ([]session.TurnHit, error) {
	var hits []session.TurnHit
	err := o.do(ctx, "search_turns", func(ctx context.Context) error {
		var err error
		hits, err = o.inner.SearchTurns(ctx, match, project, limit)
		return err
	})
	return hits, err
}

func (o *ObservedIndex) DeleteSession(ctx context.Context, id string) error {
	return o.do(ctx, "delete_session", func(ctx context.Context) error {
		return o.inner.DeleteSession(ctx, id)
	})
}

func (o *ObservedIndex) SaveMemory(ctx context.Context, e session.MemoryEntry) error {
	return o.do(ctx, "save_memory", func(ctx context.Context) error {
		return o.inner.SaveMemory(ctx, e)
	})
}

func (o *ObservedIndex) ListMemory(ctx context.Context) ([]session.MemoryEntry, error) {
	var out []session.MemoryEntry
	err := o.do(ctx, "list_memory", func(ctx context.Context) error {
		var err error
		out, err = o.inner.ListMemory(ctx)
		return err
	})
	return out, err
}

// compile-time check
var _ session.Index = (*ObservedIndex)(nil)
