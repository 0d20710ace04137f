package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

// SubmissionTracker instruments chain writes made by the coordinator and,
// as a submission.Observer, counts transitions per phase.
type SubmissionTracker struct {
	p           *Provider
	transitions metric.Int64Counter
}

// NewSubmissionTracker returns a submission.Tracker backed by p.
func NewSubmissionTracker(p *Provider) *SubmissionTracker {
	t := &SubmissionTracker{p: p}
	counter, err := p.Meter().Int64Counter("startupops.submission.transitions",
		metric.WithDescription("Submission state transitions by phase"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		p.logger.Error("failed to create transition counter", "error", err)
	} else {
		t.transitions = counter
	}
	return t
}

// TrackWrite implements submission.Tracker.
func (t *SubmissionTracker) TrackWrite(ctx context.Context, key submission.Key, call string) (context.Context, func(error)) {
	return t.p.TrackOperation(ctx, "chain.write",
		attribute.String("startupops.category", key.Category),
		attribute.String("startupops.call", call),
	)
}

// OnTransition implements submission.Observer.
func (t *SubmissionTracker) OnTransition(ctx context.Context, tr submission.Transition) error {
	if t.transitions == nil {
		return nil
	}
	t.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("startupops.category", tr.Key.Category),
		attribute.String("startupops.phase", tr.State.Phase.String()),
	))
	return nil
}
