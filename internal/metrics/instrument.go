package metrics

import (
	"context"
	"time"

	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
)

// EventSink matches the orchestrator's publish hook.
type EventSink interface {
	Publish(event *scan.Event)
}

// InstrumentedSink counts published events before forwarding them.
type InstrumentedSink struct {
	next     EventSink
	registry *Registry
}

func NewInstrumentedSink(next EventSink, registry *Registry) *InstrumentedSink {
	return &InstrumentedSink{next: next, registry: registry}
}

func (s *InstrumentedSink) Publish(event *scan.Event) {
	s.registry.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case scan.EventStart:
		s.registry.ScansStarted.Inc()
	case scan.EventComplete:
		s.registry.ScansCompleted.Inc()
	case scan.EventItem:
		s.registry.ItemsProcessed.WithLabelValues("page").Inc()
	case scan.EventAttachmentItem:
		s.registry.ItemsProcessed.WithLabelValues("attachment").Inc()
	}
	s.next.Publish(event)
}

// Analyzer matches the detection client's analyze call.
type Analyzer interface {
	Analyze(ctx context.Context, text string) ([]*pii.DetectedEntity, error)
}

// InstrumentedAnalyzer records latency and failures of detection calls.
type InstrumentedAnalyzer struct {
	next     Analyzer
	registry *Registry
}

func NewInstrumentedAnalyzer(next Analyzer, registry *Registry) *InstrumentedAnalyzer {
	return &InstrumentedAnalyzer{next: next, registry: registry}
}

func (a *InstrumentedAnalyzer) Analyze(ctx context.Context, text string) ([]*pii.DetectedEntity, error) {
	start := time.Now()
	entities, err := a.next.Analyze(ctx, text)
	a.registry.DetectionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		a.registry.DetectionErrors.Inc()
	}
	return entities, err
}
