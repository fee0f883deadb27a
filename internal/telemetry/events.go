package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordDecisionEvent adds a remediation decision to the span.
func RecordDecisionEvent(span trace.Span, handler, resourceID, decision, reason string) {
	if span == nil {
		return
	}

	span.AddEvent("remediation.decision", trace.WithAttributes(
		attribute.String("event.type", "remediation.decision"),
		attribute.String("handler", handler),
		attribute.String("resource.id", resourceID),
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	))
}

// RecordActionEvent adds a mutating AWS call to the span.
func RecordActionEvent(span trace.Span, handler, resourceID, action string, dryRun bool) {
	if span == nil {
		return
	}

	span.AddEvent("remediation.action", trace.WithAttributes(
		attribute.String("event.type", "remediation.action"),
		attribute.String("handler", handler),
		attribute.String("resource.id", resourceID),
		attribute.String("action", action),
		attribute.Bool("dry_run", dryRun),
	))
}
