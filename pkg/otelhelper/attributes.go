package otelhelper

import (
	"github.com/satchwsm/backbeat/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

const (
	WorkflowIDKey   = "backbeat.workflow.id"
	WorkflowNameKey = "backbeat.workflow.name"
	NodeIDKey       = "backbeat.node.id"
	NodeKindKey     = "backbeat.node.kind"
	TargetTypeKey   = "backbeat.target.type"
	TargetIDKey     = "backbeat.target.id"
	EventNameKey    = "backbeat.event.name"
	JobIDKey        = "backbeat.job.id"
	WatchdogNameKey = "backbeat.watchdog.name"
)

// TargetAttributes describes the workflow or node an event acts on.
func TargetAttributes(target models.Target) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(TargetTypeKey, string(target.TargetType())),
		attribute.String(TargetIDKey, target.TargetID()),
		attribute.String(WorkflowIDKey, target.WorkflowRef()),
	}

	switch t := target.(type) {
	case *models.Node:
		attrs = append(attrs,
			attribute.String(NodeIDKey, t.ID),
			attribute.String(NodeKindKey, string(t.Kind())))
	case *models.Workflow:
		attrs = append(attrs, attribute.String(WorkflowNameKey, t.Name))
	}

	return attrs
}

// WatchdogAttributes describes a watchdog timer delivery.
func WatchdogAttributes(dog *models.Watchdog, jobID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(WatchdogNameKey, dog.Name),
		attribute.String(JobIDKey, jobID),
		attribute.String(TargetTypeKey, string(dog.SubjectType)),
		attribute.String(TargetIDKey, dog.SubjectID),
	}
}
