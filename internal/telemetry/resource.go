package telemetry

import (
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// attributeServiceName and attributeServiceInstanceID avoid depending on a
// pinned semconv schema version for the two attributes this package needs.
func attributeServiceName(name string) attribute.KeyValue {
	return attribute.String("service.name", name)
}

func attributeServiceInstanceID(id string) attribute.KeyValue {
	return attribute.String("service.instance.id", id)
}

// newInstanceID mints a random identifier distinguishing this daemon
// process's telemetry from any other instance sharing the same service
// name, e.g. two apteryxd processes exporting to the same collector.
func newInstanceID() string {
	return uuid.NewString()
}
