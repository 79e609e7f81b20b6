package otlp

import (
	"os"

	"github.com/google/uuid"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	otlpCommon "go.opentelemetry.io/proto/otlp/common/v1"
	otlpRes "go.opentelemetry.io/proto/otlp/resource/v1"
)

const (
	ServiceName = "ris-relay"
	ScopeName   = "github.com/streamfold/ris-relay/internal/telemetry"
)

// NewResource describes this relay process
func NewResource(version string) *otlpRes.Resource {
	r := &otlpRes.Resource{
		Attributes:             nil,
		DroppedAttributesCount: 0,
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	r.Attributes = append(r.Attributes,
		StringAttr(string(semconv.ServiceNameKey), ServiceName),
		StringAttr(string(semconv.ServiceVersionKey), version),
		StringAttr(string(semconv.ServiceInstanceIDKey), uuid.NewString()),
		StringAttr(string(semconv.HostNameKey), host),
	)

	return r
}

func NewScope(version string) *otlpCommon.InstrumentationScope {
	s := &otlpCommon.InstrumentationScope{
		Name:                   ScopeName,
		Version:                version,
		Attributes:             nil,
		DroppedAttributesCount: 0,
	}

	s.Attributes = append(s.Attributes, StringAttr(string(semconv.TelemetrySDKNameKey), "go"))

	return s
}

func StringAttr(key, value string) *otlpCommon.KeyValue {
	return &otlpCommon.KeyValue{
		Key:   key,
		Value: &otlpCommon.AnyValue{Value: &otlpCommon.AnyValue_StringValue{StringValue: value}},
	}
}

// ResourceAttr returns the string value of key, or "" when absent
func ResourceAttr(r *otlpRes.Resource, key string) string {
	for _, kv := range r.GetAttributes() {
		if kv.GetKey() == key {
			return kv.GetValue().GetStringValue()
		}
	}
	return ""
}
