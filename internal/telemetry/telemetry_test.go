package telemetry

import (
	"context"
	"testing"
)

func TestSetupWithNoOptionsIsNoop(t *testing.T) {
	b, err := Setup(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil bundle, got %+v", b)
	}
}

func TestResolveOTLPTargetBareHostPort(t *testing.T) {
	target, err := resolveOTLPTarget("collector:4317")
	if err != nil {
		t.Fatal(err)
	}
	if target.protocol != "grpc" || !target.insecure {
		t.Fatalf("target = %+v", target)
	}
}

func TestResolveOTLPTargetHTTPS(t *testing.T) {
	target, err := resolveOTLPTarget("https://collector.example.com/v1/traces")
	if err != nil {
		t.Fatal(err)
	}
	if target.protocol != "http" || target.insecure {
		t.Fatalf("target = %+v", target)
	}
	if target.path != "/v1/traces" {
		t.Fatalf("path = %q", target.path)
	}
}

func TestSetupRuntimeMetricsWithoutListenerFails(t *testing.T) {
	_, err := Setup(context.Background(), Options{RuntimeMetrics: true})
	if err == nil {
		t.Fatal("expected error when runtime metrics requested without a metrics listener")
	}
}
