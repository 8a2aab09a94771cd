package otel

import (
	"context"
	"errors"
	"testing"
)

func TestSetupNoEndpointInstallsNoopProvider(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected non-nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartSpanRecordsError(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	ctx, end := StartSpan(context.Background(), "Load")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	end(errors.New("boom"))
}

func TestServiceNameDefault(t *testing.T) {
	if got := serviceName(Config{}); got != "carton" {
		t.Errorf("serviceName(empty) = %q, want carton", got)
	}
	if got := serviceName(Config{ServiceName: "custom"}); got != "custom" {
		t.Errorf("serviceName(custom) = %q, want custom", got)
	}
}
