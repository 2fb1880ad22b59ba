package telemetry

import (
	"context"
	"testing"
)

func TestInitJaegerDisabled(t *testing.T) {
	shutdown, err := InitJaeger("collabd-test", "")
	if err != nil {
		t.Fatalf("InitJaeger: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
