package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestNoopProviderDisabled(t *testing.T) {
	p := Noop()
	if p.Enabled() {
		t.Fatal("expected Noop provider to report disabled")
	}
	_, span := p.StartInvocation(context.Background(), "execute", "tenant-a", true)
	End(span, nil)
}

func TestNewDisabledConfigReturnsNoop(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected disabled config to yield a no-op provider")
	}
}

func TestNewUnknownExporterErrors(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon", ServiceName: "test"})
	if err == nil {
		t.Fatal("expected unknown exporter to error")
	}
}

func TestEndMarksSpanErrorWithoutPanicking(t *testing.T) {
	p := Noop()
	_, span := p.StartInvocation(context.Background(), "call", "tenant-b", false)
	End(span, errors.New("boom"))
}

func TestNilProviderStartInvocationIsSafe(t *testing.T) {
	var p *Provider
	ctx := context.Background()
	gotCtx, span := p.StartInvocation(ctx, "execute", "tenant-a", true)
	if gotCtx != ctx {
		t.Fatal("expected context unchanged for nil provider")
	}
	End(span, nil)
}
