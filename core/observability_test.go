package core

import (
	"context"
	"testing"
	"time"
)

func TestObserver_RecordsSuccessAndFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("settlement", logger, metrics)
	ctx := context.Background()

	observer.ObserveOperation(ctx, time.Now(), "fetch balance", nil, map[string]any{"provider_id": "mercury"})
	observer.ObserveOperation(ctx, time.Now(), "fetch balance", NewTransientProviderError("wise", "upstream 503"), map[string]any{"provider_id": "wise"})

	if len(metrics.counters) != 2 {
		t.Fatalf("expected two counters, got %d", len(metrics.counters))
	}
	first := metrics.counters[0]
	if first.name != "settlement.fetch_balance.total" {
		t.Fatalf("unexpected counter name %q", first.name)
	}
	if first.tags["status"] != "success" || first.tags["provider_id"] != "mercury" {
		t.Fatalf("unexpected success tags: %#v", first.tags)
	}
	second := metrics.counters[1]
	if second.tags["status"] != "failure" || second.tags["error_kind"] != ErrorTransientProvider {
		t.Fatalf("unexpected failure tags: %#v", second.tags)
	}
	if len(metrics.histograms) != 2 {
		t.Fatalf("expected two histograms, got %d", len(metrics.histograms))
	}

	records := logger.snapshot()
	if len(records) != 2 {
		t.Fatalf("expected two log records, got %d", len(records))
	}
	if records[0].level != "info" || records[0].fields["provider_id"] != "mercury" {
		t.Fatalf("unexpected success log: %#v", records[0])
	}
	if records[1].level != "error" || records[1].msg != "fetch_balance failed" {
		t.Fatalf("unexpected failure log: %#v", records[1])
	}
}

func TestObserver_RedactsSecretFields(t *testing.T) {
	logger := newCaptureLogger()
	observer := NewObserver("settlement", logger, nil)
	observer.Info(context.Background(), "token issued", map[string]any{
		"provider_id":  "airwallex",
		"access_token": "tok-123",
	})

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log record, got %d", len(records))
	}
	if records[0].fields["access_token"] != RedactedValue || records[0].fields["provider_id"] != "airwallex" {
		t.Fatalf("unexpected fields: %#v", records[0].fields)
	}
}

func TestObserver_ZeroValueIsSilent(t *testing.T) {
	var observer Observer
	observer.ObserveOperation(context.Background(), time.Now(), "noop", nil, nil)
	observer.Warn(context.Background(), "ignored", nil)
}
