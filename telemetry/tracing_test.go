package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("robotnic-test", "0.0.0")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Error("tracing should stay disabled without an endpoint")
	}
}

func TestStartSpanNoopProvider(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "corr-1")
	ctx, span := StartSpan(ctx, "test", "op", ChannelAttr("1"), GuildAttr("2"), UserAttr("3"))
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil")
	}
	EndSpan(span, errors.New("boom"))

	_, span = StartSpan(context.Background(), "test", "op2")
	SetSpanHTTPStatus(span, 503)
	EndSpan(span, nil)
}

func TestSampleRatio(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 1, false},
		{"0.25", 0.25, false},
		{"0", 0, false},
		{"1.5", 0, true},
		{"half", 0, true},
	}
	for _, tc := range cases {
		got, err := sampleRatio(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("sampleRatio(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("sampleRatio(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
