package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
)

func TestDetectorRun_Span(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
	}{
		{"clean", nil, codes.Unset},
		{"failed", errors.New("device unplugged"), codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, exp := testSetup(t)

			ctx, span := StartDetectorRun(context.Background(), "breath", "sess-1")
			if CorrelationID(ctx) == "" {
				t.Error("run span has no trace ID")
			}
			span.AddEvent("calibrated")
			EndDetectorRun(span, 120, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != "detector.run" {
				t.Errorf("name = %q", s.Name)
			}
			attrs := map[string]string{}
			for _, a := range s.Attributes {
				attrs[string(a.Key)] = a.Value.Emit()
			}
			if attrs[string(AttrDetector)] != "breath" || attrs[string(AttrSessionID)] != "sess-1" || attrs[string(AttrFrames)] != "120" {
				t.Errorf("attributes = %v", attrs)
			}
			if s.Status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", s.Status.Code, tt.wantStatus)
			}
			if len(s.Events) == 0 || s.Events[0].Name != "calibrated" {
				t.Errorf("events = %v", s.Events)
			}
		})
	}
}

func TestCorrelationID_Background(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestLogger_TraceFields(t *testing.T) {
	testSetup(t)
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id logged without a span: %s", buf.String())
	}

	buf.Reset()
	ctx, span := StartDetectorRun(context.Background(), "breath", "sess-1")
	defer span.End()
	Logger(ctx).Info("in span")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log output missing trace fields: %s", out)
	}
}
