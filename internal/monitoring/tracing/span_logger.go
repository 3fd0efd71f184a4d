package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"aiproxy-go/internal/logging"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanLogger records per-request telemetry on an OTel span and emits one
// structured log line when the span ends.
type SpanLogger struct {
	mu     sync.Mutex
	span   trace.Span
	entry  *log.Entry
	fields log.Fields
	ended  bool
}

// StartSpanLogger opens a proxy span under ctx.
func StartSpanLogger(ctx context.Context, name string) (context.Context, *SpanLogger) {
	ctx, span := Tracer("proxy").Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	return ctx, &SpanLogger{
		span:   span,
		entry:  logging.FromContext(ctx),
		fields: log.Fields{"span": name},
	}
}

func (s *SpanLogger) SetName(name string) {
	s.span.SetName(name)
	s.mu.Lock()
	s.fields["span"] = name
	s.mu.Unlock()
}

// Log merges fields into the span. Nested maps are flattened one level as
// "<key>.<sub>"; known gateway fields use the aiproxy.* attribute keys and
// other composite values are JSON encoded.
func (s *SpanLogger) Log(fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	var attrs []attribute.KeyValue
	for k, v := range fields {
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range nested {
				attrs = append(attrs, toAttr(k+"."+nk, nv))
				s.fields[k+"."+nk] = nv
			}
			continue
		}
		if k == "error" {
			s.span.SetStatus(codes.Error, fmt.Sprint(v))
		}
		attrs = append(attrs, toAttr(k, v))
		s.fields[k] = v
	}
	s.span.SetAttributes(attrs...)
}

func (s *SpanLogger) ReportProgress(text string) {
	s.span.AddEvent("progress", trace.WithAttributes(attribute.String("text", text)))
}

func (s *SpanLogger) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fields := make(log.Fields, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	s.mu.Unlock()

	s.span.End()
	s.entry.WithFields(fields).Debug("proxy span finished")
}

func toAttr(field string, v interface{}) attribute.KeyValue {
	key := attrKey(field)
	switch x := v.(type) {
	case string:
		return key.String(x)
	case bool:
		return key.Bool(x)
	case int:
		return key.Int(x)
	case int64:
		return key.Int64(x)
	case float64:
		return key.Float64(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return key.String(fmt.Sprint(v))
	}
	return key.String(string(b))
}
