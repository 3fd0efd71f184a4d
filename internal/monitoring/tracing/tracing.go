package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"aiproxy-go/internal/constants"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "aiproxy-go"

// 网关 span 属性
const (
	EndpointKey    = attribute.Key("aiproxy.endpoint")
	ModelKey       = attribute.Key("aiproxy.model")
	StreamKey      = attribute.Key("aiproxy.stream")
	OrgKey         = attribute.Key("aiproxy.org")
	CacheStatusKey = attribute.Key("aiproxy.cache.status")
	ProviderKey    = attribute.Key("aiproxy.upstream.provider")
	SecretKey      = attribute.Key("aiproxy.upstream.secret")
	AttemptsKey    = attribute.Key("aiproxy.upstream.attempts")
	WaitKey        = attribute.Key("aiproxy.upstream.wait_ms")

	// per-attempt event attributes
	AttemptKey = attribute.Key("aiproxy.upstream.attempt")
	OutcomeKey = attribute.Key("aiproxy.upstream.outcome")
	StatusKey  = attribute.Key("http.response.status_code")
	DelayKey   = attribute.Key("aiproxy.upstream.delay_ms")
)

// fieldKeys maps SpanLogger field names onto the gateway attributes. Fields
// not listed keep their flattened name.
var fieldKeys = map[string]attribute.Key{
	"metadata.endpoint": EndpointKey,
	"metadata.model":    ModelKey,
	"metadata.stream":   StreamKey,
	"metadata.org":      OrgKey,
	"cache":             CacheStatusKey,
	"upstream.provider": ProviderKey,
	"upstream.secret":   SecretKey,
	"upstream.attempts": AttemptsKey,
	"upstream.wait_ms":  WaitKey,
}

func attrKey(field string) attribute.Key {
	if k, ok := fieldKeys[field]; ok {
		return k
	}
	return attribute.Key(field)
}

// exporterConfig is read from the standard OTEL_* environment.
type exporterConfig struct {
	endpoint string
	insecure bool
	ratio    float64
}

func configFromEnv() exporterConfig {
	cfg := exporterConfig{
		endpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		insecure: true,
		ratio:    1,
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		cfg.insecure = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			cfg.ratio = r
		} else {
			log.WithField("value", v).Warn("ignoring invalid OTEL_TRACES_SAMPLER_ARG")
		}
	}
	return cfg
}

var (
	initOnce sync.Once
	provider *sdktrace.TracerProvider
)

// Init installs an OTLP exporter when OTEL_EXPORTER_OTLP_ENDPOINT is set and
// returns its shutdown func. Without an endpoint spans stay no-ops.
func Init(ctx context.Context) (func(context.Context) error, error) {
	var err error
	initOnce.Do(func() {
		cfg := configFromEnv()
		if cfg.endpoint == "" {
			return
		}
		provider, err = newProvider(ctx, cfg)
		if err != nil {
			return
		}
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.WithFields(log.Fields{"endpoint": cfg.endpoint, "ratio": cfg.ratio}).Info("tracing enabled")
	})
	if err != nil || provider == nil {
		return func(context.Context) error { return nil }, err
	}
	return provider.Shutdown, nil
}

func newProvider(ctx context.Context, cfg exporterConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", constants.Version),
			attribute.String("service.instance.id", hostname()),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio))),
		sdktrace.WithResource(res),
	), nil
}

// Tracer returns the gateway tracer for component.
func Tracer(component string) trace.Tracer {
	if component == "" {
		return otel.Tracer(serviceName)
	}
	return otel.Tracer(serviceName + "/" + component)
}

// RecordAttempt adds one upstream attempt as an event on the span in ctx.
func RecordAttempt(ctx context.Context, index int, secret, outcome string, status int, delay time.Duration) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		AttemptKey.Int(index),
		SecretKey.String(secret),
		OutcomeKey.String(outcome),
		StatusKey.Int(status),
	}
	if delay > 0 {
		attrs = append(attrs, DelayKey.Int64(delay.Milliseconds()))
	}
	span.AddEvent("upstream.attempt", trace.WithAttributes(attrs...))
}

func hostname() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
