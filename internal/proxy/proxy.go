package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aiproxy-go/internal/cache"
	"aiproxy-go/internal/config"
	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/logging"
	"aiproxy-go/internal/models"
	"aiproxy-go/internal/monitoring"
	"aiproxy-go/internal/providers"
	"aiproxy-go/internal/upstream"
	log "github.com/sirupsen/logrus"
)

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Secrets  credential.Source
	Cache    *cache.Encrypted
	Registry *providers.Registry
	Engine   *upstream.Engine
	Client   *http.Client
	// StartSpan and Histogram are optional telemetry sinks.
	StartSpan SpanStarter
	Histogram HistogramFunc
}

// Options tune caching and temporary credentials.
type Options struct {
	DefaultTTL      int
	Keys            KeyOptions
	MaxCachedBytes  int
	TempCredentials bool
	// CredentialKey keys stored temporary credential records; empty picks a
	// random per-process key.
	CredentialKey []byte
}

// OptionsFromConfig maps the proxy section of the config.
func OptionsFromConfig(cfg config.ProxyConfig) Options {
	return Options{
		DefaultTTL: cfg.DefaultCacheTTL,
		Keys: KeyOptions{
			Prefix:           cfg.CacheKeyPrefix,
			ExcludeAuthToken: cfg.ExcludeAuthToken,
			ExcludeOrgName:   cfg.ExcludeOrgName,
		},
		MaxCachedBytes:  cfg.MaxCachedResponseBytes,
		TempCredentials: cfg.TempCredentials,
		CredentialKey:   []byte(cfg.TempCredentialSecret),
	}
}

// Proxy is the request orchestrator.
type Proxy struct {
	secrets   credential.Source
	cache     *cache.Encrypted
	registry  *providers.Registry
	engine    *upstream.Engine
	client    *http.Client
	creds     *Credentials
	startSpan SpanStarter
	histogram HistogramFunc
	opts      Options
	now       func() time.Time
}

// New builds a Proxy. Cache may be nil, which disables response caching and
// temporary credentials.
func New(d Deps, opts Options) *Proxy {
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = constants.DefaultCacheTTL
	}
	if opts.Keys.Prefix == "" {
		opts.Keys.Prefix = constants.CacheKeyPrefix
	}
	p := &Proxy{
		secrets:   d.Secrets,
		cache:     d.Cache,
		registry:  d.Registry,
		engine:    d.Engine,
		client:    d.Client,
		startSpan: d.StartSpan,
		histogram: d.Histogram,
		opts:      opts,
		now:       time.Now,
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.startSpan == nil {
		p.startSpan = noopStarter
	}
	if d.Cache != nil && opts.TempCredentials {
		p.creds = NewCredentials(d.Cache, opts.CredentialKey)
	}
	return p
}

// Serve handles one inbound call and writes exactly one response to w.
// path is the logical path after the route prefix.
func (p *Proxy) Serve(ctx context.Context, method, path string, header http.Header, body []byte, w Sink) {
	out := &oneShot{Sink: w}
	req, err := ParseRequest(method, path, header, body)
	if err != nil {
		out.fail(err, apperrors.FormatOpenAI)
		return
	}
	ctx, span := p.startSpan(ctx, "proxy "+req.Endpoint)
	logger := logging.FromContext(ctx).WithFields(log.Fields{"endpoint": req.Endpoint, "model": req.Model})

	handedOff, err := p.serve(ctx, req, out, span, logger)
	if err != nil {
		span.Log(map[string]interface{}{"error": err.Error()})
		if out.used {
			logger.WithError(err).Warn("proxy stream ended with error")
		} else {
			logger.WithError(err).Info("proxy request failed")
			out.fail(err, req.ErrorFormat())
		}
	}
	if !handedOff {
		span.End()
	}
}

// serve reports whether ownership of span passed to the telemetry tap.
func (p *Proxy) serve(ctx context.Context, req *Request, out *oneShot, span SpanLogger, logger *log.Entry) (bool, error) {
	token := req.AuthToken()
	if token == "" {
		return false, apperrors.Unauthorized("missing authorization token")
	}
	if req.Method != http.MethodPost {
		return false, apperrors.New(http.StatusMethodNotAllowed, "method_not_allowed", "invalid_request_error", "only POST is supported")
	}

	if req.Endpoint == EndpointCredentials {
		if p.creds == nil {
			return false, apperrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "temporary credentials are disabled")
		}
		key, err := p.creds.Issue(ctx, token, req.Body)
		if err != nil {
			return false, err
		}
		return false, out.pipe(http.StatusOK, map[string]string{"Content-Type": "application/json"}, io.NopCloser(bytes.NewReader(credentialResponse(key))))
	}
	if !cacheableEndpoints[req.Endpoint] {
		return false, apperrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "unknown endpoint "+req.Path)
	}

	if p.creds != nil {
		resolved, err := p.creds.Resolve(ctx, token, req.Model)
		switch {
		case err == nil:
			token = resolved
		case !errors.Is(err, errNotTempCredential):
			return false, err
		}
	}
	if req.Model == "" {
		return false, apperrors.BadRequest("model is required")
	}

	policy, err := NegotiatePolicy(req, p.opts.DefaultTTL)
	if err != nil {
		return false, err
	}
	if p.cache == nil {
		policy.Read, policy.Write = false, false
	}
	endpointName := strings.TrimSpace(req.Header.Get(constants.HeaderEndpointName))
	keys := DeriveKeys(req.Path, req.Body, token, req.OrgName, endpointName, p.opts.Keys)
	span.Log(map[string]interface{}{
		"metadata": map[string]interface{}{
			"model":    req.Model,
			"endpoint": req.Endpoint,
			"stream":   req.Stream,
			"org":      req.OrgName,
		},
	})

	if policy.Read {
		if status, headers, body, ok := p.lookup(ctx, keys, policy, logger); ok {
			span.Log(map[string]interface{}{"cache": constants.CacheHit})
			return true, p.deliver(ctx, req, out, span, status, headers, body)
		}
	}

	secrets, err := p.resolveSecrets(ctx, req, token, endpointName)
	if err != nil {
		return false, err
	}
	spec, _ := models.Lookup(req.Model)
	preq := req.ProviderRequest()

	outcome, err := p.engine.Do(ctx, secrets, p.attempt(preq, spec.Format))
	if err != nil {
		return false, err
	}
	resp := outcome.Response

	headers := filterHeaders(resp.Header)
	cached := copyHeaders(headers)
	headers[constants.HeaderUsedEndpoint] = outcome.Secret.DisplayName()
	if policy.Read || policy.Write {
		headers[constants.HeaderCached] = constants.CacheMiss
	}

	body := resp.Body
	if policy.Write && !outcome.Failed && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body = &cacheTee{
			ReadCloser: body,
			limit:      p.opts.MaxCachedBytes,
			store:      p.cache,
			keys:       keys,
			ttl:        policy.TTL,
			headers:    cached,
			now:        p.now,
			logger:     logger,
		}
	}
	upstreamFields := map[string]interface{}{
		"provider": outcome.Secret.Type,
		"secret":   outcome.Secret.DisplayName(),
		"attempts": outcome.Attempts,
		"wait_ms":  logging.DurationMS(outcome.Waited),
	}
	spanFields := map[string]interface{}{"upstream": upstreamFields}
	if c, ok := headers[constants.HeaderCached]; ok {
		spanFields["cache"] = c
	}
	span.Log(spanFields)
	logger.WithFields(log.Fields{
		"status":   resp.StatusCode,
		"secret":   outcome.Secret.DisplayName(),
		"attempts": outcome.Attempts,
		"wait_ms":  logging.DurationMS(outcome.Waited),
	}).Debug("upstream call finished")
	return true, p.deliver(ctx, req, out, span, resp.StatusCode, headers, body)
}

// lookup returns a replayable cached response when a fresh entry exists.
func (p *Proxy) lookup(ctx context.Context, keys Keys, policy Policy, logger *log.Entry) (int, map[string]string, io.ReadCloser, bool) {
	raw, err := p.cache.Get(ctx, keys.Encryption, keys.Cache)
	if err != nil {
		monitoring.RecordCache("miss")
		return 0, nil, nil, false
	}
	entry, payload, err := decodeEntry(raw)
	if err != nil {
		monitoring.RecordCache("miss")
		logger.WithError(err).Debug("ignoring unreadable cache entry")
		return 0, nil, nil, false
	}
	age := entry.age(p.now())
	if policy.MaxAge > 0 && age > int64(policy.MaxAge) {
		monitoring.RecordCache("stale")
		return 0, nil, nil, false
	}
	monitoring.RecordCache("hit")
	headers := copyHeaders(entry.Headers)
	headers[constants.HeaderCached] = constants.CacheHit
	if age >= 0 {
		headers["age"] = strconv.FormatInt(age, 10)
	}
	if entry.Metadata != nil && entry.Metadata.TTL > 0 {
		headers["cache-control"] = "max-age=" + strconv.Itoa(entry.Metadata.TTL)
	}
	logger.WithField("age", age).Debug("cache hit")
	return http.StatusOK, headers, newLineReader(payload), true
}

func (p *Proxy) resolveSecrets(ctx context.Context, req *Request, token, endpointName string) ([]credential.APISecret, error) {
	useCache := true
	switch strings.ToLower(strings.TrimSpace(req.Header.Get(constants.HeaderUseCredsCache))) {
	case "", "auto", "always":
	case "never":
		useCache = false
	default:
		return nil, apperrors.BadRequest("invalid " + constants.HeaderUseCredsCache + " header: must be one of auto, always, never")
	}
	secrets, err := p.secrets.GetSecrets(ctx, credential.Lookup{
		UseCache:  useCache,
		AuthToken: token,
		Model:     req.Model,
		OrgName:   req.OrgName,
		ProjectID: req.Header.Get(constants.HeaderProjectID),
	})
	if errors.Is(err, credential.ErrUnauthorized) {
		return nil, apperrors.Unauthorized("invalid authorization token")
	}
	if err != nil {
		return nil, err
	}
	secrets = credential.FilterByEndpoint(secrets, endpointName)
	return filterNative(secrets, req.Native), nil
}

// filterNative keeps the secrets able to serve a vendor-native body.
func filterNative(secrets []credential.APISecret, native providers.Native) []credential.APISecret {
	var allowed []string
	switch native {
	case providers.NativeAnthropic:
		allowed = []string{credential.TypeAnthropic, credential.TypeBedrock, credential.TypeVertex}
	case providers.NativeGoogle:
		allowed = []string{credential.TypeGoogle, credential.TypeVertex}
	default:
		return secrets
	}
	out := make([]credential.APISecret, 0, len(secrets))
	for _, s := range secrets {
		for _, t := range allowed {
			if s.Type == t {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// attempt builds the per-credential call run by the failover engine.
func (p *Proxy) attempt(preq *providers.Request, format models.Format) upstream.AttemptFunc {
	attrs := map[string]string{"model": preq.Model, "endpoint": preq.Endpoint}
	return func(ctx context.Context, secret credential.APISecret) upstream.Result {
		adapter, err := p.registry.Resolve(secret.Type, format)
		if err != nil {
			return upstream.Result{Kind: upstream.KindRetryable, Status: http.StatusBadGateway, Err: err}
		}
		httpReq, err := adapter.BuildRequest(ctx, preq, &secret)
		if err != nil {
			return upstream.FromHTTP(nil, err)
		}
		began := p.now()
		resp, err := p.client.Do(httpReq)
		if err != nil {
			return upstream.FromHTTP(nil, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			provider := adapter.Name()
			resp.Body = upstream.Timed(resp.Body, began, func(ttfb, total time.Duration) {
				p.observe("upstream_ttfb_ms", float64(ttfb.Milliseconds()), attrs, provider)
				p.observe("upstream_duration_ms", float64(total.Milliseconds()), attrs, provider)
			})
			resp, err = providers.Normalize(ctx, adapter, preq, resp)
			if err != nil {
				return upstream.FromHTTP(nil, err)
			}
		}
		return upstream.FromHTTP(resp, nil)
	}
}

func (p *Proxy) observe(name string, v float64, attrs map[string]string, provider string) {
	if p.histogram == nil {
		return
	}
	a := copyHeaders(attrs)
	a["provider"] = provider
	p.histogram(name, v, a)
}

// deliver runs the telemetry tap and optional re-encoder, then pipes the
// body to the client.
func (p *Proxy) deliver(ctx context.Context, req *Request, out *oneShot, span SpanLogger, status int, headers map[string]string, body io.ReadCloser) error {
	streaming := req.Stream || strings.HasPrefix(headerValue(headers, "content-type"), "text/event-stream")
	body = &telemetryTap{
		ReadCloser: body,
		span:       span,
		histogram:  p.histogram,
		attrs:      map[string]string{"model": req.Model, "endpoint": req.Endpoint},
		stream:     streaming,
		limit:      p.opts.MaxCachedBytes,
		start:      p.now(),
		now:        p.now,
	}
	ok := status >= 200 && status < 300
	if ok && streaming && req.Native == providers.NativeNone &&
		strings.EqualFold(req.Header.Get(constants.HeaderStreamFormat), constants.StreamFormatVercelAI) {
		body = reencodeVercel(ctx, body)
		delete(headers, "content-type")
		headers["Content-Type"] = "text/plain; charset=utf-8"
		headers["x-vercel-ai-data-stream"] = "v1"
	}
	return out.pipe(status, headers, body)
}

func headerValue(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+4)
	for k, v := range h {
		out[k] = v
	}
	return out
}
