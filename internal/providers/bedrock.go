package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/sse"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/tidwall/sjson"
)

const bedrockService = "bedrock"

// bedrockBase returns the runtime endpoint for the secret's region.
func bedrockBase(md credential.Metadata) (string, error) {
	if md.APIBase != "" {
		return strings.TrimRight(md.APIBase, "/"), nil
	}
	if md.Region == "" {
		return "", apperrors.BadRequest("bedrock secret requires metadata.region")
	}
	return "https://bedrock-runtime." + md.Region + ".amazonaws.com", nil
}

func bedrockModelURL(md credential.Metadata, model, action string) (string, error) {
	base, err := bedrockBase(md)
	if err != nil {
		return "", err
	}
	// model ids carry ':' (e.g. "...-v1:0"), which Bedrock expects escaped
	return base + "/model/" + strings.ReplaceAll(url.PathEscape(model), ":", "%3A") + "/" + action, nil
}

// signBedrock adds SigV4 headers (Authorization, X-Amz-Date,
// X-Amz-Security-Token) for the bedrock service.
func signBedrock(ctx context.Context, req *http.Request, body []byte, secret *credential.APISecret, now time.Time) error {
	md := secret.Metadata
	if md.AccessKey == "" || secret.Secret == "" {
		return apperrors.BadRequest("bedrock secret requires metadata.access_key and secret")
	}
	region := md.Region
	if region == "" {
		region = "us-east-1"
	}
	creds, err := credentials.NewStaticCredentialsProvider(md.AccessKey, secret.Secret, md.SessionToken).Retrieve(ctx)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	return v4.NewSigner().SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), bedrockService, region, now)
}

// BedrockAnthropicAdapter serves Claude models through Bedrock's
// invoke endpoints. The body is the Anthropic Messages format without
// model/stream; streams arrive as AWS event-stream frames whose chunk
// payloads wrap base64 Anthropic events.
type BedrockAnthropicAdapter struct {
	AnthropicAdapter
	now func() time.Time
}

// NewBedrockAnthropicAdapter returns the Bedrock Claude adapter.
func NewBedrockAnthropicAdapter() *BedrockAnthropicAdapter {
	return &BedrockAnthropicAdapter{AnthropicAdapter: AnthropicAdapter{mode: anthropicBedrock}, now: time.Now}
}

func (a *BedrockAnthropicAdapter) Name() string { return "bedrock-anthropic" }

func (a *BedrockAnthropicAdapter) BuildRequest(ctx context.Context, req *Request, secret *credential.APISecret) (*http.Request, error) {
	body, err := messagesBody(req)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"model", "stream"} {
		if body, err = sjson.DeleteBytes(body, k); err != nil {
			return nil, err
		}
	}
	if body, err = sjson.SetBytes(body, "anthropic_version", constants.BedrockAnthropicVersion); err != nil {
		return nil, err
	}
	action := "invoke"
	if req.Stream {
		action = "invoke-with-response-stream"
	}
	target, err := bedrockModelURL(secret.Metadata, req.Model, action)
	if err != nil {
		return nil, err
	}
	hreq, err := newJSONRequest(ctx, target, body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "application/json")
	applyAdditionalHeaders(hreq, secret)
	if err := signBedrock(ctx, hreq, body, secret, a.now()); err != nil {
		return nil, err
	}
	return hreq, nil
}

// EventSource decodes invoke-with-response-stream frames into Anthropic
// events.
func (a *BedrockAnthropicAdapter) EventSource(body io.ReadCloser) sse.Source {
	return &eventStreamSource{body: body, dec: eventstream.NewDecoder(), unwrap: unwrapInvokeChunk}
}

func unwrapInvokeChunk(eventType string, payload []byte) (sse.Event, error) {
	if eventType != "chunk" {
		return sse.Event{}, errSkipEvent
	}
	var chunk struct {
		Bytes string `json:"bytes"`
	}
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return sse.Event{}, fmt.Errorf("decode bedrock chunk: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(chunk.Bytes)
	if err != nil {
		return sse.Event{}, fmt.Errorf("decode bedrock chunk bytes: %w", err)
	}
	var peek struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &peek)
	return sse.Event{Event: peek.Type, Data: string(raw)}, nil
}

var errSkipEvent = errors.New("skip event")

// eventStreamSource adapts an AWS event-stream body to sse.Source.
type eventStreamSource struct {
	body   io.ReadCloser
	dec    *eventstream.Decoder
	buf    []byte
	unwrap func(eventType string, payload []byte) (sse.Event, error)
}

func (s *eventStreamSource) Next() (sse.Event, error) {
	for {
		msg, err := s.dec.Decode(s.body, s.buf)
		if err != nil {
			return sse.Event{}, err
		}
		msgType := headerString(msg.Headers, ":message-type")
		if msgType == "exception" || msgType == "error" {
			kind := headerString(msg.Headers, ":exception-type")
			if kind == "" {
				kind = headerString(msg.Headers, ":error-code")
			}
			return sse.Event{}, fmt.Errorf("bedrock %s: %s", kind, bytes.TrimSpace(msg.Payload))
		}
		ev, err := s.unwrap(headerString(msg.Headers, ":event-type"), msg.Payload)
		if err == errSkipEvent {
			continue
		}
		return ev, err
	}
}

func (s *eventStreamSource) Close() error { return s.body.Close() }

func headerString(h eventstream.Headers, name string) string {
	v := h.Get(name)
	if v == nil {
		return ""
	}
	return v.String()
}
