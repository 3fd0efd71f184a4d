package providers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"aiproxy-go/internal/cache"
	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/models"
	"aiproxy-go/internal/sse"
	"aiproxy-go/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func chatRequest(body string, stream bool) *Request {
	return &Request{Endpoint: "chat/completions", Model: gjson.Get(body, "model").String(), Body: []byte(body), Stream: stream}
}

func TestOpenAIInjectsStreamUsage(t *testing.T) {
	req := chatRequest(`{"model":"gpt-4o","stream":true,"messages":[]}`, true)
	hreq, err := NewOpenAIAdapter(credential.TypeOpenAI, nil).BuildRequest(context.Background(), req,
		&credential.APISecret{Type: credential.TypeOpenAI, Secret: "sk", OrgName: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", hreq.URL.String())
	assert.Equal(t, "Bearer sk", hreq.Header.Get("Authorization"))
	assert.Equal(t, "acme", hreq.Header.Get("OpenAI-Organization"))
	assert.Equal(t, "text/event-stream", hreq.Header.Get("Accept"))
	raw, _ := io.ReadAll(hreq.Body)
	assert.True(t, gjson.GetBytes(raw, "stream_options.include_usage").Bool())
	assert.Equal(t, `{"model":"gpt-4o","stream":true,"messages":[]}`, string(req.Body))
}

func TestOpenAIVendorStripsStreamOptions(t *testing.T) {
	req := chatRequest(`{"model":"mistral-large-latest","stream":true,"stream_options":{"include_usage":true},"messages":[]}`, true)
	hreq, err := NewOpenAIAdapter(credential.TypeMistral, nil).BuildRequest(context.Background(), req,
		&credential.APISecret{Type: credential.TypeMistral, Secret: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.mistral.ai/v1/chat/completions", hreq.URL.String())
	raw, _ := io.ReadAll(hreq.Body)
	assert.False(t, gjson.GetBytes(raw, "stream_options").Exists())
}

func TestAzureDeploymentURLAndKey(t *testing.T) {
	req := chatRequest(`{"model":"gpt-3.5-turbo","parallel_tool_calls":false,"messages":[]}`, false)
	secret := &credential.APISecret{Type: credential.TypeAzure, Secret: "az-key",
		Metadata: credential.Metadata{APIBase: "https://res.openai.azure.com/"}}
	hreq, err := NewOpenAIAdapter(credential.TypeAzure, nil).BuildRequest(context.Background(), req, secret)
	require.NoError(t, err)
	assert.Equal(t, "https://res.openai.azure.com/openai/deployments/gpt-35-turbo/chat/completions?api-version=2024-10-21", hreq.URL.String())
	assert.Equal(t, "az-key", hreq.Header.Get("api-key"))
	assert.Empty(t, hreq.Header.Get("Authorization"))
	raw, _ := io.ReadAll(hreq.Body)
	assert.False(t, gjson.GetBytes(raw, "parallel_tool_calls").Exists())
}

func TestOpenAIRejectsNativeRequests(t *testing.T) {
	req := &Request{Endpoint: "anthropic/messages", Model: "gpt-4o", Body: []byte(`{}`), Native: NativeAnthropic}
	_, err := NewOpenAIAdapter(credential.TypeOpenAI, nil).BuildRequest(context.Background(), req, &credential.APISecret{})
	require.Error(t, err)
}

type tokenServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") != "shh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := bytes.NewBufferString(`{"access_token":"tok-`)
		body.WriteString(r.PostForm.Get("scope"))
		body.WriteString(`","token_type":"Bearer","expires_in":`)
		body.WriteString(strconv.Itoa(expiresIn))
		body.WriteString(`}`)
		_, _ = w.Write(body.Bytes())
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestDatabricksClientCredentialsCachesToken(t *testing.T) {
	ts := newTokenServer(t, 3600)
	tokens := NewTokenCache(cache.NewEncrypted(storage.NewMemoryBackend()), ts.Client())
	a := NewOpenAIAdapter(credential.TypeDatabricks, tokens)
	secret := &credential.APISecret{Type: credential.TypeDatabricks, Secret: "shh",
		Metadata: credential.Metadata{APIBase: ts.URL, AuthType: credential.AuthClientCredentials, ClientID: "sp-1"}}

	for i := 0; i < 2; i++ {
		req := chatRequest(`{"model":"dbrx","stream":true,"stream_options":{"include_usage":true},"messages":[]}`, true)
		hreq, err := a.BuildRequest(context.Background(), req, secret)
		require.NoError(t, err)
		assert.Equal(t, ts.URL+"/serving-endpoints/chat/completions", hreq.URL.String())
		assert.Equal(t, "Bearer tok-all-apis", hreq.Header.Get("Authorization"))
		raw, _ := io.ReadAll(hreq.Body)
		assert.False(t, gjson.GetBytes(raw, "stream_options").Exists())
	}
	assert.Equal(t, int32(1), ts.hits.Load())
}

func TestShortLivedTokenIsNotCached(t *testing.T) {
	ts := newTokenServer(t, 30)
	tokens := NewTokenCache(cache.NewEncrypted(storage.NewMemoryBackend()), ts.Client())
	for i := 0; i < 2; i++ {
		tok, err := tokens.ClientCredentials(context.Background(), ts.URL, "app", "shh", "scope-a")
		require.NoError(t, err)
		assert.Equal(t, "tok-scope-a", tok)
	}
	assert.Equal(t, int32(2), ts.hits.Load())
}

func TestTokenFailureKeepsStatus(t *testing.T) {
	ts := newTokenServer(t, 3600)
	tokens := NewTokenCache(nil, ts.Client())
	_, err := tokens.ClientCredentials(context.Background(), ts.URL, "app", "wrong", "")
	require.Error(t, err)
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode())
}

func TestAzureEntraUsesBearer(t *testing.T) {
	ts := newTokenServer(t, 3600)
	tokens := NewTokenCache(nil, ts.Client())
	secret := &credential.APISecret{Type: credential.TypeAzure, Secret: "shh",
		Metadata: credential.Metadata{APIBase: "https://res.openai.azure.com", Deployment: "prod-4o",
			AuthType: credential.AuthEntra, ClientID: "app", TokenURL: ts.URL}}
	hreq, err := NewOpenAIAdapter(credential.TypeAzure, tokens).BuildRequest(context.Background(),
		chatRequest(`{"model":"gpt-4o","messages":[]}`, false), secret)
	require.NoError(t, err)
	assert.Contains(t, hreq.URL.Path, "/openai/deployments/prod-4o/")
	assert.Equal(t, "Bearer tok-https://cognitiveservices.azure.com/.default", hreq.Header.Get("Authorization"))
	assert.Empty(t, hreq.Header.Get("api-key"))
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(nil)
	cases := []struct {
		secretType string
		format     models.Format
		want       string
	}{
		{credential.TypeOpenAI, models.FormatOpenAI, "openai"},
		{credential.TypeAzure, models.FormatOpenAI, "azure"},
		{credential.TypeAnthropic, models.FormatAnthropic, "anthropic"},
		{credential.TypeVertex, models.FormatAnthropic, "vertex-anthropic"},
		{credential.TypeVertex, models.FormatGoogle, "vertex"},
		{credential.TypeGoogle, models.FormatGoogle, "google"},
		{credential.TypeBedrock, models.FormatAnthropic, "bedrock-anthropic"},
		{credential.TypeBedrock, models.FormatConverse, "bedrock-converse"},
	}
	for _, tc := range cases {
		a, err := r.Resolve(tc.secretType, tc.format)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Name(), tc.secretType)
	}
	_, err := r.Resolve("unknown", models.FormatOpenAI)
	assert.Error(t, err)
}

func TestNormalizeNonStreamAndPassthrough(t *testing.T) {
	ctx := context.Background()
	anthropicBody := `{"id":"msg","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
	resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString(anthropicBody))}
	out, err := Normalize(ctx, NewAnthropicAdapter(), chatRequest(`{"model":"claude","messages":[]}`, false), resp)
	require.NoError(t, err)
	raw, _ := io.ReadAll(out.Body)
	assert.Equal(t, "ok", gjson.GetBytes(raw, "choices.0.message.content").String())
	assert.Equal(t, int64(len(raw)), out.ContentLength)

	openaiBody := `{"id":"x","choices":[]}`
	resp = &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString(openaiBody))}
	out, err = Normalize(ctx, NewOpenAIAdapter(credential.TypeOpenAI, nil), chatRequest(`{"model":"gpt-4o"}`, false), resp)
	require.NoError(t, err)
	raw, _ = io.ReadAll(out.Body)
	assert.Equal(t, openaiBody, string(raw))

	resp = &http.Response{StatusCode: 500, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString("boom"))}
	out, err = Normalize(ctx, NewAnthropicAdapter(), chatRequest(`{"model":"claude"}`, false), resp)
	require.NoError(t, err)
	raw, _ = io.ReadAll(out.Body)
	assert.Equal(t, "boom", string(raw))
}

func TestNormalizeOpenAIStreamRunsPipeline(t *testing.T) {
	ctx := context.Background()
	a := NewOpenAIAdapter(credential.TypeOpenAI, nil)
	stream := func(body string) (string, bool) {
		resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString(body))}
		out, err := Normalize(ctx, a, chatRequest(`{"model":"gpt-4o","stream":true}`, true), resp)
		require.NoError(t, err)
		raw, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		c, ok := out.Body.(sse.Completer)
		require.True(t, ok)
		return string(raw), c.Complete()
	}

	out, complete := stream("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n")
	assert.Equal(t, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n", out)
	assert.False(t, complete)

	out, complete = stream("data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	assert.Equal(t, 1, strings.Count(out, "data: [DONE]"))
	assert.True(t, complete)

	out, complete = stream("data: {\"choices\":[]}\n\ndata: [DONE]\n\n")
	assert.Equal(t, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n", out)
	assert.True(t, complete)

	out, complete = stream("data: {\"error\":{\"message\":\"rate limited\"}}\n\n")
	assert.Contains(t, out, "rate limited")
	assert.Equal(t, 1, strings.Count(out, "data: [DONE]"))
	assert.False(t, complete)
}
