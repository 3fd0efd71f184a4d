package upstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"aiproxy-go/internal/credential"
)

// syntheticResponse wraps an error that carries an HTTP outcome so callers
// can treat it like any other upstream response.
func syntheticResponse(status int, header http.Header, body []byte, err error) *http.Response {
	h := http.Header{}
	for k, v := range header {
		h[k] = append([]string(nil), v...)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	if len(body) == 0 && err != nil {
		body = []byte(err.Error())
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

// failure 在所有凭证耗尽后组装诊断响应: 前言 + 上游原始错误体 + 上游响应头。
// 上游响应体以流的方式拼接, 不在内存中整体缓冲。
func (e *Engine) failure(last Result, secret credential.APISecret, attempts int, waited time.Duration) *Outcome {
	status := last.Status
	if status == 0 {
		status = http.StatusBadGateway
	}

	var upstreamBody io.Reader = bytes.NewReader(last.Body)
	var closer io.Closer
	if last.Response != nil && last.Response.Body != nil {
		upstreamBody = last.Response.Body
		closer = last.Response.Body
	}
	if e.MaxErrorBody > 0 {
		upstreamBody = io.LimitReader(upstreamBody, e.MaxErrorBody)
	}

	preamble := fmt.Sprintf("AI proxy encountered an error after %d attempt(s) over %s. Last upstream status %d from %s.\n\n",
		attempts, waited.Round(time.Millisecond), status, secret.DisplayName())
	body := io.MultiReader(
		strings.NewReader(preamble),
		upstreamBody,
		strings.NewReader(headersTrailer(last.Header)),
	)

	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	if last.Err != nil && last.Response == nil && len(last.Body) == 0 {
		body = io.MultiReader(body, strings.NewReader("\n"+last.Err.Error()+"\n"))
	}
	return &Outcome{
		Response: &http.Response{
			StatusCode:    status,
			Status:        strconv.Itoa(status) + " " + http.StatusText(status),
			Header:        h,
			Body:          readCloser{Reader: body, closer: closer},
			ContentLength: -1,
			ProtoMajor:    1,
			ProtoMinor:    1,
		},
		Secret:   secret,
		Attempts: attempts,
		Waited:   waited,
		Failed:   true,
	}
}

func headersTrailer(h http.Header) string {
	if len(h) == 0 {
		return "\n\nUpstream headers: (none)\n"
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("\n\nUpstream headers:\n")
	for _, k := range keys {
		for _, v := range h[k] {
			b.WriteString(strings.ToLower(k))
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
