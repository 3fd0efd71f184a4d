// Package upstream rotates a request across credentials, backing off on
// provider throttling, and composes a diagnostic response once every
// credential has failed.
package upstream

import (
	"errors"
	"net/http"
)

// Kind 是单次尝试的分类结果。
type Kind int

const (
	// KindOK 终态: 2xx 或 400, 直接返回给调用方。
	KindOK Kind = iota
	// KindRetryable 可切换到下一个凭证。
	KindRetryable
	// KindFatal 传输层错误, 立即中止整个请求。
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Result 是适配器边界上的一次尝试结果。Response 仅在 KindOK 或带有
// 上游响应的 KindRetryable 时非空。
type Result struct {
	Kind     Kind
	Response *http.Response
	Status   int
	Header   http.Header
	// Body 保存来自错误对象的上游响应体 (无 Response 时使用)。
	Body []byte
	Err  error
}

type statusCoder interface{ StatusCode() int }

type headerCarrier interface{ Header() http.Header }

type bodyCarrier interface{ ResponseBody() []byte }

// Classify maps an HTTP status onto a Kind.
func Classify(status int) Kind {
	if (status >= 200 && status < 300) || status == http.StatusBadRequest {
		return KindOK
	}
	return KindRetryable
}

// FromHTTP 将一次 HTTP 调用 (响应或错误) 归类为 Result。带有状态码的
// 错误按 HTTP 结果处理, 其余错误视为致命。
func FromHTTP(resp *http.Response, err error) Result {
	if err == nil {
		if resp == nil {
			return Result{Kind: KindFatal, Err: errors.New("upstream returned no response")}
		}
		return Result{Kind: Classify(resp.StatusCode), Response: resp, Status: resp.StatusCode, Header: resp.Header}
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		r := Result{Kind: Classify(sc.StatusCode()), Status: sc.StatusCode(), Err: err}
		var hc headerCarrier
		if errors.As(err, &hc) {
			r.Header = hc.Header()
		}
		var bc bodyCarrier
		if errors.As(err, &bc) {
			r.Body = bc.ResponseBody()
		}
		if r.Kind == KindOK {
			r.Response = syntheticResponse(r.Status, r.Header, r.Body, err)
		}
		return r
	}
	return Result{Kind: KindFatal, Err: err}
}
