package proxy

import (
	"errors"
	"io"
	"net/http"

	apperrors "aiproxy-go/internal/errors"
)

// Sink is the client-facing writer. gin.ResponseWriter satisfies it.
type Sink interface {
	Header() http.Header
	WriteHeader(status int)
	Write(p []byte) (int, error)
	Flush()
}

var errSinkUsed = errors.New("response already written")

// oneShot guards a Sink so exactly one response is produced: either a piped
// body or an immediate close, never both.
type oneShot struct {
	Sink
	used bool
}

func (o *oneShot) begin(status int, headers map[string]string) error {
	if o.used {
		return errSinkUsed
	}
	o.used = true
	h := o.Header()
	for k, v := range headers {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
	o.WriteHeader(status)
	return nil
}

// pipe writes status and headers, then copies body chunk by chunk, flushing
// after each so streamed events reach the client as they arrive.
func (o *oneShot) pipe(status int, headers map[string]string, body io.ReadCloser) error {
	defer body.Close()
	if err := o.begin(status, headers); err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := o.Write(buf[:n]); werr != nil {
				return werr
			}
			o.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// fail writes err as a JSON error envelope, if nothing was written yet.
func (o *oneShot) fail(err error, format apperrors.ErrorFormat) {
	if o.used {
		return
	}
	var apiErr *apperrors.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apperrors.MapNetworkError(err)
	}
	body := apiErr.ToJSON(format)
	if o.begin(apiErr.HTTPStatus, map[string]string{"Content-Type": "application/json"}) == nil {
		_, _ = o.Write(body)
	}
}
