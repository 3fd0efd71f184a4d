package errors

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// MapNetworkError converts a transport failure into a gateway error.
func MapNetworkError(err error) *APIError {
	if err == nil {
		return nil
	}
	var api *APIError
	if stderrors.As(err, &api) {
		return api
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return New(499, "client_closed_request", "request_cancelled", "client closed request")
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(http.StatusGatewayTimeout, "timeout", "timeout_error", "upstream request timed out")
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return New(http.StatusGatewayTimeout, "timeout", "timeout_error", "upstream request timed out")
	}
	var ue *url.Error
	if stderrors.As(err, &ue) && strings.Contains(ue.Error(), "no such host") {
		return New(http.StatusBadGateway, "dns_error", "connection_error", "upstream host could not be resolved")
	}
	return New(http.StatusBadGateway, "network_error", "connection_error", err.Error())
}
