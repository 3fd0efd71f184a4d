package errors

import (
	"encoding/json"
	"net/http"
)

// ToJSON renders the error in the requested envelope; unknown formats fall
// back to OpenAI.
func (e *APIError) ToJSON(format ErrorFormat) []byte {
	var (
		b   []byte
		err error
	)
	switch format {
	case FormatAnthropic:
		obj := AnthropicError{Type: "error"}
		obj.Error.Type = anthropicType(e.HTTPStatus)
		obj.Error.Message = e.Message
		b, err = json.Marshal(obj)
	case FormatGoogle:
		obj := GoogleError{}
		obj.Error.Code = e.HTTPStatus
		obj.Error.Message = e.Message
		obj.Error.Status = googleStatus(e.HTTPStatus)
		obj.Error.Details = e.Details
		b, err = json.Marshal(obj)
	default:
		obj := OpenAIError{}
		obj.Error.Message = e.Message
		obj.Error.Type = e.Type
		obj.Error.Code = e.Code
		obj.Error.Details = e.Details
		b, err = json.Marshal(obj)
	}
	if err != nil {
		return []byte(`{"error":{"message":"internal error","type":"server_error"}}`)
	}
	return b
}

func googleStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func anthropicType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case 529, http.StatusServiceUnavailable:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// New builds an APIError.
func New(httpStatus int, code, errType, message string) *APIError {
	return &APIError{HTTPStatus: httpStatus, Code: code, Type: errType, Message: message}
}

// WithDetails attaches structured details.
func (e *APIError) WithDetails(details map[string]interface{}) *APIError {
	e.Details = details
	return e
}

// BadRequest is the common client-error constructor.
func BadRequest(message string) *APIError {
	return New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error", message)
}

// Unauthorized is returned when the caller supplied no usable token.
func Unauthorized(message string) *APIError {
	return New(http.StatusUnauthorized, "invalid_api_key", "authentication_error", message)
}
