package errors

import "fmt"

// ErrorFormat represents the target error envelope.
type ErrorFormat string

const (
	FormatOpenAI    ErrorFormat = "openai"
	FormatAnthropic ErrorFormat = "anthropic"
	FormatGoogle    ErrorFormat = "google"
)

// APIError is the gateway's client-facing error.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Type       string
	Details    map[string]interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.HTTPStatus, e.Code, e.Message)
}

// OpenAIError mirrors OpenAI's error envelope.
type OpenAIError struct {
	Error struct {
		Message string                 `json:"message"`
		Type    string                 `json:"type"`
		Code    string                 `json:"code,omitempty"`
		Param   string                 `json:"param,omitempty"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// AnthropicError mirrors Anthropic's error envelope.
type AnthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GoogleError mirrors the Google API error envelope.
type GoogleError struct {
	Error struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Status  string                 `json:"status"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// StatusCode lets the failover engine treat an APIError as an HTTP outcome.
func (e *APIError) StatusCode() int { return e.HTTPStatus }

// ResponseBody renders the OpenAI envelope for callers that replay the
// error as an HTTP response.
func (e *APIError) ResponseBody() []byte { return e.ToJSON(FormatOpenAI) }
