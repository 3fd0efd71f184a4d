package constants

// Version is reported by /healthz and the tracing resource.
const Version = "0.4.0"

const (
	AnthropicVersion        = "2023-06-01"
	BedrockAnthropicVersion = "bedrock-2023-05-31"
	AzureDefaultAPIVersion  = "2024-10-21"
)
