package credential

import "strings"

// Provider type tags carried by APISecret.Type.
const (
	TypeOpenAI     = "openai"
	TypeAzure      = "azure"
	TypeAnthropic  = "anthropic"
	TypeGoogle     = "google"
	TypeVertex     = "vertex"
	TypeBedrock    = "bedrock"
	TypeDatabricks = "databricks"
	TypeMistral    = "mistral"
	TypeGroq       = "groq"
	TypeTogether   = "together"
	TypeFireworks  = "fireworks"
	TypePerplexity = "perplexity"
	TypeXAI        = "xai"
	TypeCerebras   = "cerebras"
	TypeOllama     = "ollama"
	TypeLepton     = "lepton"
)

// Auth sub-types for Azure and Databricks secrets.
const (
	AuthAPIKey            = "api_key"
	AuthEntra             = "entra_api"
	AuthClientCredentials = "client_credentials"
)

// APISecret is one upstream credential. The gateway never mutates it.
type APISecret struct {
	ID      string   `yaml:"id" json:"id"`
	Type    string   `yaml:"type" json:"type"`
	Secret  string   `yaml:"secret" json:"secret"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	OrgName string   `yaml:"org_name,omitempty" json:"org_name,omitempty"`
	Tokens  []string `yaml:"tokens,omitempty" json:"-"`
	// Projects restricts the secret to these caller project ids.
	Projects []string `yaml:"projects,omitempty" json:"-"`
	Metadata Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Metadata carries provider specific addressing and auth details.
type Metadata struct {
	APIBase    string `yaml:"api_base,omitempty" json:"api_base,omitempty"`
	APIVersion string `yaml:"api_version,omitempty" json:"api_version,omitempty"`
	Deployment string `yaml:"deployment,omitempty" json:"deployment,omitempty"`
	Region     string `yaml:"region,omitempty" json:"region,omitempty"`
	Project    string `yaml:"project,omitempty" json:"project,omitempty"`

	AuthType  string `yaml:"auth_type,omitempty" json:"auth_type,omitempty"`
	ClientID  string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	TenantID  string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	TokenURL  string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	Scope     string `yaml:"scope,omitempty" json:"scope,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	// SessionToken is the optional STS token paired with a Bedrock access key.
	SessionToken string `yaml:"session_token,omitempty" json:"session_token,omitempty"`

	Models            []string          `yaml:"models,omitempty" json:"models,omitempty"`
	AdditionalHeaders map[string]string `yaml:"additional_headers,omitempty" json:"additional_headers,omitempty"`
}

// Lookup is the input to Source.GetSecrets.
type Lookup struct {
	UseCache  bool
	AuthToken string
	Model     string
	OrgName   string
	ProjectID string
}

// DisplayName is used in logs and the used-endpoint response header.
func (s APISecret) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return s.Type
}

// HasModel reports whether the secret's explicit model list contains model.
func (s APISecret) HasModel(model string) bool {
	for _, m := range s.Metadata.Models {
		if m == model || strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}
