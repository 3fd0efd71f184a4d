package models

import "strings"

// Format tags the wire format a model natively speaks.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatGoogle    Format = "google"
	FormatConverse  Format = "converse"
)

// Flavor distinguishes chat models from legacy completion models.
type Flavor string

const (
	FlavorChat       Flavor = "chat"
	FlavorCompletion Flavor = "completion"
	FlavorEmbedding  Flavor = "embedding"
)

// ModelSpec is the read-only description of one model.
type ModelSpec struct {
	Format    Format
	Flavor    Flavor
	Locations []string
	// StructuredOutput reports native json_schema support; models without it
	// get a synthetic forced tool when a schema is requested.
	StructuredOutput bool
	Reasoning        bool
}

// ValidLocation reports whether region is allowed for the model. Models
// without a location list are allowed everywhere.
func (s ModelSpec) ValidLocation(region string) bool {
	if len(s.Locations) == 0 || region == "" {
		return true
	}
	for _, l := range s.Locations {
		if strings.EqualFold(l, region) {
			return true
		}
	}
	return false
}
