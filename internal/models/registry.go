package models

import (
	"sort"
	"strings"
)

var vertexAnthropicRegions = []string{"us-east5", "europe-west1", "asia-southeast1"}

var specs = map[string]ModelSpec{
	"gpt-4o":                 {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true},
	"gpt-4o-mini":            {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true},
	"gpt-4.1":                {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true},
	"gpt-4.1-mini":           {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true},
	"gpt-4-turbo":            {Format: FormatOpenAI, Flavor: FlavorChat},
	"gpt-3.5-turbo":          {Format: FormatOpenAI, Flavor: FlavorChat},
	"gpt-3.5-turbo-instruct": {Format: FormatOpenAI, Flavor: FlavorCompletion},
	"o1":                     {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true, Reasoning: true},
	"o3-mini":                {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true, Reasoning: true},
	"o4-mini":                {Format: FormatOpenAI, Flavor: FlavorChat, StructuredOutput: true, Reasoning: true},
	"text-embedding-3-small": {Format: FormatOpenAI, Flavor: FlavorEmbedding},
	"text-embedding-3-large": {Format: FormatOpenAI, Flavor: FlavorEmbedding},
	"text-moderation-latest": {Format: FormatOpenAI, Flavor: FlavorChat},

	"claude-3-5-sonnet-latest":   {Format: FormatAnthropic, Flavor: FlavorChat, Locations: vertexAnthropicRegions},
	"claude-3-5-haiku-latest":    {Format: FormatAnthropic, Flavor: FlavorChat, Locations: vertexAnthropicRegions},
	"claude-3-7-sonnet-latest":   {Format: FormatAnthropic, Flavor: FlavorChat, Reasoning: true, Locations: vertexAnthropicRegions},
	"claude-sonnet-4-20250514":   {Format: FormatAnthropic, Flavor: FlavorChat, Reasoning: true, Locations: vertexAnthropicRegions},
	"claude-opus-4-20250514":     {Format: FormatAnthropic, Flavor: FlavorChat, Reasoning: true, Locations: vertexAnthropicRegions},
	"claude-3-haiku-20240307":    {Format: FormatAnthropic, Flavor: FlavorChat},
	"claude-instant-1.2":         {Format: FormatAnthropic, Flavor: FlavorCompletion},
	"anthropic.claude-3-5-sonnet-20240620-v1:0": {Format: FormatAnthropic, Flavor: FlavorChat},
	"anthropic.claude-3-haiku-20240307-v1:0":    {Format: FormatAnthropic, Flavor: FlavorChat},

	"amazon.nova-pro-v1:0":            {Format: FormatConverse, Flavor: FlavorChat},
	"amazon.nova-lite-v1:0":           {Format: FormatConverse, Flavor: FlavorChat},
	"meta.llama3-1-70b-instruct-v1:0": {Format: FormatConverse, Flavor: FlavorChat},
	"mistral.mistral-large-2407-v1:0": {Format: FormatConverse, Flavor: FlavorChat},

	"gemini-1.5-pro":   {Format: FormatGoogle, Flavor: FlavorChat, StructuredOutput: true},
	"gemini-1.5-flash": {Format: FormatGoogle, Flavor: FlavorChat, StructuredOutput: true},
	"gemini-2.0-flash": {Format: FormatGoogle, Flavor: FlavorChat, StructuredOutput: true},
	"gemini-2.5-pro":   {Format: FormatGoogle, Flavor: FlavorChat, StructuredOutput: true, Reasoning: true},
	"gemini-2.5-flash": {Format: FormatGoogle, Flavor: FlavorChat, StructuredOutput: true, Reasoning: true},

	"llama-3.3-70b-versatile": {Format: FormatOpenAI, Flavor: FlavorChat},
	"mistral-large-latest":    {Format: FormatOpenAI, Flavor: FlavorChat},
	"grok-2-latest":           {Format: FormatOpenAI, Flavor: FlavorChat},
	"sonar-pro":               {Format: FormatOpenAI, Flavor: FlavorChat},
}

// providersByFormat lists the secret types able to serve a model of a given
// format when the secret carries no explicit model list.
var providersByFormat = map[Format][]string{
	FormatOpenAI:    {"openai", "azure"},
	FormatAnthropic: {"anthropic", "bedrock", "vertex"},
	FormatGoogle:    {"google", "vertex"},
	FormatConverse:  {"bedrock"},
}

// Lookup returns the spec for name. Unknown names are guessed from common
// prefixes so new vendor releases keep routing.
func Lookup(name string) (ModelSpec, bool) {
	if s, ok := specs[name]; ok {
		return s, true
	}
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "claude"), strings.HasPrefix(n, "anthropic."), strings.Contains(n, ".anthropic.claude"):
		return ModelSpec{Format: FormatAnthropic, Flavor: FlavorChat}, false
	case strings.HasPrefix(n, "gemini"), strings.HasPrefix(n, "publishers/google/"):
		return ModelSpec{Format: FormatGoogle, Flavor: FlavorChat, StructuredOutput: true}, false
	case strings.HasPrefix(n, "amazon."), strings.HasPrefix(n, "meta."), strings.HasPrefix(n, "mistral."), strings.HasPrefix(n, "cohere."):
		return ModelSpec{Format: FormatConverse, Flavor: FlavorChat}, false
	case strings.HasPrefix(n, "text-embedding"):
		return ModelSpec{Format: FormatOpenAI, Flavor: FlavorEmbedding}, false
	case strings.HasSuffix(n, "-instruct") && strings.HasPrefix(n, "gpt-"):
		return ModelSpec{Format: FormatOpenAI, Flavor: FlavorCompletion}, false
	}
	return ModelSpec{Format: FormatOpenAI, Flavor: FlavorChat}, false
}

// ProviderTypes returns the default secret types for model.
func ProviderTypes(model string) []string {
	spec, _ := Lookup(model)
	return providersByFormat[spec.Format]
}

// Known reports whether model is in the table.
func Known(model string) bool {
	_, ok := specs[model]
	return ok
}

// Names lists the models in the table, sorted.
func Names() []string {
	out := make([]string, 0, len(specs))
	for name := range specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
