package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownAndGuessed(t *testing.T) {
	s, ok := Lookup("gpt-3.5-turbo-instruct")
	assert.True(t, ok)
	assert.Equal(t, FlavorCompletion, s.Flavor)

	s, ok = Lookup("claude-next-preview")
	assert.False(t, ok)
	assert.Equal(t, FormatAnthropic, s.Format)

	s, _ = Lookup("amazon.titan-text-express-v1")
	assert.Equal(t, FormatConverse, s.Format)

	s, _ = Lookup("some-vendor-model")
	assert.Equal(t, FormatOpenAI, s.Format)
	assert.Equal(t, FlavorChat, s.Flavor)
}

func TestProviderTypesAndLocations(t *testing.T) {
	assert.Equal(t, []string{"google", "vertex"}, ProviderTypes("gemini-2.0-flash"))
	assert.Contains(t, ProviderTypes("claude-3-5-sonnet-latest"), "bedrock")

	s, _ := Lookup("claude-3-5-sonnet-latest")
	assert.True(t, s.ValidLocation("us-east5"))
	assert.False(t, s.ValidLocation("us-central1"))
	assert.True(t, s.ValidLocation(""))
}
