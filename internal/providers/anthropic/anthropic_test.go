package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_DefaultsModelWhenUnset(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", p.defaultModel)
}

func TestNew_HonorsExplicitModelAndBaseURL(t *testing.T) {
	p, err := New(Config{APIKey: "test-key", DefaultModel: "claude-haiku-4", BaseURL: "https://example.invalid"})
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4", p.defaultModel)
}

func TestProvider_Name(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}
