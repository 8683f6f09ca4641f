package bedrock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsRegionAndModelWhenUnset(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", p.defaultModel)
}

func TestNew_HonorsExplicitModelAndStaticCredentials(t *testing.T) {
	p, err := New(context.Background(), Config{
		Region:          "us-west-2",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		DefaultModel:    "anthropic.claude-3-haiku-20240307-v1:0",
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", p.defaultModel)
}

func TestProvider_Name(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "bedrock", p.Name())
}
