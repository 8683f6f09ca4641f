package models

import "time"

// ProviderKind identifies the backend family of a configured LLM provider.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderBedrock   ProviderKind = "bedrock"
)

// ProviderDescriptor configures one entry in a provider fallback chain.
// The ordered list of descriptors is mutable only via a reload operation;
// the Provider Dispatcher treats the slice it is given as a snapshot.
type ProviderDescriptor struct {
	Kind             ProviderKind  `json:"kind"`
	Model            string        `json:"model"`
	Endpoint         string        `json:"endpoint,omitempty"`
	CredentialsHandle string       `json:"credentials_handle,omitempty"`
	Timeout          time.Duration `json:"timeout"`
	RetryBudget      int           `json:"retry_budget"`
}
