package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Redacted returns a copy of the configuration with every API key masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.LLM.Fallbacks = append([]string(nil), c.LLM.Fallbacks...)
	out.Market.Tickers = append([]string(nil), c.Market.Tickers...)
	for _, k := range []*string{&out.LLM.AnthropicKey, &out.LLM.OpenAIKey, &out.LLM.GeminiKey} {
		if *k != "" {
			*k = maskKey(*k)
		}
	}
	return &out
}

// YAML renders the effective configuration, keys masked, in the config
// file format.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return data, nil
}
