package llm

import (
	"fmt"
	"log"

	"github.com/BurntSushi/toml"
)

// ModelConfig describes one selectable model.
type ModelConfig struct {
	ID                string `toml:"id"`
	Name              string `toml:"name"`
	Provider          string `toml:"provider"`
	SupportsStreaming bool   `toml:"supports_streaming"`
	SupportsReasoning bool   `toml:"supports_reasoning"`
}

// ProviderConfig describes how to reach one OpenAI-compatible provider.
type ProviderConfig struct {
	Name      string `toml:"name"`
	BaseURL   string `toml:"base_url"`
	APIKeyEnv string `toml:"api_key_env"`
}

// Catalog is the set of known providers and models.
type Catalog struct {
	Providers []ProviderConfig `toml:"providers"`
	Models    []ModelConfig    `toml:"models"`
}

// DefaultCatalog returns the built-in DeepSeek and Kimi entries.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Providers: []ProviderConfig{
			{Name: "deepseek", BaseURL: "https://api.deepseek.com", APIKeyEnv: "DEEPSEEK_API_KEY"},
			{Name: "kimi", BaseURL: "https://api.moonshot.ai/v1", APIKeyEnv: "KIMI_API_KEY"},
		},
		Models: []ModelConfig{
			{ID: "deepseek-chat", Name: "DeepSeek V3", Provider: "deepseek", SupportsStreaming: true},
			{ID: "deepseek-reasoner", Name: "DeepSeek R1", Provider: "deepseek", SupportsStreaming: true, SupportsReasoning: true},
			{ID: "kimi-k2-0711-preview", Name: "Kimi K2", Provider: "kimi", SupportsStreaming: true},
			{ID: "moonshot-v1-8k", Name: "Moonshot v1 8K", Provider: "kimi", SupportsStreaming: true},
		},
	}
}

// LoadCatalog returns the default catalog merged with the TOML file at path.
// Entries in the file replace defaults with the same name/id and append otherwise.
// An empty path yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	var file Catalog
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode model catalog %s: %w", path, err)
	}

	for _, p := range file.Providers {
		cat.upsertProvider(p)
	}
	for _, m := range file.Models {
		if m.ID == "" || m.Provider == "" {
			return nil, fmt.Errorf("model catalog %s: model entries need id and provider", path)
		}
		cat.upsertModel(m)
	}

	for _, m := range cat.Models {
		if _, ok := cat.Provider(m.Provider); !ok {
			return nil, fmt.Errorf("model catalog %s: model %q references unknown provider %q", path, m.ID, m.Provider)
		}
	}

	log.Printf("[Catalog] Loaded %d providers and %d models (file: %s)", len(cat.Providers), len(cat.Models), path)
	return cat, nil
}

// Model looks up a model by id.
func (c *Catalog) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Provider looks up a provider by name.
func (c *Catalog) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func (c *Catalog) upsertProvider(p ProviderConfig) {
	for i := range c.Providers {
		if c.Providers[i].Name == p.Name {
			if p.BaseURL != "" {
				c.Providers[i].BaseURL = p.BaseURL
			}
			if p.APIKeyEnv != "" {
				c.Providers[i].APIKeyEnv = p.APIKeyEnv
			}
			return
		}
	}
	c.Providers = append(c.Providers, p)
}

func (c *Catalog) upsertModel(m ModelConfig) {
	for i := range c.Models {
		if c.Models[i].ID == m.ID {
			c.Models[i] = m
			return
		}
	}
	c.Models = append(c.Models, m)
}

// SetBaseURL points an existing provider at a different endpoint (proxies, local gateways).
func (c *Catalog) SetBaseURL(provider, baseURL string) {
	if baseURL == "" {
		return
	}
	if _, ok := c.Provider(provider); !ok {
		log.Printf("WARN [Catalog] Ignoring base URL override for unknown provider '%s'", provider)
		return
	}
	c.upsertProvider(ProviderConfig{Name: provider, BaseURL: baseURL})
}
