// Package llm provides the model configuration and client abstraction used by the content steps.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for cheap structured work: content analysis, cluster planning
	TierLite ModelTier = "lite"
	// TierStandard is for article rewriting and satellite generation
	TierStandard ModelTier = "standard"
	// TierAdvanced is for long-form article generation from scratch
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider, currently the only one wired
const ProviderGemini Provider = "gemini"

// DefaultTemperature is used for free-form article generation
const DefaultTemperature float32 = 0.7

// JSONTemperature is used whenever the model must return JSON
const JSONTemperature float32 = 0.1

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
	// Pricing is the blended USD price per 1000 tokens for each tier
	Pricing map[ModelTier]float64
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperature: DefaultTemperature,
		Pricing: map[ModelTier]float64{
			TierLite:     0.0002,
			TierStandard: 0.0015,
			TierAdvanced: 0.006,
		},
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// Cost estimates the USD cost of a call on tier that consumed tokens
func (c *Config) Cost(tier ModelTier, tokens int) float64 {
	price, ok := c.Pricing[tier]
	if !ok {
		price = c.Pricing[TierStandard]
	}
	return float64(tokens) / 1000 * price
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider:    c.Provider,
		Models:      make(map[ModelTier]string, len(c.Models)+1),
		Temperature: c.Temperature,
		Pricing:     make(map[ModelTier]float64, len(c.Pricing)),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	for k, v := range c.Pricing {
		newConfig.Pricing[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
