package transcribe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/fmueller/voxkey/internal/validation"
)

const (
	TypeRemote = "remote"
	TypeLocal  = "local"

	GroqURL          = "https://api.groq.com/openai/v1/audio/transcriptions"
	DefaultRemote    = "whisper-large-v3"
	DefaultTimeout   = 30 * time.Second
	defaultLocalName = "local"
)

// ProviderConfig is an immutable provider description. Remote providers
// need URL and APIKey; local providers only a model id.
type ProviderConfig struct {
	Name    string        `mapstructure:"name" validate:"required"`
	Type    string        `mapstructure:"type" validate:"required,oneof=remote local"`
	URL     string        `mapstructure:"url" validate:"required_if=Type remote,omitempty,url"`
	APIKey  string        `mapstructure:"api_key" validate:"required_if=Type remote"`
	Model   string        `mapstructure:"model" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

func (c ProviderConfig) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("provider %q: %w", c.Name, err)
	}
	return nil
}

// ToMap renders the config in the shape config files use. Empty optional
// fields are left out.
func (c ProviderConfig) ToMap() map[string]any {
	m := map[string]any{
		"name":  c.Name,
		"type":  c.Type,
		"model": c.Model,
	}
	if c.URL != "" {
		m["url"] = c.URL
	}
	if c.APIKey != "" {
		m["api_key"] = c.APIKey
	}
	if c.Timeout > 0 {
		m["timeout"] = c.Timeout.String()
	}
	return m
}

// ParseProviderConfig decodes a config map as read from a file or from
// ToMap. name fills in when the map has none, as with keyed provider tables.
func ParseProviderConfig(name string, raw map[string]any) (ProviderConfig, error) {
	cfg := ProviderConfig{Name: name}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return ProviderConfig{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return ProviderConfig{}, fmt.Errorf("decode provider %q: %w", name, err)
	}

	if cfg.Type == "" {
		cfg.Type = TypeRemote
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

func (c ProviderConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToMap())
}

func (c *ProviderConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseProviderConfig(c.Name, raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DefaultProviders are the entries every installation starts with.
func DefaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"groq": {
			Name:    "groq",
			Type:    TypeRemote,
			URL:     GroqURL,
			Model:   DefaultRemote,
			Timeout: DefaultTimeout,
		},
		defaultLocalName: {
			Name:  defaultLocalName,
			Type:  TypeLocal,
			Model: "base",
		},
	}
}
