// Package config loads daemon settings from defaults, a YAML file, .env
// files, the environment, and command-line overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fmueller/voxkey/internal/apperr"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/transcribe"
	"github.com/fmueller/voxkey/internal/validation"
)

const (
	EnvPrefix    = "VOXKEY"
	FileName     = "config.yaml"
	DefaultGroq  = "groq"
	groqKeyEnv   = "GROQ_API_KEY"
	providersKey = "providers"
)

type Recorder struct {
	Backend    string `mapstructure:"backend" validate:"oneof=auto pw-record arecord ffmpeg"`
	Input      string `mapstructure:"input"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=pulse alsa avfoundation dshow"`
	SampleRate int    `mapstructure:"sample_rate" validate:"gte=8000,lte=48000"`
	Channels   int    `mapstructure:"channels" validate:"gte=1,lte=2"`
	Dir        string `mapstructure:"dir"`
}

type Config struct {
	Hotkey           string        `mapstructure:"hotkey" validate:"required"`
	Backend          string        `mapstructure:"backend" validate:"oneof=auto x11 wayland darwin windows"`
	Language         string        `mapstructure:"language" validate:"required"`
	AutoType         bool          `mapstructure:"auto_type"`
	AutoEnter        bool          `mapstructure:"auto_enter"`
	TypingDelay      time.Duration `mapstructure:"typing_delay" validate:"gte=0,lte=1s"`
	Notifications    bool          `mapstructure:"notifications"`
	MinDuration      time.Duration `mapstructure:"min_duration" validate:"gte=0"`
	RejectRepetitive bool          `mapstructure:"reject_repetitive"`
	ModelDir         string        `mapstructure:"model_dir"`
	Preload          bool          `mapstructure:"preload"`
	ActiveProvider   string        `mapstructure:"active_provider" validate:"required"`
	Recorder         Recorder      `mapstructure:"recorder"`

	// Providers is keyed by provider name. It is decoded separately so
	// every entry gets its name and default type.
	Providers map[string]transcribe.ProviderConfig `mapstructure:"-"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Provider returns the named provider, or the active one for "".
func (c Config) Provider(name string) (transcribe.ProviderConfig, error) {
	if name == "" {
		name = c.ActiveProvider
	}
	p, ok := c.Providers[name]
	if !ok {
		return transcribe.ProviderConfig{}, fmt.Errorf("%w: unknown provider %q (configured: %s)", apperr.ErrInvalidArgument, name, strings.Join(c.ProviderNames(), ", "))
	}
	return p, nil
}

func (c Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type LoadOptions struct {
	// ConfigFile must exist when set. Otherwise config.yaml in the user
	// config directory is read if present.
	ConfigFile string
	// EnvFile must exist when set. Otherwise .env next to the config file
	// is loaded if present.
	EnvFile string
	// Overrides are applied last, keyed like the config file.
	Overrides map[string]any
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile, err := resolveConfigFile(opts.ConfigFile)
	if err != nil {
		return Config{}, err
	}

	envFile := opts.EnvFile
	if envFile == "" && configFile != "" {
		candidate := filepath.Join(filepath.Dir(configFile), ".env")
		if fileExists(candidate) {
			envFile = candidate
		}
	}
	if envFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("providers.groq.api_key", EnvPrefix+"_PROVIDERS_GROQ_API_KEY", groqKeyEnv); err != nil {
		return Config{}, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = configFile

	// AllSettings resolves each leaf across all sources.
	rawProviders, _ := v.AllSettings()[providersKey].(map[string]any)
	providers, err := decodeProviders(rawProviders)
	if err != nil {
		return Config{}, err
	}
	cfg.Providers = providers

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and that the active provider exists. Each
// provider is validated when it is built.
func (c Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, ok := c.Providers[c.ActiveProvider]; !ok {
		return fmt.Errorf("config: %w: active_provider %q is not configured", apperr.ErrInvalidArgument, c.ActiveProvider)
	}
	if _, err := platform.ParseCombo(c.Hotkey); err != nil {
		return fmt.Errorf("config: hotkey: %w", err)
	}
	return nil
}

func decodeProviders(raw map[string]any) (map[string]transcribe.ProviderConfig, error) {
	providers := make(map[string]transcribe.ProviderConfig, len(raw))
	for name, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: provider %q must be a mapping", apperr.ErrInvalidArgument, name)
		}
		p, err := transcribe.ParseProviderConfig(name, fields)
		if err != nil {
			return nil, err
		}
		p.Name = name
		providers[name] = p
	}
	return providers, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hotkey", "ctrl_r")
	v.SetDefault("backend", "auto")
	v.SetDefault("language", "auto")
	v.SetDefault("auto_type", true)
	v.SetDefault("auto_enter", false)
	v.SetDefault("typing_delay", 12*time.Millisecond)
	v.SetDefault("notifications", true)
	v.SetDefault("min_duration", 300*time.Millisecond)
	v.SetDefault("reject_repetitive", true)
	v.SetDefault("model_dir", "")
	v.SetDefault("preload", false)
	v.SetDefault("active_provider", DefaultGroq)

	v.SetDefault("recorder.backend", "auto")
	v.SetDefault("recorder.input", "")
	v.SetDefault("recorder.format", "")
	v.SetDefault("recorder.sample_rate", 16000)
	v.SetDefault("recorder.channels", 1)
	v.SetDefault("recorder.dir", "")

	// Defaults make the keys known to viper, so env vars like
	// VOXKEY_PROVIDERS_GROQ_API_KEY reach them.
	for name, p := range transcribe.DefaultProviders() {
		for key, value := range p.ToMap() {
			if key == "name" {
				continue
			}
			v.SetDefault(providersKey+"."+name+"."+key, value)
		}
		v.SetDefault(providersKey+"."+name+".api_key", p.APIKey)
	}
}

func resolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", fmt.Errorf("config file %s: %w", explicit, os.ErrNotExist)
		}
		return explicit, nil
	}

	dir, err := platform.ResolveConfigDir()
	if err != nil {
		return "", nil
	}
	candidate := filepath.Join(dir, FileName)
	if fileExists(candidate) {
		return candidate, nil
	}
	return "", nil
}

// DefaultPath is where Load looks for the config file.
func DefaultPath() (string, error) {
	dir, err := platform.ResolveConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
