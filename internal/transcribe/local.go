package transcribe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// LocalProvider transcribes through the whisper.cpp server that the model
// manager keeps running. Each call first makes sure the configured model
// is the loaded one.
type LocalProvider struct {
	cfg    ProviderConfig
	models ModelEnsurer
	client *http.Client
	logger *zap.Logger
}

func NewLocalProvider(cfg ProviderConfig, deps Deps) (Provider, error) {
	if deps.Models == nil {
		return nil, errors.New("local provider requires a model manager")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	bounded := *client
	bounded.Timeout = cfg.Timeout

	return &LocalProvider{cfg: cfg, models: deps.Models, client: &bounded, logger: deps.Logger.Named("local")}, nil
}

func (p *LocalProvider) Name() string { return p.cfg.Name }

// IsAvailable is true when the model server answers its health probe. It
// never loads a model.
func (p *LocalProvider) IsAvailable(ctx context.Context) bool {
	state := p.models.Current()
	if !state.Alive || state.Model != p.cfg.Model || state.Endpoint == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Preload starts the server for the configured model without sending
// audio.
func (p *LocalProvider) Preload(ctx context.Context) error {
	_, err := p.models.Ensure(ctx, p.cfg.Model)
	return err
}

// Transcribe surfaces model load errors unchanged.
func (p *LocalProvider) Transcribe(ctx context.Context, audio Audio, language string) (Result, error) {
	language = normalizeLanguage(language)

	endpoint, err := p.models.Ensure(ctx, p.cfg.Model)
	if err != nil {
		return Result{}, err
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        language,
	}

	p.logger.Debug("sending audio to local server", zap.String("endpoint", endpoint), zap.String("model", p.cfg.Model))
	raw, err := postAudio(ctx, p.client, p.cfg.Name, uploadRequest{
		URL:       strings.TrimRight(endpoint, "/") + "/inference",
		FileField: "file",
		Audio:     audio,
		Fields:    fields,
	})
	if err != nil {
		return Result{}, err
	}

	return resultFrom(raw, language), nil
}
