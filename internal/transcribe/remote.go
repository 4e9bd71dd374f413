package transcribe

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// RemoteProvider talks to any OpenAI-compatible /audio/transcriptions
// endpoint (Groq, OpenAI, and others). It never retries.
type RemoteProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger *zap.Logger
}

func NewRemoteProvider(cfg ProviderConfig, deps Deps) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	// Copy so the per-provider timeout does not leak into a shared client.
	bounded := *client
	bounded.Timeout = cfg.Timeout

	return &RemoteProvider{cfg: cfg, client: &bounded, logger: deps.Logger.Named("remote")}, nil
}

func (p *RemoteProvider) Name() string { return p.cfg.Name }

func (p *RemoteProvider) IsAvailable(context.Context) bool {
	return p.cfg.URL != "" && p.cfg.APIKey != ""
}

func (p *RemoteProvider) Transcribe(ctx context.Context, audio Audio, language string) (Result, error) {
	language = normalizeLanguage(language)

	fields := map[string]string{
		"model":           p.cfg.Model,
		"response_format": "json",
	}
	if language != "auto" {
		fields["language"] = language
	}

	p.logger.Debug("uploading audio", zap.String("provider", p.cfg.Name), zap.String("model", p.cfg.Model), zap.String("language", language))
	raw, err := postAudio(ctx, p.client, p.cfg.Name, uploadRequest{
		URL:       p.cfg.URL,
		Token:     p.cfg.APIKey,
		FileField: "file",
		Audio:     audio,
		Fields:    fields,
	})
	if err != nil {
		return Result{}, err
	}

	return resultFrom(raw, language), nil
}
