package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type uploadRequest struct {
	URL       string
	Token     string
	FileField string
	Audio     Audio
	Fields    map[string]string
}

// postAudio sends one multipart upload and decodes the JSON reply. Non-2xx
// answers become a TranscriptionError with the body as detail.
func postAudio(ctx context.Context, client *http.Client, provider string, req uploadRequest) (map[string]any, error) {
	if req.Audio == nil || strings.TrimSpace(req.Audio.Path()) == "" {
		return nil, &TranscriptionError{Provider: provider, Detail: "audio path is required"}
	}

	f, err := os.Open(req.Audio.Path())
	if err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "read audio", Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(req.FileField, "audio"+filepath.Ext(req.Audio.Path()))
	if err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "create form file", Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "write audio data", Err: err}
	}
	for key, value := range req.Fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, &TranscriptionError{Provider: provider, Detail: "write form field", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "close form", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, &buf)
	if err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "network error", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TranscriptionError{Provider: provider, StatusCode: resp.StatusCode, Detail: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TranscriptionError{Provider: provider, StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &TranscriptionError{Provider: provider, Detail: "malformed response", Err: fmt.Errorf("%w: %.200s", err, body)}
	}
	return decoded, nil
}

func resultFrom(raw map[string]any, language string) Result {
	text, _ := raw["text"].(string)
	if detected, ok := raw["language"].(string); ok && detected != "" && language == "auto" {
		language = detected
	}
	return Result{Text: strings.TrimSpace(text), Language: language, Raw: raw}
}
