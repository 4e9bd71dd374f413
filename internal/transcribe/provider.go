// Package transcribe turns recorded audio into text through pluggable
// providers: an OpenAI-compatible HTTP API or a local whisper.cpp server.
package transcribe

import (
	"context"
	"fmt"
	"strings"
)

// Audio is a recorded clip on disk.
type Audio interface {
	Path() string
}

// Result is one transcription. Empty Text means no speech was detected.
type Result struct {
	Text     string
	Language string
	Raw      map[string]any
}

type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio, language string) (Result, error)
	// IsAvailable reports whether the provider could serve a request now.
	// It has no side effects.
	IsAvailable(ctx context.Context) bool
}

// TranscriptionError is a provider failure. StatusCode is zero for errors
// that never reached an HTTP response.
type TranscriptionError struct {
	Provider   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *TranscriptionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", e.Provider)
	switch {
	case e.StatusCode != 0:
		fmt.Fprintf(&b, "API error %d", e.StatusCode)
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
	case e.Err != nil && e.Detail != "":
		fmt.Fprintf(&b, "%s: %v", e.Detail, e.Err)
	case e.Err != nil:
		fmt.Fprintf(&b, "%v", e.Err)
	default:
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// BlankAudioToken is what whisper.cpp emits for silence.
const BlankAudioToken = "[BLANK_AUDIO]"

// CleanText trims provider output and maps the silence marker to "".
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, BlankAudioToken) {
		return ""
	}
	return text
}

// DefaultRepetitionThreshold is the share of a single word above which
// output counts as a decoding loop.
const DefaultRepetitionThreshold = 0.7

// IsRepetitive flags whisper output like "well well well well well" that
// appears on unclear audio. Texts under five words never match.
func IsRepetitive(text string, threshold float64) bool {
	words := strings.Fields(text)
	if len(words) < 5 {
		return false
	}

	counts := make(map[string]int, len(words))
	top := 0
	for _, w := range words {
		counts[w]++
		if counts[w] > top {
			top = counts[w]
		}
	}

	return float64(top)/float64(len(words)) > threshold
}

func normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return "auto"
	}
	return language
}
