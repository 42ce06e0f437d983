// Package speech implements the voice capabilities of the overlay: cloud
// speech-to-text for user audio, text-to-speech for bot replies, a transcript
// finalizer that turns interim recognition results into committed utterances,
// and the speaker queue that voices bot messages in order.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"voicebridge/internal/domain"
)

// TranscriberConfig configures the Whisper-compatible speech-to-text client.
type TranscriberConfig struct {
	APIBase  string // e.g., "https://api.groq.com/openai/v1" or "https://api.openai.com/v1"
	APIKey   string
	Model    string // e.g., "whisper-large-v3" (Groq) or "whisper-1" (OpenAI)
	Language string // optional: ISO-639-1 language code
	Logger   *slog.Logger
}

// Transcriber converts captured audio into text through an OpenAI-compatible
// Whisper endpoint.
type Transcriber struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transcriber{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Transcription is the recognized text for one audio clip.
type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe converts audio to text. filename must carry the container
// extension (e.g. "clip.ogg"). Without an API key the capability is
// unavailable and ErrUnsupportedCapability is returned.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcription, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("speech-to-text: %w", domain.ErrUnsupportedCapability)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", t.model)
	writer.WriteField("response_format", "json")
	if t.language != "" {
		writer.WriteField("language", t.language)
	}
	writer.Close()

	url := t.apiBase + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &domain.RemoteError{Status: resp.StatusCode, Reason: string(respBody)}
	}

	var result Transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	t.logger.Info("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)
	return &result, nil
}
