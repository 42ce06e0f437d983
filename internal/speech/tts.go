package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"voicebridge/internal/domain"
)

// SynthesizerConfig configures the text-to-speech client.
type SynthesizerConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g., "tts-1" (OpenAI)
	Voice    string // e.g., "alloy" (OpenAI) or a voice ID (ElevenLabs)
	Logger   *slog.Logger
}

// Synthesizer converts bot-message text into speech audio (MP3).
type Synthesizer struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	client   *http.Client
	logger   *slog.Logger
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIBase == "" {
		switch cfg.Provider {
		case "elevenlabs":
			cfg.APIBase = "https://api.elevenlabs.io/v1"
		default:
			cfg.APIBase = "https://api.openai.com/v1"
		}
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{
		provider: cfg.Provider,
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Synthesize converts text to speech audio. The caller owns the returned
// reader. Without an API key the capability is unavailable and
// ErrUnsupportedCapability is returned.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("text-to-speech: %w", domain.ErrUnsupportedCapability)
	}
	switch s.provider {
	case "openai":
		return s.synthesizeOpenAI(ctx, text)
	case "elevenlabs":
		return s.synthesizeElevenLabs(ctx, text)
	default:
		return nil, fmt.Errorf("text-to-speech provider %q: %w", s.provider, domain.ErrUnsupportedCapability)
	}
}

func (s *Synthesizer) synthesizeOpenAI(ctx context.Context, text string) (io.ReadCloser, error) {
	body := fmt.Sprintf(`{"model":"%s","input":"%s","voice":"%s"}`,
		s.model, escapeJSON(text), s.voice)

	url := s.apiBase + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.RemoteError{Status: resp.StatusCode, Reason: string(respBody)}
	}
	return resp.Body, nil
}

func (s *Synthesizer) synthesizeElevenLabs(ctx context.Context, text string) (io.ReadCloser, error) {
	voiceID := s.voice
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // default ElevenLabs voice
	}

	body := fmt.Sprintf(`{"text":"%s","model_id":"eleven_monolingual_v1"}`, escapeJSON(text))

	url := fmt.Sprintf("%s/text-to-speech/%s", s.apiBase, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.RemoteError{Status: resp.StatusCode, Reason: string(respBody)}
	}
	return resp.Body, nil
}

func escapeJSON(s string) string {
	var buf bytes.Buffer
	for _, c := range s {
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteRune(c)
		}
	}
	return buf.String()
}
