package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voicebridge/internal/domain"
)

func TestTranscriber_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer whisper-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-large-v3" {
			t.Errorf("model = %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "fake-ogg-bytes" {
			t.Errorf("audio payload = %q", data)
		}
		io.WriteString(w, `{"text":"where is my order","language":"en","duration":2.4}`)
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{APIBase: srv.URL, APIKey: "whisper-key", Logger: testLogger()})
	result, err := tr.Transcribe(context.Background(), strings.NewReader("fake-ogg-bytes"), "clip.ogg")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "where is my order" || result.Language != "en" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTranscriber_MissingKeyIsUnsupported(t *testing.T) {
	tr := NewTranscriber(TranscriberConfig{Logger: testLogger()})
	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "clip.ogg")
	if !errors.Is(err, domain.ErrUnsupportedCapability) {
		t.Fatalf("expected ErrUnsupportedCapability, got %v", err)
	}
}

func TestTranscriber_RemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{APIBase: srv.URL, APIKey: "k", Logger: testLogger()})
	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "clip.ogg")
	var remote *domain.RemoteError
	if !errors.As(err, &remote) || remote.Status != http.StatusTooManyRequests {
		t.Fatalf("expected RemoteError 429, got %v", err)
	}
}

func TestSynthesizer_MissingKeyIsUnsupported(t *testing.T) {
	s := NewSynthesizer(SynthesizerConfig{Logger: testLogger()})
	_, err := s.Synthesize(context.Background(), "hello")
	if !errors.Is(err, domain.ErrUnsupportedCapability) {
		t.Fatalf("expected ErrUnsupportedCapability, got %v", err)
	}
}

func TestSynthesizer_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"voice":"alloy"`) {
			t.Errorf("body missing voice: %s", body)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	s := NewSynthesizer(SynthesizerConfig{APIBase: srv.URL, APIKey: "tts-key", Logger: testLogger()})
	audio, err := s.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer audio.Close()
	data, _ := io.ReadAll(audio)
	if string(data) != "mp3-bytes" {
		t.Fatalf("unexpected audio payload %q", data)
	}
}

func TestSynthesizer_UnknownProviderIsUnsupported(t *testing.T) {
	s := NewSynthesizer(SynthesizerConfig{Provider: "festival", APIKey: "k", Logger: testLogger()})
	_, err := s.Synthesize(context.Background(), "hello")
	if !errors.Is(err, domain.ErrUnsupportedCapability) {
		t.Fatalf("expected ErrUnsupportedCapability, got %v", err)
	}
}
