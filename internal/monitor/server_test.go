package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicebridge/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readWire(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestServer_BroadcastsBusEvents(t *testing.T) {
	b := bus.New(10, testLogger())
	defer b.Close()
	s := NewServer(Config{Bus: b, Logger: testLogger()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws")
	defer conn.Close()

	if hello := readWire(t, conn); hello.Type != "status" || hello.Text != "connected" {
		t.Fatalf("expected welcome status, got %+v", hello)
	}

	b.Publish(bus.Event{Kind: bus.KindBotReply, Source: "widget", Text: "Your order shipped"})

	ev := readWire(t, conn)
	if ev.Type != "event" || ev.Kind != bus.KindBotReply || ev.Text != "Your order shipped" {
		t.Fatalf("unexpected broadcast: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("broadcast must carry the event timestamp")
	}
}

func TestServer_AcceptsClientTranscripts(t *testing.T) {
	var mu sync.Mutex
	var transcripts []string
	s := NewServer(Config{
		OnTranscript: func(text string) {
			mu.Lock()
			transcripts = append(transcripts, text)
			mu.Unlock()
		},
		Logger: testLogger(),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws")
	defer conn.Close()
	readWire(t, conn) // welcome

	payload := `{"type":"transcript","text":"what are your opening hours"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Garbage and unknown types are ignored, not fatal.
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(transcripts)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transcripts) != 1 || transcripts[0] != "what are your opening hours" {
		t.Fatalf("unexpected transcripts: %v", transcripts)
	}
}

func TestServer_AcceptsClientAudioClips(t *testing.T) {
	type clip struct {
		data   []byte
		format string
	}
	received := make(chan clip, 1)
	s := NewServer(Config{
		OnAudio: func(data []byte, format string) {
			received <- clip{data: data, format: format}
		},
		Logger: testLogger(),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws")
	defer conn.Close()
	readWire(t, conn) // welcome

	// JSON []byte is base64 on the wire; "b2dnLWJ5dGVz" is "ogg-bytes".
	payload := `{"type":"audio","audio":"b2dnLWJ5dGVz","format":"ogg"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Empty clips are ignored.
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","format":"wav"}`))

	select {
	case got := <-received:
		if string(got.data) != "ogg-bytes" || got.format != "ogg" {
			t.Fatalf("unexpected clip: %q format %q", got.data, got.format)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio clip never reached the handler")
	}

	select {
	case got := <-received:
		t.Fatalf("empty clip must be ignored, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer(Config{Logger: testLogger()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", body)
	}
}

func TestServer_MetricsEndpointToggle(t *testing.T) {
	off := httptest.NewServer(NewServer(Config{Logger: testLogger()}).Handler())
	defer off.Close()
	resp, err := http.Get(off.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics must be absent when disabled, got %d", resp.StatusCode)
	}

	on := httptest.NewServer(NewServer(Config{EnableMetrics: true, Logger: testLogger()}).Handler())
	defer on.Close()
	resp, err = http.Get(on.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "voicebridge_uptime_seconds") {
		t.Fatalf("expected exposition output, got %s", body)
	}
}
