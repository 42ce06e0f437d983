package directline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"voicebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFetchActivities_DecodesLog(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"activities": [
				{"id":"1|0000","type":"message","text":"hello","from":{"role":"bot"}},
				{"id":"1|0001","type":"typing","from":{"role":"bot"}}
			],
			"watermark": "2"
		}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()})
	set, err := c.FetchActivities(context.Background(), "conv-1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotPath != "/conversations/conv-1/activities" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(set.Activities) != 2 || set.Watermark != "2" {
		t.Fatalf("unexpected activity set: %+v", set)
	}
}

func TestFetchActivities_EmptyCredentials(t *testing.T) {
	c := NewClient(ClientConfig{Logger: testLogger()})
	for _, creds := range [][2]string{{"", "tok"}, {"conv", ""}, {"  ", "tok"}} {
		_, err := c.FetchActivities(context.Background(), creds[0], creds[1])
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("creds %v: expected ErrInvalidCredentials, got %v", creds, err)
		}
	}
}

func TestFetchActivities_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusUnauthorized, "", "unauthorized"},
		{http.StatusForbidden, "", "forbidden"},
		{http.StatusNotFound, "", "conversation not found"},
		{http.StatusBadGateway, "upstream unavailable", "upstream unavailable"},
		{http.StatusInternalServerError, "", "status 500"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		}))
		c := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()})
		_, err := c.FetchActivities(context.Background(), "conv", "tok")
		srv.Close()

		var remote *domain.RemoteError
		if !errors.As(err, &remote) {
			t.Fatalf("status %d: expected RemoteError, got %v", tc.status, err)
		}
		if remote.Status != tc.status {
			t.Fatalf("status %d: RemoteError carries %d", tc.status, remote.Status)
		}
		if !strings.Contains(remote.Reason, tc.want) {
			t.Fatalf("status %d: reason %q does not contain %q", tc.status, remote.Reason, tc.want)
		}
	}
}

func TestFetchActivities_NetworkFailure(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Logger: testLogger()})
	_, err := c.FetchActivities(context.Background(), "conv", "tok")
	var remote *domain.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError for network failure, got %v", err)
	}
}
