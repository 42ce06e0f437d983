package browser

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	good := `
name: acme
url: https://shop.example.com
container: "#acme-chat"
input: "#acme-chat textarea"
submit: "#acme-chat .send"
response: "#acme-chat .bubble"
typing: "#acme-chat .dots"
`
	if err := os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	// Missing container: skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nurl: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadProfiles(dir, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected only the valid profile, got %v", profiles)
	}
	sel, ok := profiles["acme"]
	if !ok || sel.Container != "#acme-chat" {
		t.Fatalf("unexpected profile: %+v", sel)
	}
}

func TestLoadProfiles_MissingDirIsEmpty(t *testing.T) {
	profiles, err := LoadProfiles(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if len(profiles) != 0 {
		t.Fatalf("expected no profiles, got %v", profiles)
	}
}

func TestResolveProfile(t *testing.T) {
	dir := t.TempDir()
	profile := `
name: acme
container: "#acme-chat"
response: "#acme-chat .bubble"
url: ""
`
	// URL comes from config when the profile leaves it empty.
	if err := os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}

	sel, err := ResolveProfile(dir, "acme", "https://shop.example.com", testLogger())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sel.URL != "https://shop.example.com" {
		t.Fatalf("URL fallback not applied: %q", sel.URL)
	}

	if _, err := ResolveProfile(dir, "missing", "https://x", testLogger()); err == nil {
		t.Fatal("unknown profile name must error")
	}

	def, err := ResolveProfile(dir, "", "https://shop.example.com", testLogger())
	if err != nil {
		t.Fatalf("default resolve: %v", err)
	}
	if def.Container != DefaultProfile().Container {
		t.Fatalf("expected built-in default, got %+v", def)
	}
}
