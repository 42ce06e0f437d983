package browser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SelectorSet describes one chat widget: where to find it and which DOM
// nodes carry the conversation.
type SelectorSet struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	Container  string `yaml:"container"`   // widget subtree root; observation scope
	Input      string `yaml:"input"`       // user message input field
	Submit     string `yaml:"submit"`      // send button
	Response   string `yaml:"response"`    // candidate message nodes
	Typing     string `yaml:"typing"`      // typing/loading indicator
	UserMarker string `yaml:"user_marker"` // marks user-authored nodes; optional
}

// Validate checks the selectors a profile must carry. The URL may be left
// empty in a profile file and filled in from config at resolve time.
func (s SelectorSet) Validate() error {
	if s.Container == "" {
		return fmt.Errorf("selector profile %q: container is required", s.Name)
	}
	if s.Response == "" {
		return fmt.Errorf("selector profile %q: response is required", s.Name)
	}
	return nil
}

// DefaultProfile targets a generic embedded chat widget. Overridable per
// vendor with a YAML profile.
func DefaultProfile() SelectorSet {
	return SelectorSet{
		Name:       "generic",
		Container:  ".chat-widget",
		Input:      ".chat-widget textarea, .chat-widget input[type=text]",
		Submit:     ".chat-widget button[type=submit]",
		Response:   ".chat-widget .message",
		Typing:     ".chat-widget .typing-indicator",
		UserMarker: ".user, .sender-user",
	}
}

// LoadProfiles loads selector profiles from YAML files in a directory.
// Files must have a .yaml or .yml extension and conform to the SelectorSet
// schema. Malformed files are skipped with a warning.
func LoadProfiles(dir string, logger *slog.Logger) (map[string]SelectorSet, error) {
	profiles := map[string]SelectorSet{}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("profiles directory does not exist, skipping", "dir", dir)
		return profiles, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read profile file", "path", path, "err", err)
			continue
		}

		var sel SelectorSet
		if err := yaml.Unmarshal(data, &sel); err != nil {
			logger.Warn("cannot parse profile file", "path", path, "err", err)
			continue
		}
		if sel.Name == "" {
			sel.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if err := sel.Validate(); err != nil {
			logger.Warn("invalid selector profile", "path", path, "err", err)
			continue
		}

		logger.Info("loaded selector profile", "name", sel.Name, "path", path)
		profiles[sel.Name] = sel
	}

	return profiles, nil
}

// ResolveProfile returns the named profile from dir, falling back to the
// built-in default (with the given URL applied) when the name is empty or
// unknown.
func ResolveProfile(dir, name, url string, logger *slog.Logger) (SelectorSet, error) {
	if name != "" {
		profiles, err := LoadProfiles(dir, logger)
		if err != nil {
			return SelectorSet{}, err
		}
		sel, ok := profiles[name]
		if !ok {
			return SelectorSet{}, fmt.Errorf("unknown selector profile %q", name)
		}
		if sel.URL == "" {
			sel.URL = url
		}
		if sel.URL == "" {
			return SelectorSet{}, fmt.Errorf("selector profile %q: no url in profile or config", name)
		}
		return sel, nil
	}

	sel := DefaultProfile()
	sel.URL = url
	if sel.URL == "" {
		return SelectorSet{}, fmt.Errorf("widget url is required")
	}
	return sel, nil
}
