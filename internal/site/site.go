// Package site holds per-site publishing catalogs: the URLs, DOM selectors
// and readiness expressions one publishing site needs. Catalogs are plain
// data loaded from TOML files; the protocol layer knows nothing about any
// specific site.
package site

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Selectors names the DOM elements the publish workflow interacts with.
type Selectors struct {
	Title         string `toml:"title"`
	Body          string `toml:"body"`
	TagsInput     string `toml:"tags_input"`
	CategoryInput string `toml:"category_input"`
	SaveDraft     string `toml:"save_draft"`
	Publish       string `toml:"publish"`
	Confirm       string `toml:"confirm"`
}

// Site is one publishing site catalog.
type Site struct {
	Name      string `toml:"name"`
	EditorURL string `toml:"editor_url"`
	// URLMatch is the substring used to find the editor tab among targets.
	URLMatch string `toml:"url_match"`
	// LoggedInExpr is a JS expression that is true once the operator has a
	// valid session on the site.
	LoggedInExpr string `toml:"logged_in_expr"`
	// EditorReadyExpr is a JS expression that is true once the editor UI is
	// interactive. Optional; the title selector is polled when empty.
	EditorReadyExpr string `toml:"editor_ready_expr"`
	// BodyFormat is "markdown" when the editor accepts raw markdown typed
	// into the body field, "html" when it wants rendered rich text.
	BodyFormat string `toml:"body_format"`
	// ConfirmOpensTab marks sites whose publish confirmation opens a new
	// tab; the workflow then waits for it via target polling.
	ConfirmOpensTab bool `toml:"confirm_opens_tab"`
	// ConfirmTabMatch is the URL substring of that new tab.
	ConfirmTabMatch string `toml:"confirm_tab_match"`
	// LoginTimeout bounds the interactive login wait, e.g. "5m".
	LoginTimeout string `toml:"login_timeout"`

	Selectors Selectors `toml:"selectors"`
}

// Default returns the built-in catalog, aimed at a stock markdown editor
// layout. Site-specific catalogs override it from TOML files.
func Default() *Site {
	return &Site{
		Name:         "default",
		EditorURL:    "https://example.com/editor/new",
		URLMatch:     "/editor",
		LoggedInExpr: `document.cookie.includes('session')`,
		BodyFormat:   "markdown",
		LoginTimeout: "5m",
		Selectors: Selectors{
			Title:     `input[name="title"]`,
			Body:      `textarea[name="body"]`,
			TagsInput: `input[name="tags"]`,
			SaveDraft: `button[data-action="save-draft"]`,
			Publish:   `button[data-action="publish"]`,
			Confirm:   `button[data-action="confirm"]`,
		},
	}
}

// Load reads a catalog from a TOML file and validates it.
func Load(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site catalog: %w", err)
	}

	var s Site
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse site catalog %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid site catalog %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks that every field the workflow depends on is present.
func (s *Site) Validate() error {
	required := []struct {
		field, value string
	}{
		{"editor_url", s.EditorURL},
		{"url_match", s.URLMatch},
		{"logged_in_expr", s.LoggedInExpr},
		{"selectors.title", s.Selectors.Title},
		{"selectors.body", s.Selectors.Body},
		{"selectors.publish", s.Selectors.Publish},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("missing required field %s", r.field)
		}
	}
	switch s.BodyFormat {
	case "", "markdown", "html":
	default:
		return fmt.Errorf("body_format must be markdown or html, got %q", s.BodyFormat)
	}
	return nil
}

// ResolveLoginTimeout parses LoginTimeout, defaulting to five minutes.
func (s *Site) ResolveLoginTimeout() time.Duration {
	if s.LoginTimeout == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(s.LoginTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
