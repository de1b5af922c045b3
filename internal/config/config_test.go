package config

import (
	"os"
	"path/filepath"
	"testing"
)

// pointHome redirects the home directory so Load reads from a temp tree.
func pointHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home) // windows
	return home
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	pointHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Browser.DefaultProfile != "default" {
		t.Errorf("default profile %q", cfg.Browser.DefaultProfile)
	}
	if cfg.Browser.Headless {
		t.Error("headless defaults on; interactive login needs a window")
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	home := pointHome(t)
	dir := filepath.Join(home, ".inkpress")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	body := `{"browser": {"path": "/opt/chrome", "defaultProfile": "work", "headless": true}, "site": "/etc/inkpress/devlog.toml"}`
	if err := os.WriteFile(filepath.Join(dir, "inkpress.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Browser.Path != "/opt/chrome" {
		t.Errorf("browser path %q", cfg.Browser.Path)
	}
	if cfg.Browser.DefaultProfile != "work" {
		t.Errorf("default profile %q", cfg.Browser.DefaultProfile)
	}
	if !cfg.Browser.Headless {
		t.Error("headless flag lost")
	}
	if cfg.Site != "/etc/inkpress/devlog.toml" {
		t.Errorf("site %q", cfg.Site)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	home := pointHome(t)
	dir := filepath.Join(home, ".inkpress")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "inkpress.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted malformed JSON")
	}
}

func TestResolveProfileDir(t *testing.T) {
	cfg := &Config{Browser: BrowserConfig{ProfilesDir: "/data/profiles", DefaultProfile: "work"}}

	if got := cfg.ResolveProfileDir("personal"); got != filepath.Join("/data/profiles", "personal") {
		t.Errorf("named profile dir %q", got)
	}
	if got := cfg.ResolveProfileDir(""); got != filepath.Join("/data/profiles", "work") {
		t.Errorf("default profile dir %q", got)
	}
}

func TestResolveProfileDir_AllDefaults(t *testing.T) {
	home := pointHome(t)

	cfg := Default()
	cfg.Browser.DefaultProfile = ""
	want := filepath.Join(home, ".inkpress", "profiles", "default")
	if got := cfg.ResolveProfileDir(""); got != want {
		t.Errorf("profile dir %q, want %q", got, want)
	}
}
