package cdp

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	. "github.com/inkpress/inkpress/internal/logging"
)

// BrowserEnv names the environment variable that overrides browser
// executable discovery.
const BrowserEnv = "INKPRESS_CHROME"

// Vars so tests can shrink the launch budget.
var (
	debugReadyTimeout   = 30 * time.Second
	debugPollInterval   = 200 * time.Millisecond
	metadataHTTPTimeout = 2 * time.Second
)

// browserCandidates lists installation paths probed per platform, in order.
var browserCandidates = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"linux": {
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

// pathFallbacks are looked up on $PATH when no candidate path exists.
var pathFallbacks = []string{"google-chrome", "chromium", "chromium-browser"}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	// ProfileDir persists cookies and session state between runs. Created if
	// absent. Required.
	ProfileDir string
	// StartURL, when set, is opened in the initial tab.
	StartURL string
	// BrowserPath overrides executable discovery. The INKPRESS_CHROME
	// environment variable is consulted next, then the platform candidates.
	BrowserPath string
	// Headless runs the browser without a window. Interactive logins need
	// this off.
	Headless bool
	// ExtraArgs are appended to the browser command line.
	ExtraArgs []string
}

// BrowserProcess is the spawned browser. The launcher's caller owns it and
// must Kill it on every exit path, together with closing the Conn.
type BrowserProcess struct {
	cmd        *exec.Cmd
	Port       int
	ProfileDir string
}

// Pid returns the OS process id.
func (p *BrowserProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Kill terminates the browser process. Best effort: a failure is logged and
// ignored, since the process may already have exited.
func (p *BrowserProcess) Kill() {
	if err := p.cmd.Process.Kill(); err != nil {
		L_debug("launch: kill browser", "pid", p.cmd.Process.Pid, "error", err)
	} else {
		L_debug("launch: browser killed", "pid", p.cmd.Process.Pid)
	}
}

// Launch resolves a browser executable, spawns it with remote debugging on a
// free port against the given profile directory, waits for the debug
// endpoint to publish its websocket address, and connects. The Conn and
// process are returned together so the caller can guarantee joint cleanup.
func Launch(opts LaunchOptions) (*Conn, *BrowserProcess, error) {
	path, err := resolveBrowser(opts.BrowserPath)
	if err != nil {
		return nil, nil, err
	}

	if opts.ProfileDir == "" {
		return nil, nil, fmt.Errorf("launch: profile directory is required")
	}
	if err := os.MkdirAll(opts.ProfileDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	cleanupStaleLocks(opts.ProfileDir)

	port, err := freePort()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate debug port: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", opts.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
		"--disable-background-networking",
		"--disable-sync",
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	} else {
		// A headed window gets the full desktop layout, not the tiny default.
		args = append(args, "--window-size=1920,1080")
	}
	args = append(args, opts.ExtraArgs...)
	if opts.StartURL != "" {
		args = append(args, opts.StartURL)
	}

	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	// Fire and forget; reap in the background so the child never zombies.
	go func() { _ = cmd.Wait() }()

	proc := &BrowserProcess{cmd: cmd, Port: port, ProfileDir: opts.ProfileDir}
	L_info("launch: browser started", "path", path, "pid", proc.Pid(), "port", port, "profile", opts.ProfileDir)

	var wsURL string
	err = Poll(fmt.Sprintf("debug endpoint on port %d", port), debugReadyTimeout, debugPollInterval, func() (bool, error) {
		u, err := fetchDebuggerURL(port)
		if err != nil {
			return false, err
		}
		wsURL = u
		return true, nil
	})
	if err != nil {
		proc.Kill()
		return nil, nil, fmt.Errorf("browser debug endpoint never became ready: %w", err)
	}

	conn, err := Dial(wsURL)
	if err != nil {
		proc.Kill()
		return nil, nil, err
	}

	return conn, proc, nil
}

// resolveBrowser picks the executable: explicit override, then environment,
// then the platform candidate list, then $PATH.
func resolveBrowser(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("browser path %s: %w", override, err)
		}
		return override, nil
	}

	if env := os.Getenv(BrowserEnv); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("%s=%s: %w", BrowserEnv, env, err)
		}
		return env, nil
	}

	for _, candidate := range browserCandidates[runtime.GOOS] {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	for _, name := range pathFallbacks {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w (set %s to override)", ErrBrowserNotFound, BrowserEnv)
}

// cleanupStaleLocks removes lock files a crashed browser leaves behind.
// The browser refuses to start while they exist.
func cleanupStaleLocks(profileDir string) {
	for _, name := range []string{"SingletonLock", "SingletonCookie", "SingletonSocket"} {
		path := filepath.Join(profileDir, name)
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			L_warn("launch: failed to remove stale lock file", "file", path, "error", err)
		} else {
			L_info("launch: removed stale lock file", "file", path)
		}
	}
}

// freePort asks the kernel for an unused loopback port. The close-before-use
// race is accepted; the browser binds it immediately after.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// fetchDebuggerURL reads the browser-level websocket address from the debug
// endpoint's version metadata.
func fetchDebuggerURL(port int) (string, error) {
	client := http.Client{Timeout: metadataHTTPTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var meta struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("failed to decode version metadata: %w", err)
	}
	if meta.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("version metadata carries no websocket address")
	}
	return meta.WebSocketDebuggerURL, nil
}
