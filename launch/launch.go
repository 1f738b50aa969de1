// Package launch starts a local browser and discovers its automation
// endpoint from the marker file the browser writes at startup: chromium
// writes DevToolsActivePort under the user-data directory, firefox writes
// WebDriverBiDiServer.json.
package launch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/gliderlab/webpilot/pkg/config"
	"github.com/gliderlab/webpilot/pkg/kv"
)

// ErrLaunch wraps every failure between starting the process and reading
// a usable endpoint out of its marker file.
var ErrLaunch = errors.New("browser launch failed")

// Browser is a launched process plus the endpoint discovered from it.
// A Browser reusing a cached endpoint has no process behind it.
type Browser struct {
	Endpoint string
	Pid      int

	cmd         *exec.Cmd
	userDataDir string
	exited      chan struct{}
}

// Start launches a browser per the config and blocks until its automation
// endpoint is known or the poll window runs out.
func Start(cfg *config.LaunchConfig, cache *kv.KV) (*Browser, error) {
	if cfg == nil {
		cfg = config.DefaultLaunchConfig()
	}

	userData := cfg.UserDataDir
	if userData == "" {
		userData = config.DefaultUserDataDir()
	}

	// A browser from an earlier run may still be serving the cached
	// endpoint for this profile; reconnecting beats spawning another.
	if cache != nil {
		if ep, ok := cache.GetEndpoint(userData); ok {
			if endpointAlive(ep) {
				log.Printf("[Launch] Reusing endpoint: %s", ep)
				return &Browser{Endpoint: ep, userDataDir: userData}, nil
			}
			_ = cache.Delete(kv.PrefixEndpoint + userData)
		}
	}

	exePath := cfg.ExecutablePath
	if exePath == "" {
		exePath = findBrowser(cfg.Protocol, cache)
		if exePath == "" {
			return nil, fmt.Errorf("%w: no browser executable found", ErrLaunch)
		}
	}

	if err := os.MkdirAll(userData, 0755); err != nil {
		return nil, fmt.Errorf("%w: user data dir: %v", ErrLaunch, err)
	}

	// Stale marker files from a previous run must not win the poll race.
	os.Remove(filepath.Join(userData, "DevToolsActivePort"))
	os.Remove(filepath.Join(userData, "WebDriverBiDiServer.json"))

	args, err := buildArgs(cfg, userData)
	if err != nil {
		return nil, err
	}

	log.Printf("[Launch] Starting: %s %v", exePath, args)
	cmd := exec.Command(exePath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrLaunch, err)
	}

	b := &Browser{Pid: cmd.Process.Pid, cmd: cmd, userDataDir: userData, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(b.exited)
	}()

	endpoint, err := b.pollEndpoint(cfg)
	if err != nil {
		b.Stop()
		return nil, err
	}
	b.Endpoint = endpoint

	if cache != nil {
		if err := cache.SetEndpoint(userData, endpoint); err != nil {
			log.Printf("[Launch] Endpoint cache write failed: %v", err)
		}
	}

	log.Printf("[Launch] Ready: pid=%d endpoint=%s", b.Pid, endpoint)
	return b, nil
}

// Stop kills the process and waits for the reaper goroutine to see it out.
func (b *Browser) Stop() {
	if b.cmd == nil || b.cmd.Process == nil {
		return
	}
	_ = b.cmd.Process.Kill()
	<-b.exited
}

// Running reports whether the process has not exited yet.
func (b *Browser) Running() bool {
	if b.cmd == nil {
		return false
	}
	select {
	case <-b.exited:
		return false
	default:
		return true
	}
}

func buildArgs(cfg *config.LaunchConfig, userData string) ([]string, error) {
	var args []string
	if cfg.Protocol == "bidi" {
		args = []string{
			"--remote-debugging-port=" + strconv.Itoa(cfg.DebugPort),
			"--profile", userData,
			"--no-remote",
		}
		if cfg.Headless {
			args = append(args, "--headless")
		}
	} else {
		args = []string{
			"--remote-debugging-port=" + strconv.Itoa(cfg.DebugPort),
			"--user-data-dir=" + userData,
			"--no-first-run", "--no-default-browser-check",
			"--disable-default-apps", "--disable-extensions",
			"--disable-background-networking", "--disable-sync",
		}
		if cfg.Headless {
			args = append(args, "--headless=new", "--disable-gpu")
		}
		if cfg.NoSandbox {
			args = append(args, "--no-sandbox", "--disable-dev-shm-usage")
		}
	}
	if cfg.ExtraArgs != "" {
		extra, err := shlex.Split(cfg.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("%w: extra args: %v", ErrLaunch, err)
		}
		args = append(args, extra...)
	}
	if cfg.StartupURL != "" {
		args = append(args, cfg.StartupURL)
	}
	return args, nil
}

// pollEndpoint waits for the marker file, checking for an early process
// exit on every round so a crashed browser fails fast instead of timing
// the whole window out.
func (b *Browser) pollEndpoint(cfg *config.LaunchConfig) (string, error) {
	deadline := time.Now().Add(cfg.PollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-b.exited:
			return "", fmt.Errorf("%w: process exited during startup", ErrLaunch)
		default:
		}
		var endpoint string
		var err error
		if cfg.Protocol == "bidi" {
			endpoint, err = ReadBiDiMarker(filepath.Join(b.userDataDir, "WebDriverBiDiServer.json"))
		} else {
			endpoint, err = ReadCDPMarker(filepath.Join(b.userDataDir, "DevToolsActivePort"))
			if err != nil {
				// The marker can lag the listener; /json/version answers as
				// soon as the debug port is up.
				if ep, verr := queryVersion(cfg.DebugPort); verr == nil {
					endpoint, err = ep, nil
				}
			}
		}
		if err == nil {
			return endpoint, nil
		}
		time.Sleep(cfg.PollInterval)
	}
	return "", fmt.Errorf("%w: no endpoint after %s", ErrLaunch, cfg.PollTimeout)
}

// endpointAlive checks that something still listens behind a cached
// websocket endpoint. A TCP dial is protocol-agnostic; the session
// handshake decides whether the listener actually speaks the protocol.
func endpointAlive(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", u.Host, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// queryVersion asks the debug port's HTTP surface for the browser-level
// websocket endpoint.
func queryVersion(port int) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in version reply")
	}
	return info.WebSocketDebuggerURL, nil
}

// ReadCDPMarker parses a DevToolsActivePort file: the port on line one,
// the websocket path on line two.
func ReadCDPMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return "", fmt.Errorf("marker file incomplete")
	}
	port, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || port <= 0 {
		return "", fmt.Errorf("bad port line %q", lines[0])
	}
	wsPath := strings.TrimSpace(lines[1])
	if !strings.HasPrefix(wsPath, "/") {
		return "", fmt.Errorf("bad path line %q", wsPath)
	}
	return fmt.Sprintf("ws://127.0.0.1:%d%s", port, wsPath), nil
}

// ReadBiDiMarker parses a WebDriverBiDiServer.json file with ws_host and
// ws_port fields.
func ReadBiDiMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var marker struct {
		Host string `json:"ws_host"`
		Port int    `json:"ws_port"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return "", fmt.Errorf("bad marker file: %w", err)
	}
	if marker.Host == "" || marker.Port <= 0 {
		return "", fmt.Errorf("marker file incomplete")
	}
	return fmt.Sprintf("ws://%s:%d/session", marker.Host, marker.Port), nil
}

// findBrowser probes known install locations, consulting the discovery
// cache first and PATH last.
func findBrowser(protocol string, cache *kv.KV) string {
	if cache != nil {
		if path, ok := cache.GetBrowserPath(protocol); ok {
			if _, err := os.Stat(path); err == nil {
				return path
			}
			_ = cache.Delete(kv.PrefixBrowser + protocol)
		}
	}
	for _, exe := range browserExecutables(protocol) {
		if _, err := os.Stat(exe); err == nil {
			log.Printf("[Launch] Found: %s", exe)
			if cache != nil {
				_ = cache.SetBrowserPath(protocol, exe)
			}
			return exe
		}
	}
	var cmds []string
	if protocol == "bidi" {
		cmds = []string{"firefox", "firefox-esr"}
	} else {
		cmds = []string{"google-chrome", "chromium", "chromium-browser", "brave", "brave-browser", "microsoft-edge"}
	}
	for _, cmd := range cmds {
		if out, err := exec.Command("which", cmd).Output(); err == nil {
			if path := strings.TrimSpace(string(out)); path != "" {
				if cache != nil {
					_ = cache.SetBrowserPath(protocol, path)
				}
				return path
			}
		}
	}
	return ""
}

func browserExecutables(protocol string) []string {
	if protocol == "bidi" {
		switch runtime.GOOS {
		case "darwin":
			return []string{"/Applications/Firefox.app/Contents/MacOS/firefox"}
		case "windows":
			return []string{"C:\\Program Files\\Mozilla Firefox\\firefox.exe"}
		default:
			return []string{"/usr/bin/firefox", "/usr/bin/firefox-esr", "/snap/bin/firefox"}
		}
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
			"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
			"C:\\Program Files\\BraveSoftware\\Brave-Browser\\Application\\brave.exe",
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/brave",
			"/usr/bin/brave-browser",
			"/usr/bin/microsoft-edge",
		}
	}
}
