package launch

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gliderlab/webpilot/pkg/config"
	"github.com/gliderlab/webpilot/pkg/kv"
)

func memoryCache(t *testing.T) *kv.KV {
	t.Helper()
	cache, err := kv.Open(kv.Options{MemoryMode: true})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestReadCDPMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "DevToolsActivePort")

	if err := os.WriteFile(path, []byte("9222\n/devtools/browser/abc-123\n"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	endpoint, err := ReadCDPMarker(path)
	if err != nil {
		t.Fatalf("ReadCDPMarker failed: %v", err)
	}
	want := "ws://127.0.0.1:9222/devtools/browser/abc-123"
	if endpoint != want {
		t.Errorf("Expected %q, got %q", want, endpoint)
	}
}

func TestReadCDPMarkerIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "DevToolsActivePort")

	// Browsers write the port line first; a reader can race the second line.
	if err := os.WriteFile(path, []byte("9222\n"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if _, err := ReadCDPMarker(path); err == nil {
		t.Error("Expected error for missing path line")
	}

	if err := os.WriteFile(path, []byte("notaport\n/devtools/browser/x\n"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if _, err := ReadCDPMarker(path); err == nil {
		t.Error("Expected error for non-numeric port")
	}

	if _, err := ReadCDPMarker(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestReadBiDiMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "WebDriverBiDiServer.json")

	if err := os.WriteFile(path, []byte(`{"ws_host":"127.0.0.1","ws_port":9223}`), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	endpoint, err := ReadBiDiMarker(path)
	if err != nil {
		t.Fatalf("ReadBiDiMarker failed: %v", err)
	}
	want := "ws://127.0.0.1:9223/session"
	if endpoint != want {
		t.Errorf("Expected %q, got %q", want, endpoint)
	}
}

func TestReadBiDiMarkerInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "WebDriverBiDiServer.json")

	if err := os.WriteFile(path, []byte(`{"ws_host":"","ws_port":0}`), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if _, err := ReadBiDiMarker(path); err == nil {
		t.Error("Expected error for empty marker fields")
	}

	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if _, err := ReadBiDiMarker(path); err == nil {
		t.Error("Expected error for malformed json")
	}
}

func TestBuildArgsChrome(t *testing.T) {
	cfg := config.DefaultLaunchConfig()
	cfg.Headless = true
	cfg.NoSandbox = true
	cfg.StartupURL = "https://example.com"
	cfg.ExtraArgs = `--lang=en-US --window-size="1280,800"`

	args, err := buildArgs(cfg, "/tmp/profile")
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}

	has := func(want string) bool {
		for _, a := range args {
			if a == want {
				return true
			}
		}
		return false
	}
	for _, want := range []string{
		"--user-data-dir=/tmp/profile",
		"--headless=new",
		"--no-sandbox",
		"--lang=en-US",
		"--window-size=1280,800",
	} {
		if !has(want) {
			t.Errorf("Expected arg %q in %v", want, args)
		}
	}
	if args[len(args)-1] != "https://example.com" {
		t.Errorf("Expected startup url last, got %v", args)
	}
}

func TestBuildArgsFirefox(t *testing.T) {
	cfg := config.DefaultLaunchConfig()
	cfg.Protocol = "bidi"
	cfg.Headless = true

	args, err := buildArgs(cfg, "/tmp/ffprofile")
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}

	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	for _, want := range []string{"--profile", "/tmp/ffprofile", "--no-remote", "--headless"} {
		found := false
		for _, a := range args {
			if a == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected arg %q in %q", want, joined)
		}
	}
}

func TestBuildArgsBadExtra(t *testing.T) {
	cfg := config.DefaultLaunchConfig()
	cfg.ExtraArgs = `--flag="unterminated`

	if _, err := buildArgs(cfg, "/tmp/p"); !errors.Is(err, ErrLaunch) {
		t.Errorf("Expected ErrLaunch for unterminated quoting, got %v", err)
	}
}

func TestStartFailsFastOnProcessExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/true")
	}

	cfg := config.DefaultLaunchConfig()
	cfg.Protocol = "bidi"
	cfg.ExecutablePath = "/bin/true"
	cfg.UserDataDir = t.TempDir()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollTimeout = 10 * time.Second

	start := time.Now()
	_, err := Start(cfg, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Expected ErrLaunch, got %v", err)
	}
	if !strings.Contains(err.Error(), "process exited") {
		t.Errorf("Expected a process-exited failure, got %v", err)
	}
	// Failing via the poll timeout here means the exit was never noticed.
	if elapsed > 5*time.Second {
		t.Errorf("Expected fast failure, took %s", elapsed)
	}
}

func TestStartReusesCachedEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	dir := t.TempDir()
	endpoint := "ws://" + ln.Addr().String() + "/devtools/browser/abc"
	cache := memoryCache(t)
	if err := cache.SetEndpoint(dir, endpoint); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	cfg := config.DefaultLaunchConfig()
	cfg.UserDataDir = dir
	cfg.ExecutablePath = "/nonexistent/browser"

	b, err := Start(cfg, cache)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if b.Endpoint != endpoint {
		t.Errorf("Expected cached endpoint %q, got %q", endpoint, b.Endpoint)
	}
	if b.Running() {
		t.Error("Expected no process behind a reused endpoint")
	}
	b.Stop()
}

func TestStartEvictsDeadCachedEndpoint(t *testing.T) {
	dir := t.TempDir()
	cache := memoryCache(t)
	// Port 1 refuses connections; the cached endpoint is stale.
	if err := cache.SetEndpoint(dir, "ws://127.0.0.1:1/devtools/browser/gone"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	cfg := config.DefaultLaunchConfig()
	cfg.UserDataDir = dir
	cfg.ExecutablePath = filepath.Join(t.TempDir(), "missing-browser")

	if _, err := Start(cfg, cache); !errors.Is(err, ErrLaunch) {
		t.Fatalf("Expected ErrLaunch past the stale endpoint, got %v", err)
	}
	if _, ok := cache.GetEndpoint(dir); ok {
		t.Error("Expected stale endpoint evicted from the cache")
	}
}
