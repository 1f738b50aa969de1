package main

import (
	"flag"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/gliderlab/webpilot/artifact"
	"github.com/gliderlab/webpilot/inspect"
	"github.com/gliderlab/webpilot/launch"
	"github.com/gliderlab/webpilot/pkg/config"
	"github.com/gliderlab/webpilot/pkg/kv"
	"github.com/gliderlab/webpilot/recorder"
	"github.com/gliderlab/webpilot/session"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runCmd(args)
	case "targets":
		targetsCmd(args)
	case "frames":
		framesCmd(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(envFile string) *config.EngineConfig {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			fatalf("Failed to read env file: %v", err)
		}
	}
	cfg := config.DefaultEngineConfig()
	cfg.LoadFromEnv("WEBPILOT_")
	return cfg
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	envFile := fs.String("config", "", "Path to KEY=VALUE env file")
	endpoint := fs.String("endpoint", "", "WebSocket endpoint (skips launching)")
	doLaunch := fs.Bool("launch", false, "Launch a local browser first")
	profileName := fs.String("profile", "", "Launch profile name from profiles.yaml")
	profilePath := fs.String("profiles", "profiles.yaml", "Launch profile file")
	targetURL := fs.String("url", "", "Navigate to this URL")
	wait := fs.String("wait", "complete", "Navigation readiness: none, interactive, complete")
	evalExpr := fs.String("eval", "", "Evaluate a script expression")
	selector := fs.String("selector", "", "Locate elements by CSS selector")
	clicks := fs.Int("click", 0, "Click the first located element N times")
	keys := fs.String("keys", "", "Type text into the focused element")
	frame := fs.Int("frame", 0, "Switch to the Nth iframe before acting")
	pdfPath := fs.String("pdf", "", "Print the page to this PDF file")
	record := fs.Bool("record", false, "Record frames to the flight recorder")
	inspectAddr := fs.String("inspect", "", "Serve the live frame inspector on this address")
	closeBrowser := fs.Bool("close", false, "Close the browser before exiting")
	fs.Parse(args)

	cfg := loadConfig(*envFile)
	if *closeBrowser {
		cfg.Session.ReleaseOnExit = true
	}

	ep := *endpoint
	var browser *launch.Browser
	if ep == "" || *doLaunch {
		if *profileName != "" {
			profiles, err := config.LoadProfiles(*profilePath)
			if err != nil {
				fatalf("Failed to load profiles: %v", err)
			}
			p, ok := profiles[*profileName]
			if !ok {
				fatalf("Unknown profile: %s", *profileName)
			}
			p.Apply(cfg.Launch)
		}

		var cache *kv.KV
		if cfg.Launch.CacheDir != "" {
			var err error
			cache, err = kv.Open(kv.DefaultOptions(cfg.Launch.CacheDir))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Launch cache unavailable: %v\n", err)
			} else {
				defer cache.Close()
			}
		}

		var err error
		browser, err = launch.Start(cfg.Launch, cache)
		if err != nil {
			fatalf("Launch failed: %v", err)
		}
		defer browser.Stop()
		ep = browser.Endpoint
	}

	s, err := session.Connect(ep, cfg.Session)
	if err != nil {
		fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	var rec *recorder.Recorder
	if *record || *inspectAddr != "" {
		rec, err = recorder.NewWithConfig(*cfg.Recorder)
		if err != nil {
			fatalf("Recorder failed: %v", err)
		}
		defer rec.Close()
		s.SetSink(rec)
	}

	if *inspectAddr != "" {
		cfg.Inspect.ListenAddr = *inspectAddr
		srv := inspect.NewServer(cfg.Inspect, rec)
		if err := srv.Start(); err != nil {
			fatalf("Inspector failed: %v", err)
		}
		defer srv.Stop()
	}

	if *targetURL != "" {
		if err := s.Navigate(*targetURL, *wait); err != nil {
			fatalf("Navigate failed: %v", err)
		}
		fmt.Printf("Navigated: %s\n", *targetURL)
	}

	if *frame > 0 {
		if err := s.SetActiveFrame(*frame); err != nil {
			fatalf("Frame switch failed: %v", err)
		}
		fmt.Printf("Active frame: %d\n", *frame)
	}

	if *selector != "" {
		n, err := s.LocateElements(*selector)
		if err != nil {
			fatalf("Locate failed: %v", err)
		}
		fmt.Printf("Located %d element(s): %s\n", n, *selector)
	}

	if *clicks > 0 {
		if err := s.Click(*clicks); err != nil {
			fatalf("Click failed: %v", err)
		}
		fmt.Printf("Clicked %d time(s)\n", *clicks)
	}

	if *keys != "" {
		if err := s.SendKeys(*keys); err != nil {
			fatalf("Keys failed: %v", err)
		}
		fmt.Println(typedMessage(*keys))
	}

	if *evalExpr != "" {
		result, err := s.Evaluate(*evalExpr, true)
		if err != nil {
			fatalf("Evaluate failed: %v", err)
		}
		fmt.Printf("%s\n", result)
	}

	if *pdfPath != "" {
		if err := s.Print(); err != nil {
			fatalf("Print failed: %v", err)
		}
		if err := artifact.SavePDF(s, *pdfPath); err != nil {
			fatalf("Save PDF failed: %v", err)
		}
		fmt.Printf("Saved: %s\n", *pdfPath)
	}
}

func targetsCmd(args []string) {
	fs := flag.NewFlagSet("targets", flag.ExitOnError)
	envFile := fs.String("config", "", "Path to KEY=VALUE env file")
	endpoint := fs.String("endpoint", "", "WebSocket endpoint")
	activate := fs.String("activate", "", "Switch the active target to this id")
	fs.Parse(args)

	if *endpoint == "" {
		fatalf("targets requires -endpoint")
	}

	cfg := loadConfig(*envFile)
	s, err := session.Connect(*endpoint, cfg.Session)
	if err != nil {
		fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	tabs, err := s.ListTargets()
	if err != nil {
		fatalf("List targets failed: %v", err)
	}
	for _, t := range tabs {
		indent := ""
		if t.Parent != "" {
			indent = "  "
		}
		fmt.Printf("%s%s  %s\n", indent, t.ID, t.URL)
	}

	if *activate != "" {
		if err := s.SetActiveTarget(*activate); err != nil {
			fatalf("Activate failed: %v", err)
		}
		fmt.Printf("Active target: %s\n", *activate)
	}
}

func framesCmd(args []string) {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	envFile := fs.String("config", "", "Path to KEY=VALUE env file")
	sessionKey := fs.String("session", "", "Session key to replay")
	limit := fs.Int("limit", 100, "Max frames to show")
	fs.Parse(args)

	if *sessionKey == "" {
		fatalf("frames requires -session")
	}

	cfg := loadConfig(*envFile)
	rec, err := recorder.NewWithConfig(*cfg.Recorder)
	if err != nil {
		fatalf("Recorder failed: %v", err)
	}
	defer rec.Close()

	frames, err := rec.Frames(*sessionKey, *limit)
	if err != nil {
		fatalf("Fetch frames failed: %v", err)
	}
	for _, f := range frames {
		fmt.Printf("%s %-3s %-40s %s\n", f.CreatedAt.Format("15:04:05.000"), f.Direction, f.Method, f.Payload)
	}
}

// typedMessage counts typed characters, not bytes; control-key sentinels
// are multi-byte codepoints.
func typedMessage(keys string) string {
	return fmt.Sprintf("Typed %d character(s)", utf8.RuneCountInString(keys))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: webpilot <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run      Drive a browser session (navigate, locate, click, type, print)")
	fmt.Println("  targets  List and switch browser tabs")
	fmt.Println("  frames   Replay recorded protocol frames")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  --config <path>     Path to KEY=VALUE env file")
	fmt.Println("  --endpoint <ws url> Attach to a running browser")
	fmt.Println("  --launch            Launch a local browser instead")
}
