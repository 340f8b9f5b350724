// Pairline CLI entry point.
//
// Joins a one-to-one collaboration session over WebRTC: shared code editor,
// execution output, whiteboard and timer, negotiated through a WebSocket
// signaling relay.
//
// It can be launched interactively (no -role and no role in -config) or
// non-interactively via a YAML config file and CLI flags, flags winning.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/pairline/internal/app"
	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/session"
	"github.com/1ureka/pairline/internal/util"
)

var version = "dev"

const sessionCodeLength = 6

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a YAML config file")
	role := flag.String("role", "", "Role: host or participant")
	mode := flag.String("mode", "", "Mode: private, public-host or public-participant")
	sessionID := flag.String("session", "", "Session id to join")
	name := flag.String("name", "", "Display name shown to the partner")
	peerID := flag.String("peer", "", "Peer id (random when empty)")
	signalURL := flag.String("signal", "", "Signaling relay URL, e.g. https://relay.example.org")
	media := flag.Bool("media", false, "Attach local audio/video tracks")
	timer := flag.Duration("timer", 0, "Session timer length (host only), e.g. 45m")
	reminder := flag.Int("reminder", 0, "Reminder this many minutes before the timer ends")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	redisAddr := flag.String("redis", "", "Redis address for the session directory")
	gate := flag.Bool("gate", false, "Wait for an admission verdict in Redis before joining")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Session.Role = config.Role(*role)
		case "mode":
			cfg.Session.Mode = config.Mode(*mode)
		case "session":
			cfg.Session.ID = *sessionID
		case "name":
			cfg.Session.DisplayName = *name
		case "peer":
			cfg.Session.PeerID = *peerID
		case "signal":
			cfg.Signaling.URL = *signalURL
		case "media":
			cfg.Media.Enabled = *media
		case "timer":
			cfg.Timer.Duration = *timer
		case "reminder":
			cfg.Timer.ReminderMinutes = *reminder
		case "metrics":
			cfg.Metrics.Address = *metricsAddr
		case "redis":
			cfg.Redis.Enabled = true
			cfg.Redis.Addr = *redisAddr
		case "gate":
			cfg.Redis.Gate = *gate
		case "debug":
			cfg.Debug = *debugMode
		}
	})

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Pairline — v%s", version))
	pterm.Println()

	if cfg.Session.Role == "" {
		// No role anywhere → interactive mode.
		askInteractive(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Session.Role == config.RoleHost {
		pterm.DefaultBox.WithTitle("session").Println(fmt.Sprintf("Share this code with your partner: %s", cfg.Session.ID))
	}
	pterm.Info.Println("type help for commands")

	if err := app.Run(ctx, cfg, os.Stdin); failed(ctx, err) {
		util.LogError("%v", err)
		os.Exit(1)
	} else if err != nil && ctx.Err() == nil {
		util.LogInfo("%v", err)
	}

	util.LogInfo("session closed")
}

// failed reports whether the session ended abnormally. The partner leaving
// and Ctrl+C are normal endings.
func failed(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, session.ErrPartnerLost)
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askInteractive fills the session settings the user did not provide.
func askInteractive(cfg *config.Config) {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host        — Start a private session",
			"Host        — Keep a public room open for participants",
			"Participant — Join a session",
		}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	switch {
	case strings.Contains(choice, "public room"):
		cfg.Session.Role, cfg.Session.Mode = config.RoleHost, config.ModePublicHost
	case strings.HasPrefix(choice, "Host"):
		cfg.Session.Role, cfg.Session.Mode = config.RoleHost, config.ModePrivate
	default:
		cfg.Session.Role, cfg.Session.Mode = config.RoleParticipant, config.ModePrivate
	}

	if cfg.Session.ID == "" {
		if cfg.Session.Role == config.RoleHost {
			code, err := util.NewSessionCode(sessionCodeLength)
			if err != nil {
				util.LogError("failed to generate session code: %v", err)
				os.Exit(1)
			}
			cfg.Session.ID = code
		} else {
			cfg.Session.ID = askText("Session code", validCode)
		}
	}

	if cfg.Signaling.URL == "" {
		cfg.Signaling.URL = askText("Signaling relay URL (e.g. https://relay.example.org)", validURL)
	}

	if cfg.Session.DisplayName == "" || cfg.Session.DisplayName == "anonymous" {
		if n := strings.TrimSpace(askText("Display name", nil)); n != "" {
			cfg.Session.DisplayName = n
		}
	}

	if cfg.Session.Role == config.RoleHost && cfg.Timer.Duration == 0 {
		raw := askText("Session timer, e.g. 45m (empty for none)", validOptionalDuration)
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
			cfg.Timer.Duration = d
		}
	}
}

// askText prompts until valid accepts the input. A nil valid accepts anything.
func askText(prompt string, valid func(string) error) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		raw = strings.TrimSpace(raw)

		if valid == nil {
			pterm.Println()
			return raw
		}
		err := valid(raw)
		if err == nil {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("%v", err)
	}
}

func validCode(s string) error {
	if s == "" {
		return fmt.Errorf("session code must not be empty")
	}
	return nil
}

func validURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL: %s", s)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func validOptionalDuration(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid duration: %s", s)
	}
	return nil
}
