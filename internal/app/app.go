// Package app wires a pairline session: directory and admission gate, local
// media, the pion transport, the signaling relay client, the collaboration
// components and the terminal console.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/pairline/internal/collab"
	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/directory"
	"github.com/1ureka/pairline/internal/multiplex"
	"github.com/1ureka/pairline/internal/session"
	"github.com/1ureka/pairline/internal/signaling"
	"github.com/1ureka/pairline/internal/transport"
	"github.com/1ureka/pairline/internal/util"
)

const (
	countdownPeriod = time.Second
	shutdownTimeout = 3 * time.Second
)

// Run joins the configured session and blocks until it ends. Console
// commands are read from in; in may be nil.
func Run(ctx context.Context, cfg *config.Config, in io.Reader) error {
	peerID := cfg.Session.PeerID
	if peerID == "" {
		peerID = util.NewPeerID()
	}

	dir, gate, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	if cfg.Metrics.Address != "" {
		stop := serveMetrics(cfg.Metrics.Address)
		defer stop()
	}
	util.StartStatsReporter(ctx)

	// Only participants are gated; the host decides from the console.
	var admitter directory.Admitter
	if cfg.Session.Role == config.RoleHost {
		admitter, _ = gate.(directory.Admitter)
	} else {
		util.LogInfo("waiting for admission to session %s as %s", cfg.Session.ID, peerID)
		if err := gate.Wait(ctx, cfg.Session.ID, peerID); err != nil {
			return fmt.Errorf("admission to session %s: %w", cfg.Session.ID, err)
		}
	}

	var media *transport.Media
	if cfg.Media.Enabled {
		if media, err = transport.NewMedia(peerID); err != nil {
			return err
		}
	}
	peers, err := transport.NewFactory(cfg, media)
	if err != nil {
		return err
	}

	console := Console{}
	mux := multiplex.New()

	editor := collab.NewEditor(mux, console, console)
	editor.Bind(mux)
	board, err := collab.NewWhiteboard(mux, console, cfg.Whiteboard.Width, cfg.Whiteboard.Height)
	if err != nil {
		return err
	}
	board.Bind(mux)
	timer := collab.NewTimer(mux, console, time.Now)
	timer.Bind(mux)

	// The host's configured timer is sent once the channel opens.
	if cfg.Session.Role == config.RoleHost && cfg.Timer.Duration > 0 {
		if _, err := timer.Configure(cfg.Timer.Duration, cfg.Timer.ReminderMinutes); err != nil && !errors.Is(err, multiplex.ErrChannelClosed) {
			return err
		}
	}

	sessCfg := session.Config{
		SessionID: cfg.Session.ID,
		Self:      session.PeerIdentity{ID: peerID, DisplayName: cfg.Session.DisplayName},
		Role:      cfg.Session.Role,
		Mode:      cfg.Session.Mode,
		Retry: signaling.RetryPolicy{
			Retries:    cfg.Signaling.Retries,
			Delay:      cfg.Signaling.RetryDelay,
			Multiplier: cfg.Signaling.Backoff,
		},
		Signaling: signaling.NewWSClient(cfg.Signaling.URL),
		Peers:     peers,
		Directory: dir,
		Mux:       mux,
		Observer:  console,
	}
	if media != nil {
		sessCfg.Media = media
	}

	sess, err := session.New(sessCfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go collab.NewCountdown(timer, console, countdownPeriod).Run(runCtx)

	if media != nil {
		go media.Silence(runCtx)
	}

	if in != nil {
		ws := &workspace{
			sessionID: cfg.Session.ID,
			editor:    editor,
			board:     board,
			timer:     timer,
			admitter:  admitter,
			leave:     sess.Leave,
		}
		go ws.readCommands(runCtx, in)
	}

	util.LogSuccess("joining session %s as %s (%s)", cfg.Session.ID, cfg.Session.Role, cfg.Session.Mode)
	return sess.Run(runCtx)
}

// openDirectory returns the session directory and admission gate: Redis
// backed when enabled, otherwise in-process with an open gate.
func openDirectory(ctx context.Context, cfg *config.Config) (session.Directory, directory.Gate, func(), error) {
	if !cfg.Redis.Enabled {
		return directory.NewMemory(), directory.OpenGate{}, func() {}, nil
	}

	client, err := directory.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, nil, err
	}

	var gate directory.Gate = directory.OpenGate{}
	if cfg.Redis.Gate {
		gate = directory.NewRedisGate(client, 0)
	}
	closeFn := func() {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			util.LogWarning("closing redis: %v", err)
		}
	}
	return directory.NewRedis(client, 0), gate, closeFn, nil
}

// serveMetrics exposes Prometheus metrics on addr until the returned stop
// function is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", util.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		util.LogInfo("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
