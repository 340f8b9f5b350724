// Pairline relay: reference signaling server.
//
// Serves GET /ws/:sessionId for peers, /health and /metrics. With -redis the
// relay also records session membership in Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/1ureka/pairline/internal/directory"
	"github.com/1ureka/pairline/internal/signaling"
	"github.com/1ureka/pairline/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8080", "Listen address")
	origins := flag.String("origins", "", "Comma-separated allowed origins (empty allows all)")
	redisAddr := flag.String("redis", "", "Redis address for session membership")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var roster signaling.Roster
	if *redisAddr != "" {
		client, err := directory.DialRedis(ctx, *redisAddr, *redisPassword, *redisDB)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		defer client.Close()
		roster = directory.NewRedis(client, 0)
		util.LogInfo("session membership stored in redis at %s", *redisAddr)
	}

	var allowed []string
	for _, o := range strings.Split(*origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           signaling.NewRelay(roster).Handler(allowed),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogSuccess("relay listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.LogError("relay: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay stopped")
}
