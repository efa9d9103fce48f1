// cmd/overlay is the companion that runs beside the game bridge. It reads bridge
// telemetry as JSON lines on stdin, keeps the user's presence alive, follows the
// current lobby and prints the reconciled display as JSON lines on stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
	"github.com/jason-s-yu/lobbyhub/internal/overlay"
	"github.com/jason-s-yu/lobbyhub/internal/telemetry"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	server := pflag.String("server", envOr("LOBBYHUB_SERVER", "http://localhost:8080"), "lobby server base URL")
	token := pflag.String("token", os.Getenv("LOBBYHUB_TOKEN"), "session token (or LOBBYHUB_TOKEN)")
	instance := pflag.String("instance-id", "", "overlay instance id (default random)")
	staleAfter := pflag.Duration("stale-after", telemetry.DefaultStaleAfter, "how long a reading stays fresh")
	preferLocal := pflag.Bool("prefer-local", false, "show fresh bridge data over server data")
	heartbeat := pflag.Duration("heartbeat", overlay.DefaultHeartbeat, "presence heartbeat interval")
	forwardEvery := pflag.Duration("forward-every", overlay.DefaultForwardEvery, "minimum gap between telemetry posts when hosting")
	staticMap := pflag.String("map", "", "map name to show before any reading arrives")
	staticMode := pflag.String("mode", "", "mode name to show before any reading arrives")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*level); err == nil {
		logger.SetLevel(lvl)
	}

	if strings.TrimSpace(*token) == "" {
		fmt.Fprintln(os.Stderr, "a session token is required (--token or LOBBYHUB_TOKEN)")
		os.Exit(2)
	}
	if *instance == "" {
		*instance = uuid.NewString()
	}

	var static models.Telemetry
	if *staticMap != "" {
		static.MapName = staticMap
	}
	if *staticMode != "" {
		static.ModeName = staticMode
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := overlay.NewClient(*server, *token, nil)
	comp := overlay.NewCompanion(client, clock.New(), logger, overlay.Options{
		OverlayInstanceID: *instance,
		StaleAfter:        *staleAfter,
		PreferLocal:       *preferLocal,
		Static:            static,
		Heartbeat:         *heartbeat,
		ForwardEvery:      *forwardEvery,
	})

	enc := json.NewEncoder(os.Stdout)
	show := func(v telemetry.View) {
		if err := enc.Encode(v); err != nil {
			logger.WithError(err).Warn("write display")
		}
	}

	logger.WithFields(logrus.Fields{"server": *server, "instance_id": *instance}).Info("overlay started")
	err := comp.Run(ctx, os.Stdin, show)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if res, serr := client.Shutdown(sctx); serr != nil {
		logger.WithError(serr).Warn("presence shutdown failed")
	} else {
		logger.WithFields(logrus.Fields{"action": res.Action, "lobby_id": res.LobbyID}).Info("presence released")
	}
	if err != nil {
		logger.WithError(err).Fatal("overlay exited")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
