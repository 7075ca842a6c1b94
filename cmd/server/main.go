package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/meshportal/backend/internal/config"
	"github.com/meshportal/backend/internal/discovery"
	"github.com/meshportal/backend/internal/driver"
	"github.com/meshportal/backend/internal/frontend"
	"github.com/meshportal/backend/internal/session"
	"github.com/meshportal/backend/internal/sim"
	"github.com/meshportal/backend/internal/transport"
	"github.com/meshportal/backend/internal/ws"
)

func main() {
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	driverName := flag.String("driver", "", "Override device driver (default from config)")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	// Optional .env for secrets (auth token), loaded before config reads
	// the environment.
	if err := godotenv.Load(); err == nil {
		zlog.Debug().Msg("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *driverName != "" {
		cfg.Device.Driver = *driverName
	}

	// Re-register the sim with the configured behavior so `driver: sim`
	// connects pick it up.
	behavior := sim.Behavior{
		ChatterInterval: cfg.Device.Sim.ChatterInterval,
		AckDelay:        cfg.Device.Sim.AckDelay,
		HandshakeDelay:  cfg.Device.Sim.HandshakeDelay,
		DropAcks:        cfg.Device.Sim.DropAcks,
	}
	driver.Register("sim", func(tr transport.Transport) (driver.Driver, error) {
		return sim.New(tr, behavior), nil
	})

	broadcaster := ws.NewBroadcaster(cfg.WS.SendBuffer)
	mgr := session.NewManager(cfg.Device.Driver, broadcaster)
	correlator := session.NewCorrelator(mgr)
	browser := discovery.NewBrowser(cfg.Discovery.Service, cfg.Discovery.Domain)

	frontendDir := ""
	if *devMode {
		cwd, _ := os.Getwd()
		frontendDir = filepath.Join(cwd, "internal", "frontend", "static")
	}

	var embeddedHandler http.Handler
	if !*devMode {
		embeddedHandler = frontend.Handler()
		if embeddedHandler == nil {
			cwd, _ := os.Getwd()
			fallback := filepath.Join(cwd, "internal", "frontend", "static")
			if _, err := os.Stat(fallback); err == nil {
				zlog.Info().Str("dir", fallback).Msg("no embedded frontend, serving from filesystem")
				embeddedHandler = http.FileServer(http.Dir(fallback))
			}
		}
	}

	server := ws.NewServer(cfg, mgr, correlator, broadcaster, browser, frontendDir, *devMode, embeddedHandler)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zlog.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mgr.Disconnect(ctx); err != nil {
			zlog.Warn().Err(err).Msg("disconnect on shutdown failed")
		}
		os.Exit(0)
	}()

	zlog.Info().Str("driver", cfg.Device.Driver).Msg("meshbridge starting")
	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, server.Routes()); err != nil {
		zlog.Fatal().Err(err).Msg("server error")
	}
}
