package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Stream/internal/adapters/http"
	"github.com/dkeye/Stream/internal/adapters/media"
	"github.com/dkeye/Stream/internal/adapters/rtc"
	sig "github.com/dkeye/Stream/internal/adapters/signal"
	"github.com/dkeye/Stream/internal/adapters/ws"
	"github.com/dkeye/Stream/internal/app/events"
	"github.com/dkeye/Stream/internal/app/lifecycle"
	"github.com/dkeye/Stream/internal/config"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	role, err := cfg.Role()
	if err != nil {
		return err
	}

	policy, err := events.ParsePolicy(cfg.Events.Policy)
	if err != nil {
		return err
	}
	hub := events.NewHub(policy)

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	rec, err := telemetry.NewRecorder(tel.Meter)
	if err != nil {
		return err
	}
	hub.Subscribe(core.ObserverID("telemetry"), rec)

	mediaFactory, err := media.Factory(role, media.Options{
		Source: cfg.Media.Source,
		Loop:   cfg.Media.Loop,
		Record: cfg.Media.Record,
	})
	if err != nil {
		return err
	}

	client := sig.NewClient(sig.Options{
		Role:          role,
		BearerToken:   cfg.Session.BearerToken,
		Configuration: rtc.WebRTCConfig(cfg.WebRTC.ICEServers),
	})

	s := cfg.Session
	ctrl, err := lifecycle.New(lifecycle.Options{
		Role:             role,
		Signaling:        client,
		Media:            mediaFactory,
		Events:           hub,
		WatchInterval:    s.WatchInterval,
		ElapsedInterval:  s.ElapsedInterval,
		StatsInterval:    s.StatsInterval,
		ReadyTimeout:     s.ReadyTimeout,
		ReadyPoll:        s.ReadyPoll,
		EstablishTimeout: s.EstablishTimeout,
		TerminateTimeout: s.TerminateTimeout,
	})
	if err != nil {
		return err
	}

	wsCtl := ws.NewController(ctrl, hub, cfg.Events.Buffer)
	r := router.SetupRouter(ctx, cfg, ctrl, wsCtl)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("role", role.String()).Msg("Stream server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.Endpoint != "" {
		g.Go(func() error {
			if err := ctrl.Start(gctx, s.Endpoint); err != nil {
				log.Error().Err(err).Str("endpoint", s.Endpoint).Msg("autostart failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		return shutdown(srv, ctrl, hub, tel)
	})
	return g.Wait()
}

func shutdown(srv *http.Server, ctrl *lifecycle.Controller, hub *events.Hub, tel *telemetry.Provider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl.Shutdown()
	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("session release timed out")
	}

	hub.Close()
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
