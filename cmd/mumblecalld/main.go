package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	audio "github.com/Wyydra/mumblecall/internal/adapter/driven/audio/memory"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/credential/file"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/metrics"
	memrepo "github.com/Wyydra/mumblecall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/persistence/sqlite"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/signaling/mumble"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/telephony/bridge"
	handler "github.com/Wyydra/mumblecall/internal/adapter/driving/http"
	"github.com/Wyydra/mumblecall/internal/config"
	"github.com/Wyydra/mumblecall/internal/core/domain"
	"github.com/Wyydra/mumblecall/internal/core/port"
	"github.com/Wyydra/mumblecall/internal/core/service"
	"github.com/Wyydra/mumblecall/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	path := flag.String("config", config.DefaultPath, "path to the ini configuration file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	l, logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	history, closeHistory, err := openHistory(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeHistory()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub()
	shell := bridge.New()
	signaling := mumble.New(mumble.Options{
		DialTimeout:     cfg.Mumble.DialTimeout,
		AllowSelfSigned: cfg.Mumble.AllowSelfSigned,
		Certificates:    file.NewStore(cfg.Credentials.Dir, cfg.Credentials.Password),
	})

	coordinator := service.NewCoordinator(signaling, shell, audio.NewAudioEngine(shell), service.Config{
		Server: port.ServerAddress{Host: cfg.Mumble.Host, Port: cfg.Mumble.Port},
		Credentials: port.Credentials{
			Username: cfg.Mumble.Username,
			Password: cfg.Mumble.Password,
			Tokens:   cfg.Mumble.Tokens,
		},
		OpenChannelID:   domain.ChannelID(cfg.Mumble.OpenChannelID),
		ResolveAttempts: cfg.Calls.ResolveAttempts,
		ResolveBackoff:  cfg.Calls.ResolveBackoff,
		ReportTimeout:   cfg.Calls.ReportTimeout,
		ChannelPrefix:   cfg.Calls.ChannelPrefix,
	}, service.WithLogger(l), service.WithHistory(history))

	coordinator.RegisterStateObserver(hub)
	coordinator.RegisterStateObserver(metrics.NewObserver(reg))

	h := handler.NewHandler(coordinator, hub, shell, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: h.NewRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		coordinator.Run()
		return nil
	})
	g.Go(func() error {
		l.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		l.Info().Msg("Shutting down server...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			l.Error().Err(err).Msg("Server forced to shutdown")
		}

		coordinator.Stop()
		<-coordinator.Done()
		if err := signaling.Disconnect(); err != nil {
			l.Warn().Err(err).Msg("Signaling disconnect failed")
		}
		hub.Stop()
		return nil
	})

	err = g.Wait()
	l.Info().Msg("Server exited")
	return err
}

func openHistory(cfg config.Storage) (port.CallRepository, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		repo, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return memrepo.NewCallRepository(0), func() {}, nil
	}
}
