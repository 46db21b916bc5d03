package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fast-security-fast/Fast-security-server/internal/config"
	"github.com/fast-security-fast/Fast-security-server/internal/events"
	"github.com/fast-security-fast/Fast-security-server/internal/httpserver"
	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
	"github.com/fast-security-fast/Fast-security-server/internal/signaling"
	"github.com/fast-security-fast/Fast-security-server/internal/sos"
)

func serve(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting fast-security-server",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"ws_auth_required", cfg.WSSecret != "",
		"sos_configured", cfg.SOSSecret != "",
		"liveness_interval", cfg.LivenessInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
		"mqtt", cfg.MQTT.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	var publisher events.Publisher = events.Nop{}
	if cfg.MQTT.Enabled() {
		p, err := events.DialMQTT(events.MQTTOptions{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			return exitError{code: 1, err: err}
		}
		// Closed last, after the signaling server has published its final
		// leave events.
		defer p.Close()
		publisher = p
	}

	opts := signaling.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Metrics = m
	opts.Events = publisher
	sig := signaling.NewServer(opts)

	srv, err := httpserver.New(cfg, logger, resolveBuildInfo(version, buildCommit, buildTime), m)
	if err != nil {
		return err
	}
	sig.RegisterRoutes(srv.Mux())
	sos.NewHandler(cfg.SOSSecret, logger, m).RegisterRoutes(srv.Mux())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return exitError{code: 1, err: fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go sig.Run(monitorCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopMonitor()
		shutdownSignaling(sig, cfg, logger)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError{code: 1, err: fmt.Errorf("http server exited: %w", err)}
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// net/http does not track hijacked connections, so open WebSockets are
	// closed separately once the listener stops accepting.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	stopMonitor()
	shutdownSignaling(sig, cfg, logger)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return exitError{code: 1, err: fmt.Errorf("http server exited after shutdown: %w", err)}
	}
	logger.Info("shutdown complete")
	return nil
}

func shutdownSignaling(sig *signaling.Server, cfg config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sig.Shutdown(ctx); err != nil {
		logger.Error("signaling shutdown incomplete", "err", err, "open_conns", sig.ConnCount())
	}
}
