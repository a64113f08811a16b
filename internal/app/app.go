// Package app wires together the Item Reminder services and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"

	"itemreminder/go-server/internal/alerting"
	"itemreminder/go-server/internal/config"
	"itemreminder/go-server/internal/ingest"
	"itemreminder/go-server/internal/live"
	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/notify"
	"itemreminder/go-server/internal/session"
	"itemreminder/go-server/internal/store"
	"itemreminder/go-server/internal/tracker"
	"itemreminder/go-server/internal/transport"
)

// App owns the constructed services and their start/stop order.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store       *store.Store
	mqtt        *transport.Client
	hub         *live.Hub
	notifier    *notify.Notifier
	engine      *alerting.Engine
	tracker     *tracker.Tracker
	coordinator *session.Coordinator
	mdns        *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.hub = live.NewHub(a.logger)
	a.notifier = notify.New(notify.Config{
		FCMServerKey:   a.cfg.FCMServerKey,
		SendGridAPIKey: a.cfg.SendGridAPIKey,
		FromEmail:      a.cfg.FromEmail,
		FromName:       a.cfg.FromName,
	}, a.store, a.logger)
	a.engine = alerting.New(a.store, a.notifier, a.logger)
	a.tracker = tracker.New(a.store, a.engine, a.hub, a.logger)
	a.coordinator = session.New(a.store, a.engine, a.logger)

	a.hub.SetLocationProcessor(func(ctx context.Context, sample model.LocationSample) error {
		_, err := a.processLocation(ctx, sample)
		return err
	})

	a.mqtt = transport.New(transport.Config{
		BrokerURL: a.cfg.MQTTBrokerURL,
		Username:  a.cfg.MQTTUsername,
		Password:  a.cfg.MQTTPassword,
	}, a.logger)

	router := ingest.New(ingest.Config{
		WeightTopic: a.cfg.WeightTopic,
		StatusTopic: a.cfg.StatusTopic,
	}, a.tracker, a.logger)

	// Registrations land before the first connect; the client replays them
	// on every (re)connect.
	if err := router.Attach(a.mqtt); err != nil {
		return err
	}

	go func() {
		if err := a.mqtt.Connect(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("mqtt connect abandoned", "error", err)
		}
	}()

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	go a.runJanitor(ctx)

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			a.hub.Close()
			a.mqtt.Close()
			a.notifier.Drain()
			return nil
		case err := <-httpErrCh:
			if err != nil {
				a.hub.Close()
				a.mqtt.Close()
				return err
			}
		}
	}
}

// processLocation runs the coordinator and pushes the outcome to the user's
// live sessions. Both the HTTP endpoint and the socket path land here.
func (a *App) processLocation(ctx context.Context, sample model.LocationSample) (*session.Result, error) {
	result, err := a.coordinator.ProcessLocationUpdate(ctx, sample)
	if err != nil {
		return nil, err
	}

	a.hub.SendToUser(sample.UserID, "geofence-update", result)

	for _, triggered := range result.AlertsTriggered {
		a.hub.SendToUser(sample.UserID, "geofence-alert", triggered)
	}

	return result, nil
}

// runJanitor purges expired alerts and readings on an interval.
func (a *App) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			alerts, readings, err := a.store.PurgeExpired(purgeCtx, a.cfg.AlertRetention, a.cfg.ReadingRetention)
			cancel()
			if err != nil {
				a.logger.Error("retention purge failed", "error", err)
				continue
			}
			if alerts > 0 || readings > 0 {
				a.logger.Info("retention purge", "alerts", alerts, "readings", readings)
			}
		}
	}
}
