// Package service wires the NoZZZ components together.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/actuator"
	"github.com/Richardsss22/NoZZZ/internal/alarm"
	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/common/database"
	"github.com/Richardsss22/NoZZZ/internal/common/mqtt"
	rediscommon "github.com/Richardsss22/NoZZZ/internal/common/redis"
	"github.com/Richardsss22/NoZZZ/internal/config"
	"github.com/Richardsss22/NoZZZ/internal/discovery"
	"github.com/Richardsss22/NoZZZ/internal/driving"
	"github.com/Richardsss22/NoZZZ/internal/eog"
	"github.com/Richardsss22/NoZZZ/internal/history"
	"github.com/Richardsss22/NoZZZ/internal/httpapi"
	"github.com/Richardsss22/NoZZZ/internal/publisher"
	"github.com/Richardsss22/NoZZZ/internal/repository"
	"github.com/Richardsss22/NoZZZ/internal/settings"
	"github.com/Richardsss22/NoZZZ/internal/transport"
	"github.com/Richardsss22/NoZZZ/internal/vision"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Service owns every component of one vehicle.
type Service struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	tracker    *history.Tracker
	monitor    *driving.Monitor
	controller *alarm.Controller
	detector   *vision.Detector
	session    *eog.Session
	frames     *transport.FrameFeed
	device     eog.Device

	hub       *httpapi.Hub
	server    *http.Server
	discovery *discovery.Service
}

// New builds the service. Redis and MQTT are required; Postgres only when
// DatabaseEnabled is set.
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	ctx := context.Background()

	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var (
		db        *sql.DB
		tripStore history.TripStore
		events    *repository.AlarmEventsRepository
	)
	if cfg.DatabaseEnabled {
		db, err = database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			rediscommon.Close(redisClient)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			database.Close(db)
			rediscommon.Close(redisClient)
			return nil, fmt.Errorf("failed to prepare schema: %w", err)
		}
		tripStore = repository.NewTripRepository(db, logger)
		events = repository.NewAlarmEventsRepository(db, logger)
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		if db != nil {
			database.Close(db)
		}
		rediscommon.Close(redisClient)
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	clk := clock.Real{}
	store := settings.NewStore(settings.NewRedisKVStore(redisClient), cfg.Settings.KeyPrefix, logger)

	tracker := history.NewTracker(clk, cfg.VehicleID, tripStore, logger)
	monitor := driving.NewMonitor(tracker, logger)

	var eventStore publisher.EventStore
	var eventLister httpapi.AlarmEvents
	if events != nil {
		eventStore, eventLister = events, events
	}
	pub := publisher.NewPublisher(
		redisClient,
		publisher.Streams{Minutes: cfg.Streams.Minutes, Alarms: cfg.Streams.Alarms},
		alarm.NewEventBuilder(cfg.VehicleID),
		eventStore,
		tracker,
		monitor,
		logger,
	)

	act := actuator.NewActuator(mqttClient, cfg.Topics.Actuate, cfg.VehicleID, cfg.Emergency.WebhookURL, logger)
	controller := alarm.NewController(clk, act, emergencySettings{store, cfg.Emergency.DefaultNumber}, logger, tracker, pub)
	detector := vision.NewDetector(clk, controller, store, monitor, logger)

	var handler *httpapi.Handler
	hub := httpapi.NewHub(func() any { return handler.State() }, logger)
	notify := hubNotifier{hub}
	controller.AddRecorder(notify)

	session := eog.NewSession(clk, controller, logger, tracker, pub, notify)

	handler = httpapi.NewHandler(httpapi.Deps{
		VehicleID:       cfg.VehicleID,
		Session:         session,
		Detector:        detector,
		Alarm:           controller,
		Preferences:     store,
		History:         tracker,
		Events:          eventLister,
		BrokerConnected: mqttClient.IsConnected,
	}, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterRoutes(handler, hub)

	device, err := newDevice(cfg, mqttClient, clk, logger)
	if err != nil {
		mqttClient.Disconnect()
		if db != nil {
			database.Close(db)
		}
		rediscommon.Close(redisClient)
		return nil, err
	}

	s := &Service{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		tracker:     tracker,
		monitor:     monitor,
		controller:  controller,
		detector:    detector,
		session:     session,
		frames:      transport.NewFrameFeed(mqttClient, cfg.Topics.Camera, detector, logger),
		device:      device,
		hub:         hub,
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.Discovery.Enabled {
		s.discovery = discovery.NewService(cfg.HTTPPort(), cfg.VehicleID, logger)
	}
	return s, nil
}

// Start attaches the sensor, subscribes to the camera and GPS feeds and
// serves HTTP until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting NoZZZ service",
		zap.String("vehicle_id", s.config.VehicleID),
		zap.String("link", s.config.Link.Kind),
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Bool("database", s.db != nil),
	)

	s.detector.LoadSettings(ctx)

	if err := s.monitor.Start(s.mqttClient, s.config.Topics.GPS); err != nil {
		return err
	}
	if err := s.frames.Start(); err != nil {
		return err
	}

	// The session shows a connect failure itself; the UI can retry.
	if err := s.session.Attach(ctx, s.device); err != nil {
		s.logger.Warn("Failed to attach EOG sensor",
			zap.String("device_id", s.device.ID()),
			zap.Error(err),
		)
	}

	go s.hub.Run(ctx, s.config.HTTP.SnapshotInterval)

	if s.discovery != nil {
		if err := s.discovery.Start(); err != nil {
			s.logger.Warn("Discovery unavailable", zap.Error(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("HTTP server listening", zap.String("addr", s.config.HTTP.Addr))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Stop silences everything, persists the open trip and closes the clients.
func (s *Service) Stop(_ context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.discovery != nil {
		s.discovery.Stop()
	}

	s.frames.Stop()
	if err := s.mqttClient.Unsubscribe(s.config.Topics.GPS); err != nil {
		s.logger.Warn("Failed to unsubscribe gps", zap.Error(err))
	}

	s.detector.StopCamera(ctx)
	s.controller.StopAlarm(ctx)
	s.session.Abort(ctx)
	s.session.Detach()
	if d, ok := s.device.(interface{ Disconnect() }); ok {
		d.Disconnect()
	}

	if trip, err := s.tracker.EndTrip(ctx); err != nil {
		errs = append(errs, fmt.Errorf("end trip: %w", err))
	} else if trip != nil {
		s.logger.Info("Open trip closed on shutdown", zap.String("trip_id", trip.TripID))
	}

	s.mqttClient.Disconnect()
	if err := rediscommon.Close(s.redisClient); err != nil {
		errs = append(errs, fmt.Errorf("redis close: %w", err))
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}
