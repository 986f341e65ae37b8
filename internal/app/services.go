package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halfdome/lightstated/internal/api"
	"github.com/halfdome/lightstated/internal/config"
	"github.com/halfdome/lightstated/internal/db"
	"github.com/halfdome/lightstated/internal/eventbus"
	"github.com/halfdome/lightstated/internal/homeassistant"
	"github.com/halfdome/lightstated/internal/ledger"
	"github.com/halfdome/lightstated/internal/manager"
	"github.com/halfdome/lightstated/internal/scheduler"
	"github.com/halfdome/lightstated/internal/service"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Host platform
	Client *homeassistant.Client
	Stream *homeassistant.EventStream

	// Manager and its collaborators
	Registry  *service.Registry
	Scheduler *scheduler.Scheduler
	Manager   *manager.Manager

	// HTTP surface
	API *api.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database (backs the notification ledger)
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize Home Assistant client and event stream
	s.Client = homeassistant.NewClient(
		cfg.HomeAssistant.Address,
		cfg.HomeAssistant.Token,
		cfg.HomeAssistant.Timeout.Duration(),
		cfg.HomeAssistant.RateLimitRPS,
	)
	s.Stream = homeassistant.NewEventStreamWithConfig(s.Client, homeassistant.EventStreamConfig{
		MinBackoff:    cfg.HomeAssistant.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.HomeAssistant.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.HomeAssistant.RetryMultiplier,
		MaxReconnects: cfg.HomeAssistant.MaxReconnects,
	})

	// Initialize manager collaborators
	s.Registry = service.NewRegistry()
	s.Scheduler = scheduler.New()

	// Initialize the light state manager
	s.Manager = manager.New(manager.Config{
		Lights:        cfg.Manager.Lights,
		MotionSensors: cfg.Manager.MotionSensors,
		Transition:    cfg.Manager.GetTransition(),
		SaveInterval:  cfg.Manager.GetSaveInterval(),
	}, s.Client, s.Bus, s.Registry, s.Scheduler)

	// Initialize API server
	if cfg.API.IsEnabled() {
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, s.Registry)
	}

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Connect to Home Assistant
	if err := s.Client.Connect(ctx); err != nil {
		return err
	}

	// Wire notification consumers before the manager starts emitting
	s.subscribeNotificationConsumers(ctx)

	// Set up the manager: services, periodic save, motion subscription
	if err := s.Manager.Setup(ctx); err != nil {
		return err
	}

	// Start the event stream in the background
	go func() {
		if err := s.Stream.Run(ctx, s.Bus); err != nil {
			if errors.Is(err, homeassistant.ErrMaxReconnectsExceeded) {
				onFatalError(err)
				return
			}
			log.Error().Err(err).Msg("Event stream error")
		}
	}()

	// Start the API server
	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	// Ledger retention cleanup
	if s.Ledger != nil {
		go s.runLedgerCleanup(ctx)
	}

	return nil
}

// subscribeNotificationConsumers wires the save/restore notifications to the
// host's event bus and, when enabled, to the audit ledger.
func (s *Services) subscribeNotificationConsumers(ctx context.Context) {
	for _, eventType := range []eventbus.EventType{eventbus.EventTypeStateSaved, eventbus.EventTypeStateRestored} {
		eventType := eventType

		// Forward the notification to the host's event bus, matching the
		// payload the services emit: {entity_id, state}.
		s.Bus.Subscribe(eventType, func(evt eventbus.Event) {
			payload := map[string]any{
				"entity_id": evt.Data["entity_id"],
				"state":     evt.Data["state"],
			}
			if err := s.Client.FireEvent(ctx, string(eventType), payload); err != nil {
				log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to forward notification to host")
			}
		})

		if s.Ledger != nil {
			s.Bus.Subscribe(eventType, func(evt eventbus.Event) {
				entityID, _ := evt.Data["entity_id"].(string)
				if err := s.Ledger.Append(ledger.EventType(eventType), entityID, evt.Data); err != nil {
					log.Error().Err(err).Msg("Failed to append notification to ledger")
				}
			})
		}
	}
}

// runLedgerCleanup periodically removes old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	// Tear down the manager first so no new work is emitted
	if s.Manager != nil {
		s.Manager.Teardown()
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}

	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}

	if s.Client != nil {
		s.Client.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}

	return nil
}
