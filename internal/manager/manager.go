// Package manager implements the light state save/restore cycle: an in-memory
// cache of light snapshots driven by service calls, a periodic save job, and
// motion-sensor activity.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/halfdome/lightstated/internal/eventbus"
	"github.com/halfdome/lightstated/internal/platform"
	"github.com/halfdome/lightstated/internal/service"
)

// Service names registered by the manager.
const (
	ServiceSaveState    = "save_state"
	ServiceRestoreState = "restore_state"
	ServiceClearStates  = "clear_states"
)

const (
	domainLight   = "light"
	serviceTurnOn = "turn_on"
	keyEventID    = "event_id"
	keyEntityID   = "entity_id"
	keyState      = "state"
	keyNewState   = "new_state"
)

// Config captures the manager's static configuration.
type Config struct {
	// Lights is the default target list for periodic save and motion restore.
	Lights []string
	// MotionSensors enables motion-triggered restore when non-empty.
	MotionSensors []string
	// Transition is passed to every restore turn_on command, in seconds.
	Transition float64
	// SaveInterval is the periodic save cadence; 0 disables periodic save.
	SaveInterval time.Duration
}

// Scheduler starts a recurring job and returns a cancel handle.
type Scheduler interface {
	ScheduleRecurring(ctx context.Context, interval time.Duration, fn func(context.Context)) func()
}

// Manager owns the snapshot store and the motion-activity map. All externally
// visible behavior is reactive: service calls, the periodic save job, and
// state-change events drive it.
type Manager struct {
	cfg      Config
	host     platform.Platform
	bus      *eventbus.Bus
	registry *service.Registry
	sched    Scheduler

	snapshots *store

	mu           sync.Mutex
	motionActive map[string]bool
	ready        bool
	cancelSave   func()
}

// New creates a manager. Call Setup to register its services and start its
// periodic and event-driven behavior.
func New(cfg Config, host platform.Platform, bus *eventbus.Bus, registry *service.Registry, sched Scheduler) *Manager {
	return &Manager{
		cfg:          cfg,
		host:         host,
		bus:          bus,
		registry:     registry,
		sched:        sched,
		snapshots:    newStore(),
		motionActive: make(map[string]bool),
	}
}

// Setup registers the manager's services, the periodic save job, and the
// motion-sensor subscription. The manager only reacts to timer ticks and
// motion events after Setup returns.
func (m *Manager) Setup(ctx context.Context) error {
	if err := m.registry.Register(ServiceSaveState, m.SaveState); err != nil {
		return err
	}
	if err := m.registry.Register(ServiceRestoreState, m.RestoreState); err != nil {
		return err
	}
	if err := m.registry.Register(ServiceClearStates, m.ClearStates); err != nil {
		return err
	}

	if m.cfg.SaveInterval > 0 {
		m.cancelSave = m.sched.ScheduleRecurring(ctx, m.cfg.SaveInterval, m.handleIntervalSave)
		log.Info().Dur("interval", m.cfg.SaveInterval).Msg("Periodic state save enabled")
	}

	if len(m.cfg.MotionSensors) > 0 {
		m.bus.Subscribe(eventbus.EventTypeStateChanged, func(evt eventbus.Event) {
			m.handleStateChanged(ctx, evt)
		})
		log.Info().Strs("sensors", m.cfg.MotionSensors).Msg("Motion-triggered restore enabled")
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()

	log.Info().Strs("lights", m.cfg.Lights).Msg("Light state manager ready")
	return nil
}

// Teardown cancels the periodic save job and unregisters the manager's
// services. The state-change subscription stays on the bus; its lifetime is
// tied to the bus shutdown. In-flight restores are not cancelled and may
// complete after Teardown returns.
func (m *Manager) Teardown() {
	m.mu.Lock()
	m.ready = false
	cancelSave := m.cancelSave
	m.cancelSave = nil
	m.mu.Unlock()

	if cancelSave != nil {
		cancelSave()
	}

	m.registry.Unregister(ServiceSaveState)
	m.registry.Unregister(ServiceRestoreState)
	m.registry.Unregister(ServiceClearStates)

	log.Info().Msg("Light state manager torn down")
}

// SaveState captures the current state of each listed light and stores its
// snapshot, overwriting any prior one. Entities outside the light domain and
// entities the host does not know are skipped; a skip never aborts the rest
// of the list.
func (m *Manager) SaveState(ctx context.Context, entityIDs []string) error {
	for _, entityID := range entityIDs {
		if platform.Domain(entityID) != domainLight {
			log.Debug().Str("entity_id", entityID).Msg("Skipping non-light entity on save")
			continue
		}

		st, err := m.host.GetState(ctx, entityID)
		if err != nil {
			log.Warn().Err(err).Str("entity_id", entityID).Msg("Failed to fetch entity state, skipping")
			continue
		}
		if st == nil {
			log.Debug().Str("entity_id", entityID).Msg("Entity unknown to host, skipping save")
			continue
		}

		snap := Capture(st)
		m.snapshots.put(entityID, snap)

		log.Debug().Str("entity_id", entityID).Str("state", snap.State).Msg("Light state saved")
		m.notify(eventbus.EventTypeStateSaved, entityID, snap)
	}

	return nil
}

// RestoreState reapplies stored snapshots to the listed lights, one at a
// time. Lights without a snapshot, or whose snapshot was captured while off,
// are skipped. Each turn_on command is waited on before the next light is
// processed; a command failure aborts the remainder of the list.
func (m *Manager) RestoreState(ctx context.Context, entityIDs []string) error {
	for _, entityID := range entityIDs {
		snap, ok := m.snapshots.get(entityID)
		if !ok {
			continue
		}
		if !snap.IsOn() {
			log.Debug().Str("entity_id", entityID).Str("state", snap.State).Msg("Snapshot not on, skipping restore")
			continue
		}

		data := snap.ServiceData(entityID, m.cfg.Transition)
		if err := m.host.CallService(ctx, domainLight, serviceTurnOn, data); err != nil {
			return fmt.Errorf("turn_on %s: %w", entityID, err)
		}

		log.Debug().Str("entity_id", entityID).Msg("Light state restored")
		m.notify(eventbus.EventTypeStateRestored, entityID, snap)
	}

	return nil
}

// ClearStates removes stored snapshots for the listed lights. Entities
// without a snapshot are ignored. No notification is emitted.
func (m *Manager) ClearStates(_ context.Context, entityIDs []string) error {
	for _, entityID := range entityIDs {
		m.snapshots.delete(entityID)
	}
	return nil
}

// notify publishes a save/restore notification on the bus. Consumers forward
// it to the host's event bus and to the audit ledger.
func (m *Manager) notify(eventType eventbus.EventType, entityID string, snap Snapshot) {
	m.bus.Publish(eventbus.Event{
		Type: eventType,
		Data: map[string]any{
			keyEventID:  uuid.NewString(),
			keyEntityID: entityID,
			keyState:    snap,
		},
	})
}

// handleIntervalSave runs the periodic save over the configured default
// light list. Ticks before Setup completes or after Teardown are no-ops.
func (m *Manager) handleIntervalSave(ctx context.Context) {
	if !m.isReady() {
		return
	}

	if err := m.SaveState(ctx, m.cfg.Lights); err != nil {
		log.Error().Err(err).Msg("Periodic state save failed")
	}
}

// handleStateChanged tracks motion-sensor activity and schedules a restore
// when any tracked sensor is active. The restore runs fire-and-forget; a new
// motion event may interleave with an in-flight restore.
func (m *Manager) handleStateChanged(ctx context.Context, evt eventbus.Event) {
	entityID, _ := evt.Data[keyEntityID].(string)
	if !m.watchesSensor(entityID) {
		return
	}

	// A state change without a new state is transient; ignore it entirely.
	newState, ok := evt.Data[keyNewState].(*platform.State)
	if !ok || newState == nil {
		return
	}

	m.mu.Lock()
	m.motionActive[entityID] = newState.State == platform.StateOn
	anyActive := false
	for _, active := range m.motionActive {
		if active {
			anyActive = true
			break
		}
	}
	ready := m.ready
	m.mu.Unlock()

	if !ready || !anyActive {
		return
	}

	log.Debug().Str("entity_id", entityID).Msg("Motion active, restoring light states")
	go func() {
		if err := m.RestoreState(ctx, m.cfg.Lights); err != nil {
			log.Error().Err(err).Msg("Motion-triggered restore failed")
		}
	}()
}

func (m *Manager) watchesSensor(entityID string) bool {
	for _, id := range m.cfg.MotionSensors {
		if id == entityID {
			return true
		}
	}
	return false
}

func (m *Manager) isReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}
