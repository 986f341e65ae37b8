package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/halfdome/lightstated/internal/eventbus"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// EventStreamConfig contains configuration for event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultEventStreamConfig returns sensible defaults for event stream configuration.
func DefaultEventStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
	}
}

// EventStream subscribes to the host's state_changed events over the
// websocket API and republishes them on the internal bus.
type EventStream struct {
	client *Client
	config EventStreamConfig
}

// NewEventStream creates a new event stream listener
func NewEventStream(client *Client) *EventStream {
	return NewEventStreamWithConfig(client, DefaultEventStreamConfig())
}

// NewEventStreamWithConfig creates a new event stream listener with custom configuration
func NewEventStreamWithConfig(client *Client, config EventStreamConfig) *EventStream {
	return &EventStream{
		client: client,
		config: config,
	}
}

// Run starts listening to the event stream with automatic reconnection.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (e *EventStream) Run(ctx context.Context, bus *eventbus.Bus) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := e.connect(ctx, bus)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			retryCount++

			if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
				log.Error().
					Int("max_reconnects", e.config.MaxReconnects).
					Msg("Event stream: max reconnects exceeded, terminating")
				return ErrMaxReconnectsExceeded
			}

			log.Warn().
				Err(err).
				Dur("backoff", currentBackoff).
				Int("retry", retryCount).
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Event stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}

			// Next backoff grows by the multiplier, capped at max
			nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
			if nextBackoff > e.config.MaxBackoff {
				nextBackoff = e.config.MaxBackoff
			}
			currentBackoff = nextBackoff

			continue
		}

		// Reset retry count and backoff on successful connection
		retryCount = 0
		currentBackoff = e.config.MinBackoff
	}
}

func (e *EventStream) connect(ctx context.Context, bus *eventbus.Bus) error {
	url := fmt.Sprintf("ws://%s/api/websocket", e.client.Address())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the connection when the context is cancelled to unblock reads.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := e.authenticate(conn); err != nil {
		return err
	}

	if err := e.subscribe(conn); err != nil {
		return err
	}

	log.Info().Msg("Connected to Home Assistant event stream")

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		if msg.Type != msgTypeEvent || msg.Event == nil || msg.Event.EventType != eventStateChanged {
			continue
		}

		var data stateChangedData
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			log.Warn().Err(err).Msg("Failed to decode state_changed event, skipping")
			continue
		}

		bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeStateChanged,
			Data: map[string]any{
				"entity_id": data.EntityID,
				"old_state": data.OldState,
				"new_state": data.NewState,
			},
		})
	}
}

// authenticate performs the websocket auth handshake.
func (e *EventStream) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if hello.Type != msgTypeAuthRequired {
		return fmt.Errorf("unexpected message type %q during auth", hello.Type)
	}

	if err := conn.WriteJSON(wsMessage{Type: msgTypeAuth, AccessToken: e.client.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	switch result.Type {
	case msgTypeAuthOK:
		return nil
	case msgTypeAuthInvalid:
		return fmt.Errorf("authentication rejected: %s", result.Message)
	default:
		return fmt.Errorf("unexpected auth result type %q", result.Type)
	}
}

// subscribe registers for state_changed events.
func (e *EventStream) subscribe(conn *websocket.Conn) error {
	sub := wsMessage{ID: 1, Type: msgTypeSubscribeEvents, EventType: eventStateChanged}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}

	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("failed to read subscription result: %w", err)
	}
	if result.Type != msgTypeResult || result.Success == nil || !*result.Success {
		if result.Error != nil {
			return fmt.Errorf("subscription failed: %s", result.Error.Message)
		}
		return fmt.Errorf("subscription failed: unexpected response type %q", result.Type)
	}

	return nil
}
