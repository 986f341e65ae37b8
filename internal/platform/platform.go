// Package platform defines the boundary between lightstated and the
// home-automation host. The manager depends only on this interface, never on
// a concrete host implementation.
package platform

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// StateOn is the host's canonical "on" state string.
const StateOn = "on"

// State is the host's view of a single entity at a point in time.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Platform is the capability surface the manager needs from the host.
type Platform interface {
	// GetState returns the current state of an entity, or (nil, nil) if the
	// host knows no such entity.
	GetState(ctx context.Context, entityID string) (*State, error)

	// CallService invokes a host service and returns once the host has
	// acknowledged completion of the underlying command.
	CallService(ctx context.Context, domain, service string, data map[string]any) error

	// FireEvent publishes an event on the host's event bus.
	FireEvent(ctx context.Context, eventType string, data map[string]any) error
}

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// ValidEntityID reports whether id is a well-formed entity identifier
// ("domain.object_id").
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// Domain returns the namespace part of an entity id ("light" for
// "light.kitchen"), or "" if the id has no domain separator.
func Domain(entityID string) string {
	domain, _, found := strings.Cut(entityID, ".")
	if !found {
		return ""
	}
	return domain
}
