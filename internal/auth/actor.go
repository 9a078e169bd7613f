package auth

import (
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// ActorType distinguishes service identities from human sessions.
type ActorType string

const (
	ActorTypeSystem ActorType = "SYSTEM"
	ActorTypeHuman  ActorType = "HUMAN"
)

// Actor is the resolved identity behind a request. A SYSTEM actor carries a
// service name and no human identity; a HUMAN actor carries the role, DCA and
// region scope resolved server-side from the authenticated session. Nothing
// here is ever taken from client-supplied request fields.
type Actor struct {
	Type ActorType

	// SYSTEM identity
	ServiceName string

	// HUMAN identity
	UserID            types.ID
	Email             string
	Role              Role
	DCAID             types.ID // zero unless the role is DCA-side
	AccessibleRegions []types.ID
	IsGlobalAdmin     bool
}

// SystemActor builds a service actor.
func SystemActor(serviceName string) Actor {
	return Actor{Type: ActorTypeSystem, ServiceName: serviceName}
}

// IsSystem reports whether the actor is a service identity.
func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystem
}

// ActorID returns the audit-stable identifier: the service name for SYSTEM
// actors, the user id for humans.
func (a Actor) ActorID() string {
	if a.IsSystem() {
		return a.ServiceName
	}
	return a.UserID.String()
}

// Can checks the actor's role against the static catalog. SYSTEM actors do
// not hold human permissions; their allowed surface is the ingestion API.
func (a Actor) Can(perm Permission) bool {
	if a.IsSystem() {
		return false
	}
	return HasPermission(a.Role, perm)
}
