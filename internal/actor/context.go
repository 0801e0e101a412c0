package actor

import (
	"context"
	"fmt"
)

// Role identifies who is acting.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the explicit identity passed to every registry, coordinator and channel call.
type Actor struct {
	Role Role  `json:"role"`
	ID   int64 `json:"id"`
}

// System is used by background workers.
var System = Actor{Role: RoleAdmin, ID: 0}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsDoctor() bool { return a.Role == RoleDoctor }

func (a Actor) String() string { return fmt.Sprintf("%s:%d", a.Role, a.ID) }

// Valid reports whether the role is known. Admins may have ID 0.
func (a Actor) Valid() bool {
	switch a.Role {
	case RoleAdmin:
		return a.ID >= 0
	case RolePatient, RoleDoctor:
		return a.ID > 0
	}
	return false
}

type ctxKey string

const actorKey ctxKey = "visits.actor"

// WithActor stores the actor in context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext extracts the actor if present.
func FromContext(ctx context.Context) (Actor, bool) {
	val := ctx.Value(actorKey)
	if val == nil {
		return Actor{}, false
	}
	a, ok := val.(Actor)
	return a, ok && a.Valid()
}
