package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ActorKind identifies which of the three account populations an actor
// belongs to. Permission and consent resolution branch on it exhaustively.
type ActorKind string

const (
	KindPatient         ActorKind = "client"
	KindLawFirm         ActorKind = "lawfirm"
	KindMedicalProvider ActorKind = "medical_provider"
)

// Actor is the authenticated identity consumed by the enforcement pipeline.
// It is a closed union: Patient, LawFirm, and MedicalProvider are the only
// implementations. Code switching on the concrete type can treat the three
// cases as exhaustive.
type Actor interface {
	ActorID() uuid.UUID
	Kind() ActorKind
}

// Patient is a client account. Patients own their consent records and
// receive permissions through per-user role assignments.
type Patient struct {
	ID uuid.UUID
}

func (p Patient) ActorID() uuid.UUID { return p.ID }
func (p Patient) Kind() ActorKind    { return KindPatient }

// LawFirm is a law-firm account. Every law firm holds the identical
// capability set of the fixed LAW_FIRM_ADMIN role; the id never influences
// permission outcomes.
type LawFirm struct {
	ID uuid.UUID
}

func (f LawFirm) ActorID() uuid.UUID { return f.ID }
func (f LawFirm) Kind() ActorKind    { return KindLawFirm }

// MedicalProvider is a medical-provider account, mirroring LawFirm against
// the fixed MEDICAL_PROVIDER_ADMIN role.
type MedicalProvider struct {
	ID uuid.UUID
}

func (m MedicalProvider) ActorID() uuid.UUID { return m.ID }
func (m MedicalProvider) Kind() ActorKind    { return KindMedicalProvider }

// ParseActor builds an Actor from the string form carried in token claims.
func ParseActor(kind string, id uuid.UUID) (Actor, error) {
	switch ActorKind(kind) {
	case KindPatient:
		return Patient{ID: id}, nil
	case KindLawFirm:
		return LawFirm{ID: id}, nil
	case KindMedicalProvider:
		return MedicalProvider{ID: id}, nil
	default:
		return nil, fmt.Errorf("unknown actor type %q", kind)
	}
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor attaches the authenticated actor to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext retrieves the authenticated actor, or nil when the
// request is unauthenticated.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey).(Actor)
	return a
}
