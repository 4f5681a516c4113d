package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable row of the audit trail. Entries are created once
// per event and never updated or deleted by application code; retention is
// handled by the platform (7 years for compliance).
type Entry struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	ActorID      uuid.UUID              `db:"actor_id" json:"actor_id"`
	ActorType    string                 `db:"actor_type" json:"actor_type"`
	Action       string                 `db:"action" json:"action"`
	EntityType   *string                `db:"entity_type" json:"entity_type,omitempty"`
	EntityID     *uuid.UUID             `db:"entity_id" json:"entity_id,omitempty"`
	TargetUserID *uuid.UUID             `db:"target_user_id" json:"target_user_id,omitempty"`
	Status       string                 `db:"status" json:"status"`
	IPAddress    string                 `db:"ip_address" json:"ip_address"`
	UserAgent    string                 `db:"user_agent" json:"user_agent"`
	Metadata     map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	Timestamp    time.Time              `db:"timestamp" json:"timestamp"`
}

// Entry statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusDenied  = "DENIED"
)

// Well-known actions. PHI access actions share the PHI_ACCESS prefix so the
// anomaly aggregation can select them as a family.
const (
	ActionLoginSuccess        = "LOGIN_SUCCESS"
	ActionLoginFailed         = "LOGIN_FAILED"
	ActionConsentGranted      = "CONSENT_GRANTED"
	ActionConsentRevoked      = "CONSENT_REVOKED"
	ActionConsentDenied       = "CONSENT_DENIED"
	ActionPermissionDenied    = "PERMISSION_DENIED"
	ActionSensitivePermission = "SENSITIVE_PERMISSION_USED"
	ActionPHIAccess           = "PHI_ACCESS"
	ActionPHIAccessConsent    = "PHI_ACCESS_WITH_CONSENT"
)

// FailedLoginGroup is one (actor, email, ip) cluster of failed login
// attempts inside the investigation window.
type FailedLoginGroup struct {
	ActorID     uuid.UUID `json:"actor_id"`
	Email       string    `json:"email"`
	IPAddress   string    `json:"ip_address"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// SuspiciousActor is one (actor, actorType) cluster whose PHI access volume
// exceeded the configured threshold inside the window.
type SuspiciousActor struct {
	ActorID          uuid.UUID `json:"actor_id"`
	ActorType        string    `json:"actor_type"`
	DistinctPatients int       `json:"distinct_patients"`
	TotalAccesses    int       `json:"total_accesses"`
	IPAddresses      []string  `json:"ip_addresses"`
}

// PHIAccessQuery narrows a per-patient access log listing.
type PHIAccessQuery struct {
	Start  *time.Time
	End    *time.Time
	Limit  int
	Offset int
}
