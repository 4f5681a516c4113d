package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// Record is one grant of PHI access from a patient to a grantee. Records
// are never hard-deleted: active is the only live state, and the two
// terminal states are revoked (manual) and expired (sweep). Several records
// may coexist for the same (patient, grantee) pair; access is permitted if
// any active, unexpired record covers the requested data type.
type Record struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	PatientID     uuid.UUID      `db:"patient_id" json:"patient_id"`
	GrantedToType auth.ActorKind `db:"granted_to_type" json:"granted_to_type"`
	GrantedToID   uuid.UUID      `db:"granted_to_id" json:"granted_to_id"`
	ConsentType   string         `db:"consent_type" json:"consent_type"`
	Status        string         `db:"status" json:"status"`
	ExpiresAt     *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	ConsentMethod string         `db:"consent_method" json:"consent_method"`
	IPAddress     string         `db:"ip_address" json:"ip_address,omitempty"`
	SignatureData string         `db:"signature_data" json:"signature_data,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	RevokedAt     *time.Time     `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason string         `db:"revoked_reason" json:"revoked_reason,omitempty"`
}

// Scope is one per-data-type flag row of a CUSTOM record. Scopes are
// created atomically with their parent and read-only afterwards.
type Scope struct {
	ConsentID uuid.UUID `db:"consent_id" json:"consent_id"`
	DataType  string    `db:"data_type" json:"data_type"`
	CanView   bool      `db:"can_view" json:"can_view"`
	CanEdit   bool      `db:"can_edit" json:"can_edit"`
}

// Record statuses.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
)

// Consent types.
const (
	TypeFullAccess     = "FULL_ACCESS"
	TypeMedicalRecords = "MEDICAL_RECORDS_ONLY"
	TypeBillingOnly    = "BILLING_ONLY"
	TypeLitigationOnly = "LITIGATION_ONLY"
	TypeCustom         = "CUSTOM"
)

// Data types used by scoped checks.
const (
	DataMedicalRecords = "medical_records"
	DataBilling        = "billing"
	DataLitigation     = "litigation"
)

// Covers reports whether this record permits viewing the given data type.
// An empty dataType asks only "is there any grant at all". scopes are the
// record's CUSTOM scope rows; ignored for other types. Exact equality
// between consent type and data type also counts, as an escape hatch for
// ad-hoc types. Expiry and status are the caller's concern: Covers assumes
// the record is live.
func (r *Record) Covers(dataType string, scopes []Scope) bool {
	if dataType == "" {
		return true
	}
	switch r.ConsentType {
	case TypeFullAccess:
		return true
	case TypeMedicalRecords:
		return dataType == DataMedicalRecords
	case TypeBillingOnly:
		return dataType == DataBilling
	case TypeLitigationOnly:
		return dataType == DataLitigation
	case TypeCustom:
		for _, s := range scopes {
			if s.DataType == dataType && s.CanView {
				return true
			}
		}
		return false
	default:
		return r.ConsentType == dataType
	}
}

// Expired reports whether the record's expiry has passed, regardless of
// stored status. The sweep updates status asynchronously, so the two can
// diverge; expiry wins.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// ValidConsentType reports whether t is one of the defined consent types.
func ValidConsentType(t string) bool {
	switch t {
	case TypeFullAccess, TypeMedicalRecords, TypeBillingOnly, TypeLitigationOnly, TypeCustom:
		return true
	}
	return false
}

// ValidGranteeKind reports whether k can receive a consent grant. Patients
// cannot be grantees.
func ValidGranteeKind(k auth.ActorKind) bool {
	return k == auth.KindLawFirm || k == auth.KindMedicalProvider
}

// Decorated is a record enriched with counterparty display names for
// listing endpoints.
type Decorated struct {
	*Record
	GrantedToName string `json:"granted_to_name,omitempty"`
	PatientName   string `json:"patient_name,omitempty"`
}

// Details is one record together with its CUSTOM scopes.
type Details struct {
	*Record
	Scopes []Scope `json:"scopes,omitempty"`
}
