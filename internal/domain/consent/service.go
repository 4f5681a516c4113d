package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// ErrNotOwner is returned when someone other than the granting patient
// attempts to revoke a consent.
var ErrNotOwner = errors.New("consent does not belong to this patient")

// ErrInvalidGrant is returned when a grant request fails validation.
var ErrInvalidGrant = errors.New("invalid consent grant")

// Directory resolves actor ids to human-readable names for listing
// endpoints. Lookups are best-effort; a failed lookup degrades to an
// empty name, never to a failed listing.
type Directory interface {
	DisplayName(ctx context.Context, kind auth.ActorKind, id uuid.UUID) (string, error)
}

// Service implements consent granting, revocation and checking.
type Service struct {
	repo        Repository
	directory   Directory
	logger      zerolog.Logger
	defaultDays int
}

func NewService(repo Repository, directory Directory, logger zerolog.Logger, defaultDays int) *Service {
	if defaultDays <= 0 {
		defaultDays = 365
	}
	return &Service{
		repo:        repo,
		directory:   directory,
		logger:      logger.With().Str("component", "consent").Logger(),
		defaultDays: defaultDays,
	}
}

// GrantRequest carries the inputs for a new consent grant.
type GrantRequest struct {
	PatientID     uuid.UUID
	GrantedToType auth.ActorKind
	GrantedToID   uuid.UUID
	ConsentType   string
	ExpiresInDays int
	ConsentMethod string
	IPAddress     string
	SignatureData string
	Scopes        []Scope
}

// Grant records a new consent. Expiry defaults to the configured window
// when ExpiresInDays is zero; a negative value means no expiry. Existing
// grants for the same pair are left untouched: overlapping records
// coexist and access checks OR across them.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*Record, error) {
	if !ValidConsentType(req.ConsentType) {
		return nil, fmt.Errorf("%w: unknown consent type %q", ErrInvalidGrant, req.ConsentType)
	}
	if !ValidGranteeKind(req.GrantedToType) {
		return nil, fmt.Errorf("%w: invalid grantee type %q", ErrInvalidGrant, req.GrantedToType)
	}
	if req.GrantedToID == uuid.Nil {
		return nil, fmt.Errorf("%w: grantee id is required", ErrInvalidGrant)
	}
	if req.ConsentType == TypeCustom && len(req.Scopes) == 0 {
		return nil, fmt.Errorf("%w: CUSTOM consent requires at least one scope", ErrInvalidGrant)
	}

	days := req.ExpiresInDays
	if days == 0 {
		days = s.defaultDays
	}
	var expiresAt *time.Time
	if days > 0 {
		t := time.Now().AddDate(0, 0, days)
		expiresAt = &t
	}

	method := req.ConsentMethod
	if method == "" {
		method = "digital"
	}

	rec := &Record{
		PatientID:     req.PatientID,
		GrantedToType: req.GrantedToType,
		GrantedToID:   req.GrantedToID,
		ConsentType:   req.ConsentType,
		Status:        StatusActive,
		ExpiresAt:     expiresAt,
		ConsentMethod: method,
		IPAddress:     req.IPAddress,
		SignatureData: req.SignatureData,
	}
	var scopes []Scope
	if req.ConsentType == TypeCustom {
		scopes = req.Scopes
	}
	if err := s.repo.Create(ctx, rec, scopes); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("consent_id", rec.ID.String()).
		Str("patient_id", rec.PatientID.String()).
		Str("granted_to_type", string(rec.GrantedToType)).
		Str("granted_to_id", rec.GrantedToID.String()).
		Str("consent_type", rec.ConsentType).
		Msg("consent granted")
	return rec, nil
}

// Revoke transitions a consent to revoked. Only the granting patient may
// revoke. Revoking a record that is already revoked or expired is a no-op
// and returns the record unchanged.
func (s *Service) Revoke(ctx context.Context, patientID, consentID uuid.UUID, reason string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if rec.PatientID != patientID {
		return nil, ErrNotOwner
	}
	if rec.Status != StatusActive {
		return rec, nil
	}
	now := time.Now()
	if err := s.repo.MarkRevoked(ctx, consentID, reason, now); err != nil {
		return nil, err
	}
	rec.Status = StatusRevoked
	rec.RevokedAt = &now
	rec.RevokedReason = reason
	s.logger.Info().
		Str("consent_id", consentID.String()).
		Str("patient_id", patientID.String()).
		Msg("consent revoked")
	return rec, nil
}

// CheckConsent reports whether the grantee holds an active, unexpired
// consent from the patient covering dataType. An empty dataType checks for
// any live grant. The check fails closed: a storage error denies access.
func (s *Service) CheckConsent(ctx context.Context, patientID uuid.UUID, granteeType auth.ActorKind, granteeID uuid.UUID, dataType string) bool {
	records, err := s.repo.ListActive(ctx, patientID, granteeType, granteeID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("patient_id", patientID.String()).
			Str("grantee_id", granteeID.String()).
			Msg("consent check failed, denying access")
		return false
	}
	now := time.Now()
	for _, rec := range records {
		if rec.Expired(now) {
			continue
		}
		var scopes []Scope
		if rec.ConsentType == TypeCustom {
			scopes, err = s.repo.GetScopes(ctx, rec.ID)
			if err != nil {
				s.logger.Error().Err(err).
					Str("consent_id", rec.ID.String()).
					Msg("scope lookup failed, skipping record")
				continue
			}
		}
		if rec.Covers(dataType, scopes) {
			return true
		}
	}
	return false
}

// GetConsentDetails returns a record with its CUSTOM scopes.
func (s *Service) GetConsentDetails(ctx context.Context, id uuid.UUID) (*Details, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Details{Record: rec}
	if rec.ConsentType == TypeCustom {
		d.Scopes, err = s.repo.GetScopes(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// GetPatientConsents lists everything a patient has granted, decorated
// with grantee names. A non-empty status narrows the listing. Listing
// errors degrade to an empty slice so a dashboard render never hard-fails
// on a storage hiccup.
func (s *Service) GetPatientConsents(ctx context.Context, patientID uuid.UUID, status string) []*Decorated {
	records, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("patient_id", patientID.String()).
			Msg("failed to list patient consents")
		return []*Decorated{}
	}
	out := make([]*Decorated, 0, len(records))
	for _, rec := range records {
		if status != "" && rec.Status != status {
			continue
		}
		d := &Decorated{Record: rec}
		if name, err := s.directory.DisplayName(ctx, rec.GrantedToType, rec.GrantedToID); err == nil {
			d.GrantedToName = name
		}
		out = append(out, d)
	}
	return out
}

// GetGrantedConsents lists every consent naming the grantee, decorated
// with patient names. Same filtering and degradation behavior as
// GetPatientConsents.
func (s *Service) GetGrantedConsents(ctx context.Context, granteeType auth.ActorKind, granteeID uuid.UUID, status string) []*Decorated {
	records, err := s.repo.ListByGrantee(ctx, granteeType, granteeID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("grantee_id", granteeID.String()).
			Msg("failed to list granted consents")
		return []*Decorated{}
	}
	out := make([]*Decorated, 0, len(records))
	for _, rec := range records {
		if status != "" && rec.Status != status {
			continue
		}
		d := &Decorated{Record: rec}
		if name, err := s.directory.DisplayName(ctx, auth.KindPatient, rec.PatientID); err == nil {
			d.PatientName = name
		}
		out = append(out, d)
	}
	return out
}

// ExpireOldConsents transitions every active record with a past expiry to
// expired and returns the number of rows changed. Intended for a periodic
// sweep; checks are already expiry-safe without it.
func (s *Service) ExpireOldConsents(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOld(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("expired", n).Msg("expired stale consents")
	}
	return n, nil
}
