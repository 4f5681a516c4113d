package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// Alerter is the operational channel notified when an audit write is lost.
// The platform wires this to its alerting collaborator; the default
// implementation logs at error level.
type Alerter interface {
	Alert(ctx context.Context, msg string, err error)
}

// LogAlerter reports audit-write failures through a zerolog logger.
type LogAlerter struct {
	Logger zerolog.Logger
}

func (a LogAlerter) Alert(ctx context.Context, msg string, err error) {
	a.Logger.Error().Err(err).Str("channel", "audit").Msg(msg)
}

// Service appends entries to the audit trail and serves its read side.
//
// Writes are fail-open: Log never returns an error and never panics, because
// losing an audit row must not take down the action that triggered it. This
// is the inverse of the fail-closed posture of the consent and permission
// checks.
type Service struct {
	repo         Repository
	alerter      Alerter
	writeTimeout time.Duration
}

func NewService(repo Repository, alerter Alerter, writeTimeout time.Duration) *Service {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Service{repo: repo, alerter: alerter, writeTimeout: writeTimeout}
}

// Log appends one entry. The insert runs on a context detached from the
// request's cancellation but bounded by the write timeout, so a slow store
// cannot hold the primary response indefinitely and a cancelled request
// cannot lose its audit row. On failure the entry is reported to the alerter
// and nil is returned; the caller proceeds either way.
func (s *Service) Log(ctx context.Context, e *Entry) *Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.repo.Insert(wctx, e); err != nil {
		s.alerter.Alert(ctx, "audit entry lost: "+e.Action, err)
		return nil
	}
	return e
}

// LogPHIAccess records one access to a patient's protected health
// information.
func (s *Service) LogPHIAccess(ctx context.Context, actorID uuid.UUID, actorType auth.ActorKind, action string, patientID uuid.UUID, recordType string, recordID *uuid.UUID, ip, userAgent string, success bool) *Entry {
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	pid := patientID
	return s.Log(ctx, &Entry{
		ActorID:      actorID,
		ActorType:    string(actorType),
		Action:       action,
		EntityType:   &recordType,
		EntityID:     recordID,
		TargetUserID: &pid,
		Status:       status,
		IPAddress:    ip,
		UserAgent:    userAgent,
	})
}

// LogAuth records a login attempt. A nil userID marks an anonymous or failed
// attempt where no account was resolved; the actor id stays uuid.Nil.
func (s *Service) LogAuth(ctx context.Context, userID *uuid.UUID, email, action, ip, userAgent string, success bool, failureReason string) *Entry {
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	actorID := uuid.Nil
	if userID != nil {
		actorID = *userID
	}
	meta := map[string]interface{}{"email": email}
	if failureReason != "" {
		meta["failure_reason"] = failureReason
	}
	return s.Log(ctx, &Entry{
		ActorID:   actorID,
		ActorType: string(auth.KindPatient),
		Action:    action,
		Status:    status,
		IPAddress: ip,
		UserAgent: userAgent,
		Metadata:  meta,
	})
}

// GetPHIAccessLogs returns the PHI access trail for one patient, newest
// first, for breach investigation.
func (s *Service) GetPHIAccessLogs(ctx context.Context, patientID uuid.UUID, q PHIAccessQuery) ([]*Entry, int, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	return s.repo.ListPHIAccess(ctx, patientID, q)
}

// GetFailedLoginAttempts returns failed-login clusters of three or more
// attempts inside the window, a simple brute-force heuristic.
func (s *Service) GetFailedLoginAttempts(ctx context.Context, since time.Time, limit int) ([]*FailedLoginGroup, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.FailedLogins(ctx, since, limit)
}

// DetectSuspiciousActivity returns actors whose PHI access count inside the
// window exceeds threshold.
func (s *Service) DetectSuspiciousActivity(ctx context.Context, since time.Time, threshold int) ([]*SuspiciousActor, error) {
	if threshold <= 0 {
		threshold = 100
	}
	return s.repo.SuspiciousActivity(ctx, since, threshold)
}
