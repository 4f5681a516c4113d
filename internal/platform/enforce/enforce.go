// Package enforce is the access-control pipeline guarding PHI routes:
// permission check first, then consent check, then the handler. Each
// stage produces an explicit decision and a matching audit entry rather
// than mutating the request.
package enforce

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/internal/domain/audit"
	"github.com/casebridge/casebridge/internal/platform/auth"
)

// PermissionChecker answers role-based permission questions.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, actor auth.Actor, permission string) bool
	IsSensitivePermission(ctx context.Context, permission string) bool
}

// ConsentChecker answers whether a grantee holds live consent from a
// patient for a data type.
type ConsentChecker interface {
	CheckConsent(ctx context.Context, patientID uuid.UUID, granteeType auth.ActorKind, granteeID uuid.UUID, dataType string) bool
}

// Auditor appends trail entries. Implementations never fail the caller.
type Auditor interface {
	Log(ctx context.Context, e *audit.Entry) *audit.Entry
}

// Grant describes the consent basis under which a handler is running. It
// is attached to the request context by RequireConsent and AnnotateConsent
// so downstream code can distinguish self-access from consented access.
type Grant struct {
	Verified      bool
	SelfAccess    bool
	PatientID     uuid.UUID
	GrantedToType auth.ActorKind
	GrantedToID   uuid.UUID
	DataType      string
}

type contextKey struct{ name string }

var grantKey = contextKey{"consent-grant"}

// WithGrant attaches a grant to the context.
func WithGrant(ctx context.Context, g *Grant) context.Context {
	return context.WithValue(ctx, grantKey, g)
}

// GrantFromContext returns the grant attached by the pipeline, or nil when
// the route ran without a consent stage.
func GrantFromContext(ctx context.Context) *Grant {
	g, _ := ctx.Value(grantKey).(*Grant)
	return g
}

// Pipeline builds the guard middlewares used on protected routes.
type Pipeline struct {
	perms    PermissionChecker
	consents ConsentChecker
	auditor  Auditor
	logger   zerolog.Logger
}

func NewPipeline(perms PermissionChecker, consents ConsentChecker, auditor Auditor, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		perms:    perms,
		consents: consents,
		auditor:  auditor,
		logger:   logger.With().Str("component", "enforce").Logger(),
	}
}

// RequirePermission rejects with 403 unless the actor holds the named
// permission. Denials are audited as PERMISSION_DENIED; allowed use of a
// sensitive permission is audited as SENSITIVE_PERMISSION_USED. Firm and
// provider actors are checked against their fixed admin role, patients
// against their personal assignments.
func (p *Pipeline) RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			actor := auth.ActorFromContext(ctx)
			if actor == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			if !p.perms.CheckPermission(ctx, actor, permission) {
				p.auditor.Log(ctx, &audit.Entry{
					ActorID:   actor.ActorID(),
					ActorType: string(actor.Kind()),
					Action:    audit.ActionPermissionDenied,
					Status:    audit.StatusDenied,
					IPAddress: c.RealIP(),
					UserAgent: c.Request().UserAgent(),
					Metadata: map[string]interface{}{
						"permission": permission,
						"path":       c.Path(),
					},
				})
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"message":    "insufficient permissions",
					"permission": permission,
				})
			}

			if p.perms.IsSensitivePermission(ctx, permission) {
				p.auditor.Log(ctx, &audit.Entry{
					ActorID:   actor.ActorID(),
					ActorType: string(actor.Kind()),
					Action:    audit.ActionSensitivePermission,
					Status:    audit.StatusSuccess,
					IPAddress: c.RealIP(),
					UserAgent: c.Request().UserAgent(),
					Metadata: map[string]interface{}{
						"permission": permission,
						"path":       c.Path(),
					},
				})
			}
			return next(c)
		}
	}
}

// RequireConsent guards a PHI route keyed by a patient id path parameter.
// A patient reaching their own record passes without a consent lookup.
// Firms and providers must hold a live consent covering dataType; an
// empty dataType requires any live grant. Denials return a structured 403
// telling the client consent is the missing ingredient, and every outcome
// lands in the audit trail after the handler runs.
func (p *Pipeline) RequireConsent(patientParam, dataType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			actor := auth.ActorFromContext(ctx)
			if actor == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			patientID, err := uuid.Parse(c.Param(patientParam))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
			}

			if actor.Kind() == auth.KindPatient {
				if actor.ActorID() == patientID {
					grant := &Grant{
						Verified:   true,
						SelfAccess: true,
						PatientID:  patientID,
						DataType:   dataType,
					}
					c.SetRequest(c.Request().WithContext(WithGrant(ctx, grant)))
					return p.runAudited(c, next, actor, grant, audit.ActionPHIAccess)
				}
				// Consent flows from patients to firms and providers,
				// never between patients.
				p.logDenied(ctx, c, actor, patientID, dataType)
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"message":         "access denied",
					"requiresConsent": false,
					"patientId":       patientID,
					"dataType":        dataType,
				})
			}

			if !p.consents.CheckConsent(ctx, patientID, actor.Kind(), actor.ActorID(), dataType) {
				p.logDenied(ctx, c, actor, patientID, dataType)
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"message":         "patient consent required",
					"requiresConsent": true,
					"patientId":       patientID,
					"dataType":        dataType,
				})
			}

			grant := &Grant{
				Verified:      true,
				PatientID:     patientID,
				GrantedToType: actor.Kind(),
				GrantedToID:   actor.ActorID(),
				DataType:      dataType,
			}
			c.SetRequest(c.Request().WithContext(WithGrant(ctx, grant)))
			return p.runAudited(c, next, actor, grant, audit.ActionPHIAccessConsent)
		}
	}
}

// AnnotateConsent verifies consent but never rejects: routes whose
// handlers filter per-record use it to learn whether a blanket grant
// exists. No audit entry is written; the handler owns its own trail.
func (p *Pipeline) AnnotateConsent(patientParam, dataType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			actor := auth.ActorFromContext(ctx)
			if actor == nil {
				return next(c)
			}
			patientID, err := uuid.Parse(c.Param(patientParam))
			if err != nil {
				return next(c)
			}

			grant := &Grant{
				PatientID:     patientID,
				GrantedToType: actor.Kind(),
				GrantedToID:   actor.ActorID(),
				DataType:      dataType,
			}
			if actor.Kind() == auth.KindPatient && actor.ActorID() == patientID {
				grant.Verified = true
				grant.SelfAccess = true
			} else if actor.Kind() != auth.KindPatient {
				grant.Verified = p.consents.CheckConsent(ctx, patientID, actor.Kind(), actor.ActorID(), dataType)
			}
			c.SetRequest(c.Request().WithContext(WithGrant(ctx, grant)))
			return next(c)
		}
	}
}

// runAudited executes the handler and then records the PHI access with a
// status reflecting the handler's outcome.
func (p *Pipeline) runAudited(c echo.Context, next echo.HandlerFunc, actor auth.Actor, grant *Grant, action string) error {
	err := next(c)

	status := audit.StatusSuccess
	if err != nil {
		status = audit.StatusFailure
	}
	pid := grant.PatientID
	meta := map[string]interface{}{"path": c.Path()}
	if grant.SelfAccess {
		meta["self_access"] = true
	}
	if grant.DataType != "" {
		meta["data_type"] = grant.DataType
	}
	p.auditor.Log(c.Request().Context(), &audit.Entry{
		ActorID:      actor.ActorID(),
		ActorType:    string(actor.Kind()),
		Action:       action,
		TargetUserID: &pid,
		Status:       status,
		IPAddress:    c.RealIP(),
		UserAgent:    c.Request().UserAgent(),
		Metadata:     meta,
	})
	return err
}

func (p *Pipeline) logDenied(ctx context.Context, c echo.Context, actor auth.Actor, patientID uuid.UUID, dataType string) {
	pid := patientID
	p.auditor.Log(ctx, &audit.Entry{
		ActorID:      actor.ActorID(),
		ActorType:    string(actor.Kind()),
		Action:       audit.ActionConsentDenied,
		TargetUserID: &pid,
		Status:       audit.StatusDenied,
		IPAddress:    c.RealIP(),
		UserAgent:    c.Request().UserAgent(),
		Metadata: map[string]interface{}{
			"path":      c.Path(),
			"data_type": dataType,
		},
	})
}
