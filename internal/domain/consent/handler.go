package consent

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casebridge/casebridge/internal/domain/audit"
	"github.com/casebridge/casebridge/internal/platform/auth"
)

// Handler exposes the consent lifecycle over HTTP.
type Handler struct {
	svc     *Service
	auditor *audit.Service
}

func NewHandler(svc *Service, auditor *audit.Service) *Handler {
	return &Handler{svc: svc, auditor: auditor}
}

// RegisterRoutes mounts the consent endpoints. All routes assume an
// authenticated actor in context; grant and revoke are patient-only.
func (h *Handler) RegisterRoutes(api *echo.Group, guards ...echo.MiddlewareFunc) {
	g := api.Group("/consent", guards...)
	g.POST("/grant", h.Grant)
	g.POST("/revoke/:id", h.Revoke)
	g.GET("/my-consents", h.MyConsents)
	g.GET("/granted", h.Granted)
	g.GET("/status/:patientId", h.Status)
	g.GET("/:id", h.GetByID)
}

type grantRequest struct {
	GrantedToType string  `json:"grantedToType"`
	GrantedToID   string  `json:"grantedToId"`
	ConsentType   string  `json:"consentType"`
	ExpiresInDays int     `json:"expiresInDays"`
	ConsentMethod string  `json:"consentMethod"`
	SignatureData string  `json:"signatureData"`
	Scopes        []Scope `json:"scopes"`
}

func (h *Handler) Grant(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if actor.Kind() != auth.KindPatient {
		return echo.NewHTTPError(http.StatusForbidden, "only clients can grant consent")
	}

	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	granteeID, err := uuid.Parse(req.GrantedToID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid grantedToId")
	}

	rec, err := h.svc.Grant(c.Request().Context(), GrantRequest{
		PatientID:     actor.ActorID(),
		GrantedToType: auth.ActorKind(req.GrantedToType),
		GrantedToID:   granteeID,
		ConsentType:   req.ConsentType,
		ExpiresInDays: req.ExpiresInDays,
		ConsentMethod: req.ConsentMethod,
		IPAddress:     c.RealIP(),
		SignatureData: req.SignatureData,
		Scopes:        req.Scopes,
	})
	if errors.Is(err, ErrInvalidGrant) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to grant consent")
	}

	h.auditor.Log(c.Request().Context(), &audit.Entry{
		ActorID:      actor.ActorID(),
		ActorType:    string(actor.Kind()),
		Action:       audit.ActionConsentGranted,
		EntityID:     &rec.ID,
		TargetUserID: &rec.PatientID,
		Status:       audit.StatusSuccess,
		IPAddress:    c.RealIP(),
		UserAgent:    c.Request().UserAgent(),
		Metadata: map[string]interface{}{
			"consent_type":    rec.ConsentType,
			"granted_to_type": string(rec.GrantedToType),
			"granted_to_id":   rec.GrantedToID.String(),
		},
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "consent granted",
		"consent": rec,
	})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Revoke(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	consentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consent id")
	}

	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.svc.Revoke(c.Request().Context(), actor.ActorID(), consentID, req.Reason)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	}
	if errors.Is(err, ErrNotOwner) {
		return echo.NewHTTPError(http.StatusForbidden, "consent belongs to another client")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke consent")
	}

	h.auditor.Log(c.Request().Context(), &audit.Entry{
		ActorID:      actor.ActorID(),
		ActorType:    string(actor.Kind()),
		Action:       audit.ActionConsentRevoked,
		EntityID:     &rec.ID,
		TargetUserID: &rec.PatientID,
		Status:       audit.StatusSuccess,
		IPAddress:    c.RealIP(),
		UserAgent:    c.Request().UserAgent(),
		Metadata: map[string]interface{}{
			"reason": req.Reason,
		},
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "consent revoked",
		"consent": rec,
	})
}

// MyConsents lists everything the calling patient has granted, in any
// status, newest first.
func (h *Handler) MyConsents(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if actor.Kind() != auth.KindPatient {
		return echo.NewHTTPError(http.StatusForbidden, "only clients have granted consents")
	}
	consents := h.svc.GetPatientConsents(c.Request().Context(), actor.ActorID(), c.QueryParam("status"))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":    len(consents),
		"consents": consents,
	})
}

// Granted lists every consent naming the calling firm or provider.
func (h *Handler) Granted(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if !ValidGranteeKind(actor.Kind()) {
		return echo.NewHTTPError(http.StatusForbidden, "only law firms and medical providers receive consents")
	}
	consents := h.svc.GetGrantedConsents(c.Request().Context(), actor.Kind(), actor.ActorID(), c.QueryParam("status"))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":    len(consents),
		"consents": consents,
	})
}

// Status reports whether the calling firm or provider currently holds
// consent from a patient, optionally for a specific data type.
func (h *Handler) Status(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if !ValidGranteeKind(actor.Kind()) {
		return echo.NewHTTPError(http.StatusForbidden, "only law firms and medical providers can check consent status")
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	dataType := c.QueryParam("dataType")

	hasConsent := h.svc.CheckConsent(c.Request().Context(), patientID, actor.Kind(), actor.ActorID(), dataType)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"hasConsent":    hasConsent,
		"patientId":     patientID,
		"dataType":      dataType,
		"grantedToType": actor.Kind(),
		"grantedToId":   actor.ActorID(),
	})
}

// GetByID returns one consent with its scopes. Patients see their own
// records; grantees see records naming them.
func (h *Handler) GetByID(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	consentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consent id")
	}

	details, err := h.svc.GetConsentDetails(c.Request().Context(), consentID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load consent")
	}

	isOwner := actor.Kind() == auth.KindPatient && actor.ActorID() == details.PatientID
	isGrantee := actor.Kind() == details.GrantedToType && actor.ActorID() == details.GrantedToID
	if !isOwner && !isGrantee {
		return echo.NewHTTPError(http.StatusForbidden, "consent belongs to another party")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"consent": details})
}
