package enforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/internal/domain/audit"
	"github.com/casebridge/casebridge/internal/platform/auth"
)

// -- Mock Checkers --

type mockPerms struct {
	allowed   map[string]bool
	sensitive map[string]bool
}

func (m *mockPerms) CheckPermission(_ context.Context, _ auth.Actor, permission string) bool {
	return m.allowed[permission]
}

func (m *mockPerms) IsSensitivePermission(_ context.Context, permission string) bool {
	return m.sensitive[permission]
}

type mockConsents struct {
	allow bool
	calls int
}

func (m *mockConsents) CheckConsent(context.Context, uuid.UUID, auth.ActorKind, uuid.UUID, string) bool {
	m.calls++
	return m.allow
}

type memAuditor struct {
	entries []*audit.Entry
}

func (m *memAuditor) Log(_ context.Context, e *audit.Entry) *audit.Entry {
	m.entries = append(m.entries, e)
	return e
}

func (m *memAuditor) actions() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

func newCtx(actor auth.Actor, patientParam string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/"+patientParam, nil)
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if patientParam != "" {
		c.SetParamNames("patientId")
		c.SetParamValues(patientParam)
	}
	return c, rec
}

func okHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// -- RequirePermission --

func TestRequirePermissionUnauthenticated(t *testing.T) {
	p := NewPipeline(&mockPerms{}, &mockConsents{}, &memAuditor{}, zerolog.Nop())
	c, _ := newCtx(nil, "")

	err := p.RequirePermission("medical_records.view")(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestRequirePermissionDenied(t *testing.T) {
	auditor := &memAuditor{}
	p := NewPipeline(&mockPerms{allowed: map[string]bool{}}, &mockConsents{}, auditor, zerolog.Nop())
	c, rec := newCtx(auth.LawFirm{ID: uuid.New()}, "")

	if err := p.RequirePermission("roles.manage")(okHandler)(c); err != nil {
		t.Fatalf("denial should be written directly, got error %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["permission"] != "roles.manage" {
		t.Errorf("denial body should name the permission, got %v", body)
	}

	if len(auditor.entries) != 1 || auditor.entries[0].Action != audit.ActionPermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED entry, got %v", auditor.actions())
	}
	if auditor.entries[0].Status != audit.StatusDenied {
		t.Errorf("expected DENIED status, got %s", auditor.entries[0].Status)
	}
}

func TestRequirePermissionSensitiveAudited(t *testing.T) {
	auditor := &memAuditor{}
	perms := &mockPerms{
		allowed:   map[string]bool{"audit_logs.view": true},
		sensitive: map[string]bool{"audit_logs.view": true},
	}
	p := NewPipeline(perms, &mockConsents{}, auditor, zerolog.Nop())
	c, rec := newCtx(auth.Patient{ID: uuid.New()}, "")

	if err := p.RequirePermission("audit_logs.view")(okHandler)(c); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Action != audit.ActionSensitivePermission {
		t.Fatalf("expected SENSITIVE_PERMISSION_USED entry, got %v", auditor.actions())
	}
}

func TestRequirePermissionOrdinaryNotAudited(t *testing.T) {
	auditor := &memAuditor{}
	perms := &mockPerms{allowed: map[string]bool{"medical_records.view": true}}
	p := NewPipeline(perms, &mockConsents{}, auditor, zerolog.Nop())
	c, _ := newCtx(auth.Patient{ID: uuid.New()}, "")

	if err := p.RequirePermission("medical_records.view")(okHandler)(c); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(auditor.entries) != 0 {
		t.Errorf("ordinary permission use should not be audited, got %v", auditor.actions())
	}
}

// -- RequireConsent --

func TestRequireConsentSelfAccessSkipsConsentCheck(t *testing.T) {
	auditor := &memAuditor{}
	consents := &mockConsents{allow: false}
	p := NewPipeline(&mockPerms{}, consents, auditor, zerolog.Nop())

	patientID := uuid.New()
	c, rec := newCtx(auth.Patient{ID: patientID}, patientID.String())

	var grant *Grant
	handler := func(c echo.Context) error {
		grant = GrantFromContext(c.Request().Context())
		return c.JSON(http.StatusOK, nil)
	}
	if err := p.RequireConsent("patientId", "medical_records")(handler)(c); err != nil {
		t.Fatalf("self access failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if consents.calls != 0 {
		t.Errorf("self access must not hit the consent store, got %d calls", consents.calls)
	}
	if grant == nil || !grant.SelfAccess || !grant.Verified {
		t.Errorf("expected verified self-access grant, got %+v", grant)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Action != audit.ActionPHIAccess {
		t.Errorf("expected PHI_ACCESS entry for self access, got %v", auditor.actions())
	}
}

func TestRequireConsentPatientCrossAccess(t *testing.T) {
	auditor := &memAuditor{}
	consents := &mockConsents{allow: true}
	p := NewPipeline(&mockPerms{}, consents, auditor, zerolog.Nop())

	c, rec := newCtx(auth.Patient{ID: uuid.New()}, uuid.NewString())
	if err := p.RequireConsent("patientId", "medical_records")(okHandler)(c); err != nil {
		t.Fatalf("denial should be written directly, got %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if consents.calls != 0 {
		t.Errorf("patient cross access must not consult the consent store")
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["requiresConsent"] != false {
		t.Errorf("consent cannot fix patient-to-patient access, got %v", body)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Action != audit.ActionConsentDenied {
		t.Errorf("expected CONSENT_DENIED entry, got %v", auditor.actions())
	}
}

func TestRequireConsentDenied(t *testing.T) {
	auditor := &memAuditor{}
	p := NewPipeline(&mockPerms{}, &mockConsents{allow: false}, auditor, zerolog.Nop())

	patientID := uuid.New()
	c, rec := newCtx(auth.LawFirm{ID: uuid.New()}, patientID.String())
	if err := p.RequireConsent("patientId", "billing")(okHandler)(c); err != nil {
		t.Fatalf("denial should be written directly, got %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["requiresConsent"] != true {
		t.Errorf("expected requiresConsent true, got %v", body)
	}
	if body["patientId"] != patientID.String() {
		t.Errorf("expected patientId in body, got %v", body)
	}
	if body["dataType"] != "billing" {
		t.Errorf("expected dataType in body, got %v", body)
	}

	if len(auditor.entries) != 1 || auditor.entries[0].Action != audit.ActionConsentDenied {
		t.Fatalf("expected CONSENT_DENIED entry, got %v", auditor.actions())
	}
	if auditor.entries[0].Status != audit.StatusDenied {
		t.Errorf("expected DENIED status, got %s", auditor.entries[0].Status)
	}
}

func TestRequireConsentAllowedAuditsOutcome(t *testing.T) {
	auditor := &memAuditor{}
	p := NewPipeline(&mockPerms{}, &mockConsents{allow: true}, auditor, zerolog.Nop())

	patientID := uuid.New()
	firmID := uuid.New()
	c, rec := newCtx(auth.LawFirm{ID: firmID}, patientID.String())

	var grant *Grant
	handler := func(c echo.Context) error {
		grant = GrantFromContext(c.Request().Context())
		return c.JSON(http.StatusOK, nil)
	}
	if err := p.RequireConsent("patientId", "medical_records")(handler)(c); err != nil {
		t.Fatalf("allowed access failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if grant == nil || !grant.Verified || grant.SelfAccess {
		t.Fatalf("expected verified consent grant, got %+v", grant)
	}
	if grant.GrantedToID != firmID || grant.PatientID != patientID {
		t.Errorf("grant parties wrong: %+v", grant)
	}

	if len(auditor.entries) != 1 {
		t.Fatalf("expected one audit entry, got %v", auditor.actions())
	}
	e := auditor.entries[0]
	if e.Action != audit.ActionPHIAccessConsent || e.Status != audit.StatusSuccess {
		t.Errorf("expected successful PHI_ACCESS_WITH_CONSENT, got %s/%s", e.Action, e.Status)
	}
	if e.TargetUserID == nil || *e.TargetUserID != patientID {
		t.Errorf("audit entry should target the patient")
	}
}

func TestRequireConsentHandlerFailureAuditedAsFailure(t *testing.T) {
	auditor := &memAuditor{}
	p := NewPipeline(&mockPerms{}, &mockConsents{allow: true}, auditor, zerolog.Nop())

	c, _ := newCtx(auth.LawFirm{ID: uuid.New()}, uuid.NewString())
	failing := func(c echo.Context) error {
		return fmt.Errorf("backend unavailable")
	}
	if err := p.RequireConsent("patientId", "")(failing)(c); err == nil {
		t.Fatal("handler error should propagate")
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Status != audit.StatusFailure {
		t.Errorf("expected FAILURE status for failed handler, got %+v", auditor.entries)
	}
}

func TestRequireConsentInvalidPatientID(t *testing.T) {
	p := NewPipeline(&mockPerms{}, &mockConsents{}, &memAuditor{}, zerolog.Nop())
	c, _ := newCtx(auth.LawFirm{ID: uuid.New()}, "not-a-uuid")

	err := p.RequireConsent("patientId", "")(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

// -- AnnotateConsent --

func TestAnnotateConsentNeverRejects(t *testing.T) {
	auditor := &memAuditor{}
	p := NewPipeline(&mockPerms{}, &mockConsents{allow: false}, auditor, zerolog.Nop())

	c, rec := newCtx(auth.LawFirm{ID: uuid.New()}, uuid.NewString())
	var grant *Grant
	handler := func(c echo.Context) error {
		grant = GrantFromContext(c.Request().Context())
		return c.JSON(http.StatusOK, nil)
	}
	if err := p.AnnotateConsent("patientId", "medical_records")(handler)(c); err != nil {
		t.Fatalf("annotate must not reject: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if grant == nil || grant.Verified {
		t.Errorf("expected unverified grant annotation, got %+v", grant)
	}
	if len(auditor.entries) != 0 {
		t.Errorf("annotate must not audit, got %v", auditor.actions())
	}
}

func TestAnnotateConsentSelfAccess(t *testing.T) {
	p := NewPipeline(&mockPerms{}, &mockConsents{allow: false}, &memAuditor{}, zerolog.Nop())

	patientID := uuid.New()
	c, _ := newCtx(auth.Patient{ID: patientID}, patientID.String())
	var grant *Grant
	handler := func(c echo.Context) error {
		grant = GrantFromContext(c.Request().Context())
		return nil
	}
	if err := p.AnnotateConsent("patientId", "")(handler)(c); err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if grant == nil || !grant.Verified || !grant.SelfAccess {
		t.Errorf("expected verified self-access annotation, got %+v", grant)
	}
}
