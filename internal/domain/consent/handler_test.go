package consent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/internal/domain/audit"
	"github.com/casebridge/casebridge/internal/platform/auth"
)

type memAuditRepo struct {
	entries []*audit.Entry
}

func (m *memAuditRepo) Insert(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditRepo) ListPHIAccess(context.Context, uuid.UUID, audit.PHIAccessQuery) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (m *memAuditRepo) FailedLogins(context.Context, time.Time, int) ([]*audit.FailedLoginGroup, error) {
	return nil, nil
}

func (m *memAuditRepo) SuspiciousActivity(context.Context, time.Time, int) ([]*audit.SuspiciousActor, error) {
	return nil, nil
}

func newTestHandler(repo *mockRepo, auditRepo *memAuditRepo) *Handler {
	svc := newTestService(repo)
	auditor := audit.NewService(auditRepo, audit.LogAlerter{Logger: zerolog.Nop()}, time.Second)
	return NewHandler(svc, auditor)
}

func newRequest(t *testing.T, method, target string, body string, actor auth.Actor) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestGrantHandler(t *testing.T) {
	repo := newMockRepo()
	auditRepo := &memAuditRepo{}
	h := newTestHandler(repo, auditRepo)
	patientID := uuid.New()
	firmID := uuid.New()

	body := `{"grantedToType":"lawfirm","grantedToId":"` + firmID.String() + `","consentType":"FULL_ACCESS"}`
	c, rec := newRequest(t, http.MethodPost, "/api/v1/consent/grant", body, auth.Patient{ID: patientID})

	if err := h.Grant(c); err != nil {
		t.Fatalf("Grant handler failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Message string `json:"message"`
		Consent Record `json:"consent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if got.Message == "" {
		t.Errorf("expected a message field, got %s", rec.Body.String())
	}
	if got.Consent.PatientID != patientID {
		t.Errorf("patient id not taken from the authenticated actor")
	}

	if len(auditRepo.entries) != 1 || auditRepo.entries[0].Action != audit.ActionConsentGranted {
		t.Errorf("expected one CONSENT_GRANTED audit entry, got %+v", auditRepo.entries)
	}
}

func TestGrantHandlerRejectsNonPatients(t *testing.T) {
	h := newTestHandler(newMockRepo(), &memAuditRepo{})
	c, _ := newRequest(t, http.MethodPost, "/api/v1/consent/grant",
		`{"grantedToType":"lawfirm","grantedToId":"`+uuid.NewString()+`","consentType":"FULL_ACCESS"}`,
		auth.LawFirm{ID: uuid.New()})

	err := h.Grant(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRevokeHandler(t *testing.T) {
	repo := newMockRepo()
	auditRepo := &memAuditRepo{}
	h := newTestHandler(repo, auditRepo)
	patientID := uuid.New()

	rec := &Record{PatientID: patientID, GrantedToType: auth.KindLawFirm, GrantedToID: uuid.New(),
		ConsentType: TypeFullAccess, Status: StatusActive}
	repo.Create(context.Background(), rec, nil)

	c, w := newRequest(t, http.MethodPost, "/api/v1/consent/revoke/"+rec.ID.String(),
		`{"reason":"case settled"}`, auth.Patient{ID: patientID})
	c.SetParamNames("id")
	c.SetParamValues(rec.ID.String())

	if err := h.Revoke(c); err != nil {
		t.Fatalf("Revoke handler failed: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Message string `json:"message"`
		Consent Record `json:"consent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Message == "" || resp.Consent.ID != rec.ID {
		t.Errorf("expected message and consent fields, got %s", w.Body.String())
	}
	if rec.Status != StatusRevoked {
		t.Errorf("record not revoked")
	}
	if len(auditRepo.entries) != 1 || auditRepo.entries[0].Action != audit.ActionConsentRevoked {
		t.Errorf("expected one CONSENT_REVOKED audit entry")
	}
}

func TestRevokeHandlerForeignConsent(t *testing.T) {
	repo := newMockRepo()
	h := newTestHandler(repo, &memAuditRepo{})

	rec := &Record{PatientID: uuid.New(), GrantedToType: auth.KindLawFirm, GrantedToID: uuid.New(),
		ConsentType: TypeFullAccess, Status: StatusActive}
	repo.Create(context.Background(), rec, nil)

	c, _ := newRequest(t, http.MethodPost, "/api/v1/consent/revoke/"+rec.ID.String(), `{}`, auth.Patient{ID: uuid.New()})
	c.SetParamNames("id")
	c.SetParamValues(rec.ID.String())

	err := h.Revoke(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestStatusHandler(t *testing.T) {
	repo := newMockRepo()
	h := newTestHandler(repo, &memAuditRepo{})
	patientID := uuid.New()
	firmID := uuid.New()

	rec := &Record{PatientID: patientID, GrantedToType: auth.KindLawFirm, GrantedToID: firmID,
		ConsentType: TypeBillingOnly, Status: StatusActive}
	repo.Create(context.Background(), rec, nil)

	c, w := newRequest(t, http.MethodGet, "/api/v1/consent/status/"+patientID.String()+"?dataType=billing", "", auth.LawFirm{ID: firmID})
	c.SetParamNames("patientId")
	c.SetParamValues(patientID.String())

	if err := h.Status(c); err != nil {
		t.Fatalf("Status handler failed: %v", err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp["hasConsent"] != true {
		t.Errorf("expected hasConsent true, got %v", resp["hasConsent"])
	}
	if resp["grantedToType"] != string(auth.KindLawFirm) || resp["grantedToId"] != firmID.String() {
		t.Errorf("expected grantee identity in status body, got %v", resp)
	}
}

func TestStatusHandlerPatientForbidden(t *testing.T) {
	h := newTestHandler(newMockRepo(), &memAuditRepo{})
	c, _ := newRequest(t, http.MethodGet, "/api/v1/consent/status/"+uuid.NewString(), "", auth.Patient{ID: uuid.New()})
	c.SetParamNames("patientId")
	c.SetParamValues(uuid.NewString())

	err := h.Status(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient actor, got %v", err)
	}
}

func TestGetByIDAccessControl(t *testing.T) {
	repo := newMockRepo()
	h := newTestHandler(repo, &memAuditRepo{})
	patientID := uuid.New()
	firmID := uuid.New()

	rec := &Record{PatientID: patientID, GrantedToType: auth.KindLawFirm, GrantedToID: firmID,
		ConsentType: TypeFullAccess, Status: StatusActive}
	repo.Create(context.Background(), rec, nil)

	run := func(actor auth.Actor) (int, error) {
		c, w := newRequest(t, http.MethodGet, "/api/v1/consent/"+rec.ID.String(), "", actor)
		c.SetParamNames("id")
		c.SetParamValues(rec.ID.String())
		err := h.GetByID(c)
		return w.Code, err
	}

	c, w := newRequest(t, http.MethodGet, "/api/v1/consent/"+rec.ID.String(), "", auth.Patient{ID: patientID})
	c.SetParamNames("id")
	c.SetParamValues(rec.ID.String())
	if err := h.GetByID(c); err != nil {
		t.Fatalf("owner should see the record: %v", err)
	}
	var byID struct {
		Consent *Details `json:"consent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &byID); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if byID.Consent == nil || byID.Consent.ID != rec.ID {
		t.Errorf("expected the record under a consent field, got %s", w.Body.String())
	}
	if code, err := run(auth.LawFirm{ID: firmID}); err != nil || code != http.StatusOK {
		t.Errorf("grantee should see the record: code=%d err=%v", code, err)
	}
	if _, err := run(auth.LawFirm{ID: uuid.New()}); err == nil {
		t.Error("unrelated firm should be rejected")
	}
}

func TestListingEnvelopes(t *testing.T) {
	repo := newMockRepo()
	h := newTestHandler(repo, &memAuditRepo{})
	patientID := uuid.New()
	firmID := uuid.New()

	rec := &Record{PatientID: patientID, GrantedToType: auth.KindLawFirm, GrantedToID: firmID,
		ConsentType: TypeFullAccess, Status: StatusActive}
	repo.Create(context.Background(), rec, nil)

	c, w := newRequest(t, http.MethodGet, "/api/v1/consent/my-consents", "", auth.Patient{ID: patientID})
	if err := h.MyConsents(c); err != nil {
		t.Fatalf("MyConsents failed: %v", err)
	}
	var mine struct {
		Total    int          `json:"total"`
		Consents []*Decorated `json:"consents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &mine); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if mine.Total != 1 || len(mine.Consents) != 1 {
		t.Errorf("expected total and consents fields, got %s", w.Body.String())
	}

	c, w = newRequest(t, http.MethodGet, "/api/v1/consent/granted", "", auth.LawFirm{ID: firmID})
	if err := h.Granted(c); err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	var granted struct {
		Total    int          `json:"total"`
		Consents []*Decorated `json:"consents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &granted); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if granted.Total != 1 || len(granted.Consents) != 1 {
		t.Errorf("expected total and consents fields, got %s", w.Body.String())
	}
}
