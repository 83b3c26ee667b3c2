package claims

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/middleware"
	"github.com/claimdesk/claimdesk/pkg/pagination"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = middleware.NewRequestValidator()
	return NewHandler(env.svc, 1<<20), env, e
}

func jsonContext(e *echo.Echo, method, body string, id auth.Identity) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func statusOf(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

func TestHandler_Create(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"patient_name":"Jane","patient_age":30,"claimed_amount":500,"policy_type":"REIMBURSEMENT","policy_id":"` + env.policy.ID.String() + `"}`
	c, rec := jsonContext(e, http.MethodPost, body, env.hospitalCaller())

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Claim
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusDraft || got.HospitalID != env.hospital {
		t.Errorf("unexpected claim %+v", got)
	}
}

func TestHandler_Create_IgnoresClientStatus(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"patient_name":"Jane","policy_type":"REIMBURSEMENT","status":"APPROVED","ai_score":100}`
	c, rec := jsonContext(e, http.MethodPost, body, env.hospitalCaller())

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Claim
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusDraft || got.AIScore != nil {
		t.Errorf("client-supplied fields leaked into claim %+v", got)
	}
}

func TestHandler_Create_InvalidPolicyType(t *testing.T) {
	h, env, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, `{"patient_name":"Jane","policy_type":"FREE"}`, env.hospitalCaller())

	if code := statusOf(h.Create(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Get_Forbidden(t *testing.T) {
	h, env, e := newTestHandler()
	claim := env.draft(t, TypeReimbursement)
	c, _ := jsonContext(e, http.MethodGet, "", env.insurerCaller())

	if code := statusOf(h.Get(withID(c, claim.ID))); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestHandler_List(t *testing.T) {
	h, env, e := newTestHandler()
	env.draft(t, TypeReimbursement)
	c, rec := jsonContext(e, http.MethodGet, "", env.hospitalCaller())

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 claim, got %d", resp.Total)
	}
}

func TestHandler_UploadDocument(t *testing.T) {
	h, env, e := newTestHandler()
	claim := env.draft(t, TypeReimbursement)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("declared_name", "Final Bill")
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="bill.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, _ := w.CreatePart(hdr)
	part.Write([]byte("%PDF-1.4"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req = req.WithContext(auth.WithIdentity(req.Context(), env.hospitalCaller()))
	rec := httptest.NewRecorder()
	c := withID(e.NewContext(req, rec), claim.ID)

	if err := h.UploadDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Claim
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.UploadedDocuments) != 1 || got.UploadedDocuments[0].ContentType != "application/pdf" {
		t.Errorf("unexpected documents %+v", got.UploadedDocuments)
	}
}

func TestHandler_UploadDocument_MissingDeclaredName(t *testing.T) {
	h, env, e := newTestHandler()
	claim := env.draft(t, TypeReimbursement)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req = req.WithContext(auth.WithIdentity(req.Context(), env.hospitalCaller()))
	c := withID(e.NewContext(req, httptest.NewRecorder()), claim.ID)

	if code := statusOf(h.UploadDocument(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_SubmitAndDecide(t *testing.T) {
	h, env, e := newTestHandler()
	claim := env.draft(t, TypeCashless)

	c, rec := jsonContext(e, http.MethodPost, "", env.hospitalCaller())
	if err := h.Submit(withID(c, claim.ID)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var submitted Claim
	json.Unmarshal(rec.Body.Bytes(), &submitted)
	if submitted.Status != StatusReviewReady {
		t.Fatalf("expected REVIEW_READY, got %s", submitted.Status)
	}

	c, _ = jsonContext(e, http.MethodPost, `{"decision":"REJECTED"}`, env.insurerCaller())
	if code := statusOf(h.Decide(withID(c, claim.ID))); code != http.StatusBadRequest {
		t.Errorf("expected 400 for rejection without reason, got %d", code)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"decision":"REJECTED","reason":"Not covered"}`, env.insurerCaller())
	if err := h.Decide(withID(c, claim.ID)); err != nil {
		t.Fatalf("decide: %v", err)
	}
	var decided Claim
	json.Unmarshal(rec.Body.Bytes(), &decided)
	if decided.Status != StatusRejected || decided.RejectionReason == nil {
		t.Errorf("unexpected claim %+v", decided)
	}
}

func TestHandler_Decide_InvalidDecision(t *testing.T) {
	h, env, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, `{"decision":"PENDING"}`, env.insurerCaller())

	if code := statusOf(h.Decide(withID(c, uuid.New()))); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Analyze(t *testing.T) {
	h, env, e := newTestHandler()
	claim := env.draft(t, TypeReimbursement)
	c, rec := jsonContext(e, http.MethodPost, "", env.hospitalCaller())

	if err := h.Analyze(withID(c, claim.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp AnalyzeResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Analysis.Score != 85 || resp.Claim == nil || !resp.Claim.AIReadyForReview {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandler_Delete(t *testing.T) {
	h, env, e := newTestHandler()
	claim := env.draft(t, TypeReimbursement)
	c, rec := jsonContext(e, http.MethodDelete, "", env.hospitalCaller())

	if err := h.Delete(withID(c, claim.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	h, env, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "", env.hospitalCaller())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	if code := statusOf(h.Get(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
