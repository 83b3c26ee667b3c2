package policies

import (
	"bytes"
	"context"
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

func multipartContext(e *echo.Echo, fields map[string]string, fileName, contentType string, data []byte, id auth.Identity) (echo.Context, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if fileName != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		hdr.Set("Content-Type", contentType)
		part, _ := w.CreatePart(hdr)
		part.Write(data)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func statusOf(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

func TestHandler_CreateInsurerPolicy(t *testing.T) {
	h, _, e := newTestHandler()
	caller := insurerCaller(uuid.New())
	c, rec := jsonContext(e, http.MethodPost,
		`{"name":"Gold","required_documents":[{"document_name":"ID Proof","mandatory":true}]}`, caller)

	if err := h.CreateInsurerPolicy(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Policy
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Status != StatusActive || len(p.RequiredDocuments) != 1 {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestHandler_CreateInsurerPolicy_MissingName(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, `{"coverage_details":"x"}`, insurerCaller(uuid.New()))

	if code := statusOf(h.CreateInsurerPolicy(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateHospitalPolicy(t *testing.T) {
	h, _, e := newTestHandler()
	caller := hospitalCaller(uuid.New())
	c, rec := multipartContext(e, map[string]string{"name": "Own Plan"}, "plan.pdf", "application/pdf", []byte("policy text"), caller)

	if err := h.CreateHospitalPolicy(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Policy
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Status != StatusDraft || p.DocumentHandle == "" {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestHandler_CreateHospitalPolicy_MissingFile(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := multipartContext(e, map[string]string{"name": "Own Plan"}, "", "", nil, hospitalCaller(uuid.New()))

	if code := statusOf(h.CreateHospitalPolicy(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateHospitalPolicy_TooLarge(t *testing.T) {
	env := newTestEnv()
	e := echo.New()
	h := NewHandler(env.svc, 4)
	c, _ := multipartContext(e, map[string]string{"name": "Own Plan"}, "plan.pdf", "application/pdf", []byte("way too long"), hospitalCaller(uuid.New()))

	if code := statusOf(h.CreateHospitalPolicy(c)); code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", code)
	}
}

func TestHandler_ListHospitalPolicies(t *testing.T) {
	h, _, e := newTestHandler()
	caller := hospitalCaller(uuid.New())
	c0, _ := multipartContext(e, map[string]string{"name": "Own"}, "plan.pdf", "application/pdf", []byte("t"), caller)
	if err := h.CreateHospitalPolicy(c0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, rec := jsonContext(e, http.MethodGet, "", caller)
	if err := h.ListHospitalPolicies(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 policy, got %d", resp.Total)
	}
}

func TestHandler_FinalizePolicy(t *testing.T) {
	h, env, e := newTestHandler()
	hospital := uuid.New()
	p, _ := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(hospital), "Plan", nil, pdfFile("t"))

	c, rec := jsonContext(e, http.MethodPut, `[{"document_name":"Lab Report","mandatory":true}]`, hospitalCaller(hospital))
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.FinalizePolicy(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Policy
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusActive || len(got.RequiredDocuments) != 1 || got.RequiredDocuments[0].Name != "Lab Report" {
		t.Errorf("unexpected policy %+v", got)
	}
}

func TestHandler_FinalizePolicy_BlankDocumentName(t *testing.T) {
	h, env, e := newTestHandler()
	hospital := uuid.New()
	p, _ := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(hospital), "Plan", nil, pdfFile("t"))

	c, _ := jsonContext(e, http.MethodPut, `[{"document_name":""}]`, hospitalCaller(hospital))
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(h.FinalizePolicy(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetPolicy_Forbidden(t *testing.T) {
	h, env, e := newTestHandler()
	p, _ := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(uuid.New()), "Plan", nil, pdfFile("t"))

	c, _ := jsonContext(e, http.MethodGet, "", hospitalCaller(uuid.New()))
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(h.GetPolicy(c)); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestHandler_GetPolicy_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "", hospitalCaller(uuid.New()))
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := statusOf(h.GetPolicy(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Suggest_JSON(t *testing.T) {
	h, _, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodPost, `{"text":"some policy wording"}`, hospitalCaller(uuid.New()))

	if err := h.Suggest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp SuggestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.RequiredDocuments) != 2 {
		t.Errorf("unexpected suggestions %+v", resp)
	}
}

func TestHandler_Suggest_Multipart(t *testing.T) {
	h, env, e := newTestHandler()
	c, rec := multipartContext(e, nil, "policy.txt", "text/plain", []byte("uploaded wording"), insurerCaller(uuid.New()))

	if err := h.Suggest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if last := env.suggester.calls[len(env.suggester.calls)-1]; last != "uploaded wording" {
		t.Errorf("expected file text to be synthesized, got %q", last)
	}
}

func TestHandler_Suggest_Empty(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := multipartContext(e, map[string]string{"text": "  "}, "", "", nil, hospitalCaller(uuid.New()))

	if code := statusOf(h.Suggest(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
