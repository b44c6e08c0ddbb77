package schedule

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/rxtrust/rxtrust/internal/platform/auth"
)

func patientRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), "pat-1", "", []string{auth.RolePatient}))
}

func TestHandler_AddListToggle(t *testing.T) {
	h := NewHandler(newTestService())
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(patientRequest(http.MethodPost, "/", `{"date":"2026-04-02","name":"Aspirin","time":"07:15"}`), rec)
	if err := h.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created Entry
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = httptest.NewRecorder()
	c = e.NewContext(patientRequest(http.MethodGet, "/schedule?date=2026-04-02", ""), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var body struct {
		Schedule []Entry `json:"schedule"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Schedule) != 1 || body.Schedule[0].Name != "Aspirin" {
		t.Fatalf("unexpected schedule %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(patientRequest(http.MethodPost, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Toggle(c); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	var toggled Entry
	_ = json.Unmarshal(rec.Body.Bytes(), &toggled)
	if !toggled.Taken {
		t.Error("expected entry to be taken")
	}
}

func TestHandler_BadDate(t *testing.T) {
	h := NewHandler(newTestService())
	c := echo.New().NewContext(patientRequest(http.MethodGet, "/schedule?date=tomorrow", ""), httptest.NewRecorder())

	httpErr, ok := h.List(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", httpErr)
	}
}
