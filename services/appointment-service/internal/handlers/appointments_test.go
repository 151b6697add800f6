package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/coordinator"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

func testHandler() *AppointmentHandler {
	return &AppointmentHandler{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestResolve_StatusMapping(t *testing.T) {
	h := testHandler()
	body := `{"appointment_id":"apt-1","party_id":"p-1"}`

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"applied", nil, http.StatusOK},
		{"already resolved", coordinator.ErrAlreadyResolved, http.StatusOK},
		{"not due", coordinator.ErrNotDue, http.StatusConflict},
		{"unknown party", coordinator.ErrUnknownParty, http.StatusForbidden},
	}
	for _, tc := range cases {
		action := func(context.Context, string, string) (model.Appointment, error) {
			return model.Appointment{ID: "apt-1", Status: model.StatusJoined}, tc.err
		}
		req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/appointments/join", strings.NewReader(body))
		rw := httptest.NewRecorder()
		h.resolve(rw, req, action)
		if rw.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rw.Code)
		}
	}
}

func TestResolve_AlreadyResolvedIsNoopNotice(t *testing.T) {
	h := testHandler()
	action := func(context.Context, string, string) (model.Appointment, error) {
		return model.Appointment{ID: "apt-1", Status: model.StatusDeclined}, coordinator.ErrAlreadyResolved
	}
	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/appointments/join",
		strings.NewReader(`{"appointment_id":"apt-1","party_id":"p-1"}`))
	rw := httptest.NewRecorder()
	h.resolve(rw, req, action)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp struct {
		Noop        bool            `json:"noop"`
		Appointment appointmentItem `json:"appointment"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !resp.Noop {
		t.Fatal("expected noop notice")
	}
	if resp.Appointment.Status != string(model.StatusDeclined) {
		t.Fatalf("expected declined snapshot, got %q", resp.Appointment.Status)
	}
}

func TestResolve_RejectsMissingFields(t *testing.T) {
	h := testHandler()
	called := false
	action := func(context.Context, string, string) (model.Appointment, error) {
		called = true
		return model.Appointment{}, nil
	}
	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/appointments/join",
		strings.NewReader(`{"appointment_id":"apt-1"}`))
	rw := httptest.NewRecorder()
	h.resolve(rw, req, action)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
	if called {
		t.Fatal("action must not run without a party id")
	}
}

func TestBook_ValidationErrorsListFields(t *testing.T) {
	h := testHandler()
	// Syntactically fine request with an empty form: validation fails before
	// the store is ever touched.
	body := `{"counterparty_id":"cp-1","duration_minutes":30,"slot_date":"2026-09-01","slot_time":"10:00"}`
	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/public/book", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Book(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
	var resp struct {
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Fields) == 0 {
		t.Fatal("expected failing field names in response")
	}
	for _, want := range []string{"firstName", "lastName", "email", "phoneNumber", "meetingType"} {
		found := false
		for _, f := range resp.Fields {
			if f == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected field %q in %v", want, resp.Fields)
		}
	}
}

func TestBook_RejectsBadInput(t *testing.T) {
	h := testHandler()
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing counterparty", `{"duration_minutes":30}`},
		{"zero duration", `{"counterparty_id":"cp-1","duration_minutes":0}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/public/book", strings.NewReader(tc.body))
		rw := httptest.NewRecorder()
		h.Book(rw, req)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rw.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := testHandler()
	cases := []struct {
		name    string
		method  string
		handler http.HandlerFunc
	}{
		{"book via GET", http.MethodGet, h.Book},
		{"slots via POST", http.MethodPost, h.Slots},
		{"get via POST", http.MethodPost, h.Get},
		{"list via POST", http.MethodPost, h.List},
		{"confirm via GET", http.MethodGet, h.Confirm},
		{"join via GET", http.MethodGet, h.Join},
		{"decline via GET", http.MethodGet, h.Decline},
		{"watch via POST", http.MethodPost, h.Watch},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "http://example.com/", nil)
		rw := httptest.NewRecorder()
		tc.handler(rw, req)
		if rw.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", tc.name, rw.Code)
		}
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/?limit=25&bad=abc&big=999", nil)
	if got := queryInt(req, "limit", 50, 1, 200); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	if got := queryInt(req, "missing", 50, 1, 200); got != 50 {
		t.Fatalf("expected fallback 50, got %d", got)
	}
	if got := queryInt(req, "bad", 50, 1, 200); got != -1 {
		t.Fatalf("expected -1 for garbage, got %d", got)
	}
	if got := queryInt(req, "big", 50, 1, 200); got != -1 {
		t.Fatalf("expected -1 above max, got %d", got)
	}
}
