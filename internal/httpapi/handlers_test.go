package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"dialdesk/internal/calls"
	"dialdesk/internal/rbac"
	"dialdesk/internal/voice"
)

func identityMW(email, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("email", email)
		c.Set("role", role)
		c.Next()
	}
}

func newCallRouter(t *testing.T, email, role string) (*gin.Engine, *calls.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := calls.NewRegistry()
	svc := calls.NewService(calls.ServiceDeps{
		Registry: reg,
		Provider: nullProvider{},
		Logs:     calls.NewMemoryLogStore(),
	})
	h := Handlers{Calls: svc}

	r := gin.New()
	r.Use(identityMW(email, role))
	r.GET("/api/calls", h.ListCalls)
	r.POST("/api/calls/start", h.StartCall)
	r.GET("/api/calls/:id", h.GetCall)
	r.POST("/api/calls/answer/:id", h.AnswerCall)
	r.POST("/api/calls/end/:id", h.EndCall)
	return r, reg
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStartCall_CreatesRecord(t *testing.T) {
	r, _ := newCallRouter(t, "a@example.com", rbac.RoleUser)

	rec := do(r, http.MethodPost, "/api/calls/start", `{"phoneNumber": "+15550002222"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var call calls.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if call.ID != "CA-placed" || call.OwnerEmail != "a@example.com" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestStartCall_RequiresPhoneNumber(t *testing.T) {
	r, _ := newCallRouter(t, "a@example.com", rbac.RoleUser)
	if rec := do(r, http.MethodPost, "/api/calls/start", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	r, _ := newCallRouter(t, "a@example.com", rbac.RoleUser)
	if rec := do(r, http.MethodGet, "/api/calls/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetCall_ForbiddenForForeignCall(t *testing.T) {
	r, reg := newCallRouter(t, "a@example.com", rbac.RoleUser)
	reg.Upsert("CA1", calls.Patch{Direction: calls.DirectionOutbound, Status: calls.StatusOngoing, OwnerEmail: "b@example.com"})

	if rec := do(r, http.MethodGet, "/api/calls/CA1", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetCall_AdminSeesEverything(t *testing.T) {
	r, reg := newCallRouter(t, "root@example.com", rbac.RoleAdmin)
	reg.Upsert("CA1", calls.Patch{Direction: calls.DirectionOutbound, Status: calls.StatusOngoing, OwnerEmail: "b@example.com"})

	if rec := do(r, http.MethodGet, "/api/calls/CA1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAnswerCall_WrongStateIsBadRequest(t *testing.T) {
	r, reg := newCallRouter(t, "a@example.com", rbac.RoleUser)
	reg.Upsert("CA1", calls.Patch{Direction: calls.DirectionInbound, Status: calls.StatusOngoing, ControlHandle: "h"})

	if rec := do(r, http.MethodPost, "/api/calls/answer/CA1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEndCall_ForeignCallForbidden(t *testing.T) {
	r, reg := newCallRouter(t, "a@example.com", rbac.RoleUser)
	reg.Upsert("CA1", calls.Patch{Direction: calls.DirectionOutbound, Status: calls.StatusOngoing, ControlHandle: "h", OwnerEmail: "b@example.com"})

	if rec := do(r, http.MethodPost, "/api/calls/end/CA1", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

type brokenProvider struct {
	nullProvider
}

func (brokenProvider) PlaceCall(ctx context.Context, to string) (voice.PlacedCall, error) {
	return voice.PlacedCall{}, errors.New("trunk capacity exhausted")
}

func TestStartCall_ErrorDetailFollowsEnvironment(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tc := range []struct {
		name       string
		production bool
		wantDetail bool
	}{
		{name: "development includes upstream detail", production: false, wantDetail: true},
		{name: "production redacts upstream detail", production: true, wantDetail: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc := calls.NewService(calls.ServiceDeps{
				Registry: calls.NewRegistry(),
				Provider: brokenProvider{},
				Logs:     calls.NewMemoryLogStore(),
			})
			h := Handlers{Calls: svc, Production: tc.production}

			r := gin.New()
			r.Use(identityMW("a@example.com", rbac.RoleUser))
			r.POST("/api/calls/start", h.StartCall)

			rec := do(r, http.MethodPost, "/api/calls/start", `{"phoneNumber": "+15550002222"}`)
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, "call could not be placed") {
				t.Fatalf("missing generic message: %s", body)
			}
			if got := strings.Contains(body, "trunk capacity exhausted"); got != tc.wantDetail {
				t.Fatalf("detail presence = %v, want %v: %s", got, tc.wantDetail, body)
			}
		})
	}
}

type fakeHistory struct {
	lastEmail string
	lastLimit int
}

func (f *fakeHistory) ListRecent(ctx context.Context, email string, limit int) ([]calls.Record, error) {
	f.lastEmail = email
	f.lastLimit = limit
	return []calls.Record{{ID: "CA-old", Status: calls.StatusCompleted, OwnerEmail: "a@example.com"}}, nil
}

func TestCallHistory_ScopedToCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hist := &fakeHistory{}
	h := Handlers{CallLog: hist}

	r := gin.New()
	r.Use(identityMW("a@example.com", rbac.RoleUser))
	r.GET("/api/calls/history", h.CallHistoryList)

	rec := do(r, http.MethodGet, "/api/calls/history?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if hist.lastEmail != "a@example.com" || hist.lastLimit != 5 {
		t.Fatalf("unexpected query: email=%q limit=%d", hist.lastEmail, hist.lastLimit)
	}
}

func TestCallHistory_AdminSeesAllOwners(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hist := &fakeHistory{lastEmail: "sentinel"}
	h := Handlers{CallLog: hist}

	r := gin.New()
	r.Use(identityMW("root@example.com", rbac.RoleAdmin))
	r.GET("/api/calls/history", h.CallHistoryList)

	if rec := do(r, http.MethodGet, "/api/calls/history", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if hist.lastEmail != "" {
		t.Fatalf("admin history should be unscoped, got %q", hist.lastEmail)
	}
}

func TestListCalls_FiltersByOwner(t *testing.T) {
	r, reg := newCallRouter(t, "a@example.com", rbac.RoleUser)
	reg.Upsert("CA1", calls.Patch{Direction: calls.DirectionOutbound, Status: calls.StatusOngoing, OwnerEmail: "a@example.com"})
	reg.Upsert("CA2", calls.Patch{Direction: calls.DirectionOutbound, Status: calls.StatusOngoing, OwnerEmail: "b@example.com"})

	rec := do(r, http.MethodGet, "/api/calls", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Calls []calls.Record `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].ID != "CA1" {
		t.Fatalf("unexpected list: %+v", resp.Calls)
	}
}
