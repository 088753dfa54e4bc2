package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"validai/api/internal/auth"
	"validai/api/internal/authpw"
	"validai/api/internal/ordering"
	"validai/api/internal/store"
)

type fakeAccounts struct {
	signInFn func(context.Context, authpw.SignInRequest) (store.User, error)
}

func (f *fakeAccounts) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	return store.User{ID: "user-new", Email: req.Email, DisplayName: req.DisplayName}, nil
}

func (f *fakeAccounts) SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, req)
	}
	return store.User{}, errors.New("invalid credentials")
}

func newTestServer(fs *fakeStore) *HTTPServer {
	svc, _ := newTestService(fs)
	svc.accounts = &fakeAccounts{}
	return NewHTTPServer(svc, "*")
}

func issueTestToken(t *testing.T, orgID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "user-1",
		Name: "Avery",
		Org:  orgID,
		Role: "member",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec := doRequest(server, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["ok"] != true {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["uptimeSeconds"]; !ok {
		t.Fatalf("payload = %v, want uptimeSeconds", payload)
	}
}

func TestInFlightGaugeTracksActiveRequest(t *testing.T) {
	var during float64
	fs := &fakeStore{}
	server := newTestServer(fs)
	fs.pingFn = func(ctx context.Context) error {
		during = testutil.ToFloat64(server.service.metrics.HTTPInFlight)
		return nil
	}

	rec := doRequest(server, http.MethodGet, "/api/ready", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if during != 1 {
		t.Fatalf("in-flight gauge during request = %v, want 1", during)
	}
	if after := testutil.ToFloat64(server.service.metrics.HTTPInFlight); after != 0 {
		t.Fatalf("in-flight gauge after request = %v, want 0", after)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(ctx context.Context) error { return errors.New("connection refused") },
	}
	server := newTestServer(fs)

	rec := doRequest(server, http.MethodGet, "/api/ready", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["status"] != "not_ready" {
		t.Fatalf("status field = %v, want not_ready", payload["status"])
	}
}

func TestPreflightGetsCORSHeaders(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec := doRequest(server, http.MethodOptions, "/api/processors", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID header missing")
	}
}

func TestProtectedRouteRequiresBearerToken(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec := doRequest(server, http.MethodGet, "/api/processors", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if payload := decodeMap(t, rec); payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec := doRequest(server, http.MethodGet, "/api/processors", "not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestViewerCannotCreateProcessorOverHTTP(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: func(ctx context.Context, orgID, userID string) (string, error) {
			return "viewer", nil
		},
	}
	server := newTestServer(fs)
	token := issueTestToken(t, "org-1")

	rec := doRequest(server, http.MethodPost, "/api/processors", token, `{"name":"Invoices"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeMap(t, rec); payload["code"] != "FORBIDDEN" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestMemberCreatesProcessorOverHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token := issueTestToken(t, "org-1")

	rec := doRequest(server, http.MethodPost, "/api/processors", token, `{"name":"Invoices","description":"Inbound invoices"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	payload := decodeMap(t, rec)
	if payload["name"] != "Invoices" {
		t.Fatalf("name = %v", payload["name"])
	}
	areas, ok := payload["areaConfiguration"].([]any)
	if !ok || len(areas) != 1 {
		t.Fatalf("areaConfiguration = %v, want one default area", payload["areaConfiguration"])
	}
}

func TestSignInIssuesSessionForMembership(t *testing.T) {
	fs := &fakeStore{
		listUserOrgsFn: func(ctx context.Context, userID string) ([]store.Organization, error) {
			return []store.Organization{{ID: "org-7", Name: "Acme"}}, nil
		},
		getMemberRoleFn: func(ctx context.Context, orgID, userID string) (string, error) {
			return "admin", nil
		},
	}
	svc, _ := newTestService(fs)
	svc.accounts = &fakeAccounts{
		signInFn: func(ctx context.Context, req authpw.SignInRequest) (store.User, error) {
			return store.User{ID: "user-1", Email: req.Email, DisplayName: "Avery"}, nil
		},
	}
	server := NewHTTPServer(svc, "*")

	rec := doRequest(server, http.MethodPost, "/api/auth/signin", "", `{"email":"avery@example.com","password":"hunter22"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	payload := decodeMap(t, rec)
	if payload["organizationId"] != "org-7" || payload["role"] != "admin" {
		t.Fatalf("payload = %v, want org-7/admin", payload)
	}
	if payload["token"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("session tokens missing: %v", payload)
	}
}

func TestSignInWrongCredentials(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec := doRequest(server, http.MethodPost, "/api/auth/signin", "", `{"email":"a@b.c","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	fs := &fakeStore{
		isAccessTokenRevokedFn: func(ctx context.Context, jti string) (bool, error) {
			return jti == "jti-1", nil
		},
	}
	server := newTestServer(fs)
	token := issueTestToken(t, "org-1")

	rec := doRequest(server, http.MethodGet, "/api/processors", token, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec := doRequest(server, http.MethodGet, "/api/session", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload := decodeMap(t, rec); payload["authenticated"] != false {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRefreshRotation(t *testing.T) {
	fs := &fakeStore{
		listUserOrgsFn: func(ctx context.Context, userID string) ([]store.Organization, error) {
			return []store.Organization{{ID: "org-1"}}, nil
		},
	}
	svc, _ := newTestService(fs)
	svc.accounts = &fakeAccounts{
		signInFn: func(ctx context.Context, req authpw.SignInRequest) (store.User, error) {
			return store.User{ID: "user-1", Email: req.Email, DisplayName: "Avery"}, nil
		},
	}
	server := NewHTTPServer(svc, "*")

	rec := doRequest(server, http.MethodPost, "/api/auth/signin", "", `{"email":"avery@example.com","password":"hunter22"}`)
	refresh, _ := decodeMap(t, rec)["refreshToken"].(string)
	if refresh == "" {
		t.Fatalf("no refresh token issued")
	}

	rec = doRequest(server, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// A refresh token is single use.
	rec = doRequest(server, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d, want 401", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token := issueTestToken(t, "org-1")

	rec := doRequest(server, http.MethodGet, "/api/nope", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetMissingProcessorIs404(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token := issueTestToken(t, "org-1")

	rec := doRequest(server, http.MethodGet, "/api/processors/proc-missing", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestDragEndpointMovesOperation(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return store.Processor{ID: processorID, OrganizationID: orgID, Name: "Invoices",
				Areas: []ordering.Area{{Name: "General", DisplayOrder: 1}}}, nil
		},
		getOperationFn: func(ctx context.Context, processorID, operationID string) (store.Operation, error) {
			return store.Operation{ID: "op-c", ProcessorID: processorID, Area: "General", Position: 3}, nil
		},
		listAreaOperationsFn: func(ctx context.Context, processorID, area string) ([]store.Operation, error) {
			return []store.Operation{
				{ID: "op-a", Area: "General", Position: 1},
				{ID: "op-b", Area: "General", Position: 2},
				{ID: "op-c", Area: "General", Position: 3},
			}, nil
		},
	}
	server := newTestServer(fs)
	token := issueTestToken(t, "org-1")

	body := `{"subject":{"type":"operation","operationId":"op-c"},"target":{"area":"General","operationId":"op-b"}}`
	rec := doRequest(server, http.MethodPost, "/api/processors/proc-1/drag", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	payload := decodeMap(t, rec)
	if payload["position"] != 1.5 {
		t.Fatalf("position = %v, want 1.5", payload["position"])
	}
}

func TestDragEndpointRejectsUnknownSubjectType(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token := issueTestToken(t, "org-1")

	body := `{"subject":{"type":"paragraph"},"target":{"area":"General"}}`
	rec := doRequest(server, http.MethodPost, "/api/processors/proc-1/drag", token, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeMap(t, rec); payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("payload = %v", payload)
	}
}
