package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chooseandbuild/api/internal/auth"
	"chooseandbuild/api/internal/authpw"
	"chooseandbuild/api/internal/config"
	"chooseandbuild/api/internal/store"
)

type fakeSessions struct {
	mu    sync.Mutex
	saved map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, errors.New("refresh session not found")
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, tokenHash)
	return nil
}

type fakeAccounts struct {
	signInFn func(context.Context, authpw.SignInRequest) (*authpw.SignInResponse, error)
}

func (f *fakeAccounts) SignUp(context.Context, authpw.SignUpRequest) (*authpw.SignUpResponse, error) {
	return &authpw.SignUpResponse{UserID: "usr_new"}, nil
}
func (f *fakeAccounts) SignIn(ctx context.Context, req authpw.SignInRequest) (*authpw.SignInResponse, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, req)
	}
	return nil, errors.New("invalid email or password")
}
func (f *fakeAccounts) VerifyEmail(context.Context, string) error               { return nil }
func (f *fakeAccounts) RequestPasswordReset(context.Context, string) (string, error) {
	return "", nil
}
func (f *fakeAccounts) ResetPassword(context.Context, authpw.ResetPasswordRequest) error {
	return nil
}

func newHTTPTestService(fs *fakeStore, fa *fakeArchive) *Service {
	svc := newTestService(fs, fa)
	svc.cfg = config.Config{TokenSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	svc.sessions = newFakeSessions()
	return svc
}

func issueTestToken(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	token, err := auth.IssueToken([]byte(svc.cfg.TokenSecret), auth.Claims{
		Sub:  userID,
		Name: "Test User",
		Role: "architect",
		JTI:  "jti-test",
		Exp:  expires.Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func userWithRole(role string) func(context.Context, string) (store.User, error) {
	return func(_ context.Context, userID string) (store.User, error) {
		return store.User{ID: userID, DisplayName: "Test User", Email: "user@example.com", Role: role}, nil
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newHTTPTestService(&fakeStore{}, &fakeArchive{}), nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestSignInReturnsSessionContract(t *testing.T) {
	svc := newHTTPTestService(&fakeStore{}, &fakeArchive{})
	svc.accounts = &fakeAccounts{
		signInFn: func(_ context.Context, req authpw.SignInRequest) (*authpw.SignInResponse, error) {
			if req.Email != "dana@studio.example" {
				t.Fatalf("expected trimmed email, got %q", req.Email)
			}
			return &authpw.SignInResponse{
				User: store.User{ID: "usr_1", DisplayName: "Dana Whitfield", Role: "architect"},
			}, nil
		},
	}
	server := NewHTTPServer(svc, nil, "*")

	body := bytes.NewBufferString(`{"email":" dana@studio.example ","password":"hunter2hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if token, _ := payload["token"].(string); token == "" {
		t.Fatal("expected access token")
	}
	if refresh, _ := payload["refreshToken"].(string); refresh == "" {
		t.Fatal("expected refresh token")
	}
	if payload["role"] != "architect" {
		t.Fatalf("expected role architect, got %v", payload["role"])
	}
}

func TestSignInRejectsUnverifiedEmail(t *testing.T) {
	svc := newHTTPTestService(&fakeStore{}, &fakeArchive{})
	svc.accounts = &fakeAccounts{
		signInFn: func(context.Context, authpw.SignInRequest) (*authpw.SignInResponse, error) {
			return &authpw.SignInResponse{User: store.User{ID: "usr_1"}, RequiresVerify: true}, nil
		},
	}
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":"a@b.c","password":"pw"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	server := NewHTTPServer(newHTTPTestService(&fakeStore{}, &fakeArchive{}), nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestViewerCannotPublish(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userWithRole("viewer")}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/decisions/dec_1/publish", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_viewer"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestClientCanRequestChangeButNotCreate(t *testing.T) {
	decision := draftDecision("dec_1")
	decision.Status = "pending"
	fs := &fakeStore{
		getUserByIDFn: userWithRole("client"),
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
		transitionRequestChangeFn: func(context.Context, string, string, string, string) (bool, error) {
			decision.Status = "changes_requested"
			return true, nil
		},
	}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")
	token := issueTestToken(t, svc, "usr_client")

	req := httptest.NewRequest(http.MethodPost, "/api/decisions", bytes.NewBufferString(`{"projectId":"prj_1","title":"New decision"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected client create to be forbidden, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/decisions/dec_1/request-change", bytes.NewBufferString(`{"comment":"Please use granite instead"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected client request-change to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUnknownDecisionMapsToNotFound(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userWithRole("architect")}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/decisions/dec_missing", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_1"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected code NOT_FOUND, got %v", payload["code"])
	}
}

func TestListDecisionsDropsMalformedFilterValues(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWithRole("viewer"),
		listDecisionsFn: func(context.Context, string) ([]store.Decision, error) {
			return sampleDecisions(), nil
		},
	}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/decisions?costMin=abc&from=not-a-date&page=xx", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_1"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 with malformed filters dropped, got %d body=%s", rr.Code, rr.Body.String())
	}
	var page ListPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected unfiltered total 5, got %d", page.Total)
	}
	if page.Page != 1 {
		t.Fatalf("expected page defaulted to 1, got %d", page.Page)
	}
}

func TestDeleteUploadRequiresPublishCapability(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userWithRole("viewer")}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/img_abc123.png", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_1"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d body=%s", rr.Code, rr.Body.String())
	}

	// With the capability but no object storage configured the route reports
	// unavailability rather than pretending the object was removed.
	fs.getUserByIDFn = userWithRole("architect")
	req = httptest.NewRequest(http.MethodDelete, "/api/uploads/img_abc123.png", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_1"))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without object storage, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListDecisionsAcceptsDocumentedFilterNames(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWithRole("viewer"),
		listDecisionsFn: func(context.Context, string) ([]store.Decision, error) {
			return sampleDecisions(), nil
		},
	}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")

	for _, query := range []string{
		"costImpactMin=5000&search=roof",
		"costMin=5000&q=roof",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/decisions?"+query, nil)
		req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_1"))
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("query %q: expected status 200, got %d body=%s", query, rr.Code, rr.Body.String())
		}
		var page ListPage
		if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
			t.Fatalf("query %q: parse response: %v", query, err)
		}
		if page.Total != 1 {
			t.Fatalf("query %q: expected 1 match, got %d", query, page.Total)
		}
		if len(page.Items) != 1 || page.Items[0].ID != "dec_5" {
			t.Fatalf("query %q: expected dec_5, got %+v", query, page.Items)
		}
	}
}

func TestListDecisionsAcceptsDocumentedDateRange(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userWithRole("viewer"),
		listDecisionsFn: func(context.Context, string) ([]store.Decision, error) {
			return sampleDecisions(), nil
		},
	}
	svc := newHTTPTestService(fs, &fakeArchive{})
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/decisions?fromDate=2026-03-04&toDate=2026-03-07", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "usr_1"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var page ListPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 decisions updated inside the range, got %d", page.Total)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStoreForHealth{pingFn: func(context.Context) error { return errors.New("connection refused") }}
	svc := newHTTPTestService(&fs.fakeStore, &fakeArchive{})
	svc.store = fs
	server := NewHTTPServer(svc, nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected status not_ready, got %v", payload["status"])
	}
}

type fakeStoreForHealth struct {
	fakeStore
	pingFn func(context.Context) error
}

func (f *fakeStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
