package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketing-server/internal/auth"
	automationHandler "marketing-server/internal/automation/handler"
	brainHandler "marketing-server/internal/brain/handler"
	campaignsHandler "marketing-server/internal/campaigns/handler"
	connectorsHandler "marketing-server/internal/connectors/handler"
	governanceHandler "marketing-server/internal/governance/handler"
	notificationsHandler "marketing-server/internal/notifications/handler"
	"marketing-server/internal/observability"
	settingsHandler "marketing-server/internal/settings/handler"
	settingsprocessor "marketing-server/internal/settings/processor"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// stubSettings serves canned section views; the dispatcher tests only
// exercise the read path.
type stubSettings struct {
	view settingsprocessor.SectionView
}

func (s *stubSettings) ReadSection(_ context.Context, section string) (settingsprocessor.SectionView, error) {
	view := s.view
	view.Section = section
	return view, nil
}

func (s *stubSettings) ListSections(_ context.Context) ([]settingsprocessor.SectionView, error) {
	return []settingsprocessor.SectionView{s.view}, nil
}

func (s *stubSettings) SaveSection(_ context.Context, section string, _ map[string]any, _ int, _ auth.Actor) (settingsprocessor.SaveResult, error) {
	return settingsprocessor.SaveResult{OK: true, View: s.view}, nil
}

func (s *stubSettings) TestSection(_ context.Context, _ string, _ map[string]any) (settingsprocessor.SaveResult, error) {
	return settingsprocessor.SaveResult{OK: true, View: s.view}, nil
}

func (s *stubSettings) RevertSection(_ context.Context, _ string, _ auth.Actor) (settingsprocessor.SectionView, error) {
	return s.view, nil
}

func (s *stubSettings) AuditTrail(_ context.Context, _ int) ([]store.SettingsAuditEntry, error) {
	return nil, nil
}

type testClient struct {
	router  *gin.Engine
	session string
	csrf    string
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := observability.NewLogger()
	authService := auth.New("test-jwt-secret", logger)

	view := settingsprocessor.SectionView{
		Section:  settingsprocessor.SectionGoals,
		Data:     map[string]any{"primaryGoal": "lead_generation"},
		Revision: 1,
	}

	router := gin.New()
	a := New(
		router.Group("/"),
		authService,
		settingsHandler.New(&stubSettings{view: view}, logger),
		connectorsHandler.New(nil, logger),
		brainHandler.New(nil, logger),
		campaignsHandler.New(nil, nil, logger),
		automationHandler.New(nil, logger),
		governanceHandler.New(nil, logger),
		notificationsHandler.New(nil, logger),
		nil,
		logger,
	)
	a.RegisterRoutes()

	actor := auth.Actor{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com"}
	session, err := authService.IssueSessionToken(context.Background(), actor)
	if err != nil {
		t.Fatalf("issue session token: %v", err)
	}
	csrf, err := authService.IssueCSRFToken(context.Background(), actor.ID)
	if err != nil {
		t.Fatalf("issue anti-forgery token: %v", err)
	}
	return &testClient{router: router, session: session, csrf: csrf}
}

func (tc *testClient) do(t *testing.T, method, path string, body map[string]any, authed bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+tc.session)
	}

	recorder := httptest.NewRecorder()
	tc.router.ServeHTTP(recorder, req)

	var response map[string]any
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("parse response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder, response
}

func (tc *testClient) action(t *testing.T, body map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return tc.do(t, http.MethodPost, "/api/marketing/action", body, true)
}

func TestHealth(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.do(t, http.MethodGet, "/health", nil, false)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if response["ok"] != true {
		t.Fatalf("expected ok:true, got %v", response)
	}
}

func TestActionRequiresSession(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.do(t, http.MethodPost, "/api/marketing/action",
		map[string]any{"action": "read-settings"}, false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if response["ok"] != false {
		t.Fatalf("expected ok:false, got %v", response)
	}
}

func TestCSRFIssuedForSession(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.do(t, http.MethodGet, "/api/csrf", nil, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if token, _ := response["csrfToken"].(string); token == "" {
		t.Fatalf("expected a csrfToken, got %v", response)
	}
}

func TestActionRejectsMissingCSRF(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.action(t, map[string]any{"action": "read-settings", "section": "goals"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if response["error"] != "Session expired. Refresh the page and try again." {
		t.Fatalf("unexpected error message: %v", response["error"])
	}
}

func TestActionAcceptsSnakeCaseCSRFField(t *testing.T) {
	tc := newTestClient(t)

	recorder, _ := tc.action(t, map[string]any{
		"action":     "read-settings",
		"csrf_token": tc.csrf,
		"section":    "goals",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestActionRejectsForeignCSRF(t *testing.T) {
	tc := newTestClient(t)
	other := newTestClient(t)

	recorder, _ := tc.action(t, map[string]any{
		"action":    "read-settings",
		"csrfToken": other.csrf,
		"section":   "goals",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another admin's token, got %d", recorder.Code)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.action(t, map[string]any{
		"action":    "explode",
		"csrfToken": tc.csrf,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if response["error"] != "Unknown action: explode" {
		t.Fatalf("unexpected error message: %v", response["error"])
	}
}

func TestActionDispatchesToHandler(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.action(t, map[string]any{
		"action":    "read-settings",
		"csrfToken": tc.csrf,
		"section":   "goals",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", recorder.Code, response)
	}
	if response["ok"] != true {
		t.Fatalf("expected ok:true, got %v", response)
	}
	if response["section"] != "goals" {
		t.Fatalf("expected the goals section back, got %v", response)
	}
	record, _ := response["record"].(map[string]any)
	if record["primaryGoal"] != "lead_generation" {
		t.Fatalf("expected the goals record back, got %v", response)
	}
}

func TestActionEnvelopeRequiresAction(t *testing.T) {
	tc := newTestClient(t)

	recorder, response := tc.action(t, map[string]any{"csrfToken": tc.csrf})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if response["ok"] != false {
		t.Fatalf("expected ok:false, got %v", response)
	}
}
