package worker

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	gormlogger "gorm.io/gorm/logger"

	"github.com/interviewsim/interviewsim/internal/auth"
	"github.com/interviewsim/interviewsim/internal/config"
	dbgorm "github.com/interviewsim/interviewsim/internal/db/gorm"
	"github.com/interviewsim/interviewsim/internal/inference"
	"github.com/interviewsim/interviewsim/internal/store"
)

// HandlersSuite exercises the worker routes end to end over a temp store and
// a stub inference backend.
type HandlersSuite struct {
	suite.Suite
	db       *dbgorm.Store
	svc      *Service
	server   *httptest.Server
	inferSrv *httptest.Server
}

func (s *HandlersSuite) SetupTest() {
	var err error
	s.db, err = dbgorm.NewStore(dbgorm.Config{
		Path:     filepath.Join(s.T().TempDir(), "worker.db"),
		LogLevel: gormlogger.Silent,
	})
	s.Require().NoError(err)

	s.inferSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"Let's begin. Tell me about yourself."}`))
	}))

	adapter := store.NewAdapter(s.db)
	authService := auth.NewService(s.db, time.Hour)
	inferClient := inference.NewClient(inference.Config{
		Endpoint:   s.inferSrv.URL,
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
	})

	cfg := config.Default()
	s.svc = New("test", cfg, adapter, authService, inferClient)
	s.server = httptest.NewServer(s.svc.Router())
}

func (s *HandlersSuite) TearDownTest() {
	s.server.Close()
	s.svc.Close()
	s.inferSrv.Close()
	s.db.Close()
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

// request performs a JSON round-trip against the test server.
func (s *HandlersSuite) request(method, path, token string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *HandlersSuite) registerUser(email string) string {
	status, body := s.request(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter22",
	})
	s.Require().Equal(http.StatusCreated, status, "register response: %v", body)
	token, _ := body["token"].(string)
	s.Require().NotEmpty(token)
	return token
}

func (s *HandlersSuite) TestHealth() {
	status, body := s.request(http.MethodGet, "/api/health", "", nil)
	s.Equal(http.StatusOK, status)
	s.Equal("ok", body["status"])
	s.Equal(true, body["ready"])
}

func (s *HandlersSuite) TestAuthFlow() {
	token := s.registerUser("alex@example.com")

	status, body := s.request(http.MethodGet, "/api/auth/me", token, nil)
	s.Equal(http.StatusOK, status)
	s.Equal("alex@example.com", body["email"])

	status, _ = s.request(http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "alex@example.com",
		"password": "hunter22",
	})
	s.Equal(http.StatusOK, status)

	status, _ = s.request(http.MethodPost, "/api/auth/signout", token, nil)
	s.Equal(http.StatusOK, status)

	status, _ = s.request(http.MethodGet, "/api/auth/me", token, nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *HandlersSuite) TestAuthErrorMapping() {
	status, body := s.request(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "alex@example.com",
		"password": "short",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("Password must be at least 6 characters long.", body["error"])

	s.registerUser("alex@example.com")

	status, _ = s.request(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "alex@example.com",
		"password": "hunter22",
	})
	s.Equal(http.StatusConflict, status)

	status, _ = s.request(http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "alex@example.com",
		"password": "wrong-pass",
	})
	s.Equal(http.StatusUnauthorized, status)

	status, _ = s.request(http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "hunter22",
	})
	s.Equal(http.StatusNotFound, status)
}

func (s *HandlersSuite) TestProfileUpdate() {
	token := s.registerUser("alex@example.com")

	status, body := s.request(http.MethodPatch, "/api/auth/profile", token, map[string]string{
		"display_name": "Alex Doe",
	})
	s.Equal(http.StatusOK, status)
	s.Equal("Alex Doe", body["display_name"])

	status, _ = s.request(http.MethodGet, "/api/auth/me", token, nil)
	s.Equal(http.StatusOK, status)

	status, _ = s.request(http.MethodPatch, "/api/auth/profile", token, map[string]string{
		"new_password":     "newpass99",
		"current_password": "wrong-pass",
	})
	s.Equal(http.StatusUnauthorized, status)

	status, _ = s.request(http.MethodPatch, "/api/auth/profile", token, map[string]string{
		"new_password":     "newpass99",
		"current_password": "hunter22",
	})
	s.Equal(http.StatusOK, status)

	status, _ = s.request(http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "alex@example.com",
		"password": "newpass99",
	})
	s.Equal(http.StatusOK, status)

	status, _ = s.request(http.MethodPatch, "/api/auth/profile", "", nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *HandlersSuite) TestRequiresAuth() {
	status, _ := s.request(http.MethodGet, "/api/sessions", "", nil)
	s.Equal(http.StatusUnauthorized, status)

	status, _ = s.request(http.MethodGet, "/api/sessions", "not-a-token", nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *HandlersSuite) TestSessionCRUD() {
	token := s.registerUser("alex@example.com")

	status, created := s.request(http.MethodPost, "/api/sessions", token, map[string]any{})
	s.Require().Equal(http.StatusCreated, status)
	sessionID, _ := created["id"].(string)
	s.Require().NotEmpty(sessionID)
	s.Equal("New Interview", created["title"])

	status, body := s.request(http.MethodGet, "/api/sessions", token, nil)
	s.Equal(http.StatusOK, status)
	sessions, _ := body["sessions"].([]any)
	s.Len(sessions, 1)

	status, _ = s.request(http.MethodPatch, "/api/sessions/"+sessionID, token, map[string]any{
		"title":  "Mock onsite",
		"pinned": true,
	})
	s.Equal(http.StatusOK, status)

	status, body = s.request(http.MethodGet, "/api/sessions", token, nil)
	s.Require().Equal(http.StatusOK, status)
	sessions, _ = body["sessions"].([]any)
	s.Require().Len(sessions, 1)
	first, _ := sessions[0].(map[string]any)
	s.Equal("Mock onsite", first["title"])
	s.Equal(true, first["pinned"])

	status, _ = s.request(http.MethodPatch, "/api/sessions/missing", token, map[string]any{
		"title": "nope",
	})
	s.Equal(http.StatusNotFound, status)

	status, _ = s.request(http.MethodDelete, "/api/sessions/"+sessionID, token, nil)
	s.Equal(http.StatusOK, status)

	status, body = s.request(http.MethodGet, "/api/sessions", token, nil)
	s.Equal(http.StatusOK, status)
	sessions, _ = body["sessions"].([]any)
	s.Empty(sessions)
}

func (s *HandlersSuite) TestBatchDeleteAtomic() {
	token := s.registerUser("alex@example.com")

	_, a := s.request(http.MethodPost, "/api/sessions", token, map[string]any{})
	_, b := s.request(http.MethodPost, "/api/sessions", token, map[string]any{})
	aID, _ := a["id"].(string)
	bID, _ := b["id"].(string)

	status, _ := s.request(http.MethodPost, "/api/sessions/delete", token, map[string]any{
		"ids": []string{aID, "missing"},
	})
	s.Equal(http.StatusNotFound, status)

	// Nothing was deleted.
	status, body := s.request(http.MethodGet, "/api/sessions", token, nil)
	s.Require().Equal(http.StatusOK, status)
	sessions, _ := body["sessions"].([]any)
	s.Len(sessions, 2)

	status, body = s.request(http.MethodPost, "/api/sessions/delete", token, map[string]any{
		"ids": []string{aID, bID},
	})
	s.Equal(http.StatusOK, status)
	s.Equal(float64(2), body["count"])

	status, _ = s.request(http.MethodPost, "/api/sessions/delete", token, map[string]any{"ids": []string{}})
	s.Equal(http.StatusBadRequest, status)
}

// TestSubmitNewSession drives the whole first-message pipeline over HTTP: the
// session is created, the message and the stubbed reply are persisted, and
// the title is derived from the first message.
func (s *HandlersSuite) TestSubmitNewSession() {
	token := s.registerUser("alex@example.com")

	status, body := s.request(http.MethodPost, "/api/sessions/new/submit", token, map[string]string{
		"text": "Ask me a system design question",
	})
	s.Require().Equal(http.StatusOK, status, "submit response: %v", body)
	sessionID, _ := body["session_id"].(string)
	s.Require().NotEmpty(sessionID)
	s.NotEqual("new", sessionID)

	s.Require().Eventually(func() bool {
		_, body := s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/messages", sessionID), token, nil)
		msgs, _ := body["messages"].([]any)
		return len(msgs) == 2
	}, 5*time.Second, 20*time.Millisecond)

	_, body = s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/messages", sessionID), token, nil)
	msgs, _ := body["messages"].([]any)
	s.Require().Len(msgs, 2)
	first, _ := msgs[0].(map[string]any)
	second, _ := msgs[1].(map[string]any)
	s.Equal("user", first["sender"])
	s.Equal("Ask me a system design question", first["text"])
	s.Equal("bot", second["sender"])
	s.Equal("Let's begin. Tell me about yourself.", second["text"])

	_, body = s.request(http.MethodGet, "/api/sessions", token, nil)
	sessions, _ := body["sessions"].([]any)
	s.Require().Len(sessions, 1)
	sess, _ := sessions[0].(map[string]any)
	s.Equal("Ask me a system design question", sess["title"])
}

func (s *HandlersSuite) TestSubmitExistingSession() {
	token := s.registerUser("alex@example.com")

	status, body := s.request(http.MethodPost, "/api/sessions/new/submit", token, map[string]string{
		"text": "first question",
	})
	s.Require().Equal(http.StatusOK, status)
	sessionID, _ := body["session_id"].(string)
	s.Require().NotEmpty(sessionID)

	s.Require().Eventually(func() bool {
		_, body := s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/messages", sessionID), token, nil)
		msgs, _ := body["messages"].([]any)
		return len(msgs) == 2
	}, 5*time.Second, 20*time.Millisecond)

	s.Require().Eventually(func() bool {
		_, body := s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/state", sessionID), token, nil)
		return body["sending"] == false
	}, 5*time.Second, 20*time.Millisecond)

	status, body = s.request(http.MethodPost, fmt.Sprintf("/api/sessions/%s/submit", sessionID), token, map[string]string{
		"text": "second question",
	})
	s.Require().Equal(http.StatusOK, status)
	s.Equal(sessionID, body["session_id"])

	s.Require().Eventually(func() bool {
		_, body := s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/messages", sessionID), token, nil)
		msgs, _ := body["messages"].([]any)
		return len(msgs) == 4
	}, 5*time.Second, 20*time.Millisecond)
}

func (s *HandlersSuite) TestSubmitValidation() {
	token := s.registerUser("alex@example.com")

	status, _ := s.request(http.MethodPost, "/api/sessions/new/submit", token, map[string]string{
		"text": "   ",
	})
	s.Equal(http.StatusBadRequest, status)
}

func (s *HandlersSuite) TestSessionState() {
	token := s.registerUser("alex@example.com")

	status, created := s.request(http.MethodPost, "/api/sessions", token, map[string]any{})
	s.Require().Equal(http.StatusCreated, status)
	sessionID, _ := created["id"].(string)

	s.Require().Eventually(func() bool {
		_, body := s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/state", sessionID), token, nil)
		return body["state"] == "ready"
	}, 5*time.Second, 20*time.Millisecond)

	_, body := s.request(http.MethodGet, fmt.Sprintf("/api/sessions/%s/state", sessionID), token, nil)
	s.Equal(sessionID, body["session_id"])
	s.Equal("New Interview", body["title"])
	s.Equal(false, body["sending"])
}

func (s *HandlersSuite) TestStateForMissingSessionRedirects() {
	token := s.registerUser("alex@example.com")

	status, body := s.request(http.MethodGet, "/api/sessions/missing/state", token, nil)
	s.Equal(http.StatusOK, status)
	s.Equal("loading", body["state"])

	// The missing document redirects the coordinator to the "new" sentinel.
	s.Require().Eventually(func() bool {
		_, body := s.request(http.MethodGet, "/api/sessions/new/state", token, nil)
		return body["state"] == "new"
	}, 5*time.Second, 20*time.Millisecond)
}

// TestConfigHotSwap: concurrent reload publications and reads must always
// observe complete snapshots.
func (s *HandlersSuite) TestConfigHotSwap() {
	base := s.svc.Config()
	s.Require().NotNil(base)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				next := *base
				next.Port = 9000 + n
				s.svc.UpdateConfig(&next)
				got := s.svc.Config()
				s.NotNil(got)
			}
		}(i)
	}
	wg.Wait()

	s.GreaterOrEqual(s.svc.Config().Port, 9000)
}

func (s *HandlersSuite) TestMalformedBody() {
	token := s.registerUser("alex@example.com")

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/sessions/new/submit", bytes.NewReader([]byte("{not json")))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}
