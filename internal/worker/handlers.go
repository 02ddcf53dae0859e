package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/interviewsim/interviewsim/internal/auth"
	"github.com/interviewsim/interviewsim/internal/coordinator"
	"github.com/interviewsim/interviewsim/internal/store"
	"github.com/interviewsim/interviewsim/pkg/models"
)

type contextKey string

const userKey contextKey = "user"

func (s *Service) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/signin", s.handleSignIn)
			r.Post("/federated", s.handleFederated)
			r.Post("/signout", s.handleSignOut)
			r.With(s.requireUser).Get("/me", s.handleMe)
			r.With(s.requireUser).Patch("/profile", s.handleProfile)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/events", s.handleEvents)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleCreateSession)
				r.Post("/delete", s.handleDeleteSessions)
				r.Route("/{sessionID}", func(r chi.Router) {
					r.Patch("/", s.handleUpdateSession)
					r.Delete("/", s.handleDeleteSession)
					r.Get("/messages", s.handleListMessages)
					r.Get("/state", s.handleSessionState)
					r.Post("/submit", s.handleSubmit)
				})
			})
		})
	})
}

// requireUser resolves the bearer token and stores the user on the request
// context.
func (s *Service) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}
		user, err := s.authService.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, auth.UserMessage(err))
			return
		}
		ctx := contextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ready":   s.ready.Load(),
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
		"clients": s.sseBroadcaster.ClientCount(),
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Provider string `json:"provider,omitempty"`
}

type authResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, token, err := s.authService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (s *Service) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, token, err := s.authService.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (s *Service) handleFederated(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "Provider is required.")
		return
	}
	user, token, err := s.authService.SignInFederated(r.Context(), req.Provider, req.Email)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (s *Service) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		if user, err := s.authService.Verify(r.Context(), token); err == nil {
			s.dropUserState(user.ID)
		}
		s.authService.SignOut(r.Context(), token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r))
}

type profileRequest struct {
	DisplayName     *string `json:"display_name,omitempty"`
	NewPassword     *string `json:"new_password,omitempty"`
	CurrentPassword string  `json:"current_password,omitempty"`
}

func (s *Service) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.authService.UpdateProfile(r.Context(), user.ID, auth.ProfileUpdate{
		DisplayName:     req.DisplayName,
		NewPassword:     req.NewPassword,
		CurrentPassword: req.CurrentPassword,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported.")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := s.sseBroadcaster.AddClient(w, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.sseBroadcaster.RemoveClient(client)

	signals, cancel := s.adapter.Subscribe(user.ID)
	defer cancel()

	w.Write([]byte("data: {\"type\":\"connected\"}\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-signals:
			w.Write([]byte("data: {\"type\":\"change\"}\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	list, err := s.adapter.ListSessions(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to load recent interview sessions.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sess, err := s.synchronizer(user.ID).Create(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start a new interview. Please try again.")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type updateSessionRequest struct {
	Title  *string `json:"title,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

func (s *Service) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sessionID := chi.URLParam(r, "sessionID")

	var req updateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sync := s.synchronizer(user.ID)

	if req.Title != nil {
		err := sync.Rename(r.Context(), sessionID, *req.Title)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Interview session not found.")
			return
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Pinned != nil {
		err := sync.TogglePin(r.Context(), sessionID, req.Pinned)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Interview session not found.")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "Failed to pin/unpin interview session.")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sessionID := chi.URLParam(r, "sessionID")

	err := s.synchronizer(user.ID).Delete(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Interview session not found.")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to delete interview session.")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type deleteSessionsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Service) handleDeleteSessions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req deleteSessionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "No interview sessions selected for deletion.")
		return
	}

	err := s.synchronizer(user.ID).DeleteMany(r.Context(), req.IDs)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "One or more interview sessions were not found; nothing was deleted.")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to delete selected interview sessions.")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": len(req.IDs)})
	}
}

func (s *Service) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sessionID := chi.URLParam(r, "sessionID")

	msgs, err := s.adapter.ListMessages(r.Context(), user.ID, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load messages.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type stateResponse struct {
	SessionID  string           `json:"session_id"`
	State      string           `json:"state"`
	Title      string           `json:"title"`
	Sending    bool             `json:"sending"`
	Banner     string           `json:"banner,omitempty"`
	Transcript []models.Message `json:"transcript"`
}

func (s *Service) handleSessionState(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sessionID := chi.URLParam(r, "sessionID")

	c := s.coordinators.Get(user.ID)
	if c.ContextID() != sessionID {
		c.SetContext(sessionID)
		s.synchronizer(user.ID).SetActive(sessionID)
	}
	writeJSON(w, http.StatusOK, coordinatorState(c))
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sessionID := chi.URLParam(r, "sessionID")

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c := s.coordinators.Get(user.ID)
	if c.ContextID() != sessionID {
		c.SetContext(sessionID)
		s.synchronizer(user.ID).SetActive(sessionID)
	}

	targetID, err := c.Submit(r.Context(), req.Text)
	switch {
	case errors.Is(err, coordinator.ErrEmptyMessage),
		errors.Is(err, coordinator.ErrUnauthenticated):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, coordinator.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		// The failure is already reflected in the coordinator state (banner,
		// persisted diagnostic); report it alongside the state snapshot.
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Submit failed")
	}

	resp := coordinatorState(c)
	resp.SessionID = targetID
	writeJSON(w, http.StatusOK, resp)
}

func coordinatorState(c *coordinator.Coordinator) stateResponse {
	return stateResponse{
		SessionID:  c.ContextID(),
		State:      c.State().String(),
		Title:      c.Title(),
		Sending:    c.Sending(),
		Banner:     c.Banner(),
		Transcript: c.Transcript(),
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrMalformedIdentifier), errors.Is(err, auth.ErrWeakCredential):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrBadCredential), errors.Is(err, auth.ErrBadToken):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrAlreadyRegistered):
		status = http.StatusConflict
	}
	writeError(w, status, auth.UserMessage(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func contextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func userFrom(r *http.Request) models.User {
	user, _ := r.Context().Value(userKey).(models.User)
	return user
}
