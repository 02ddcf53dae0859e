// Package sessions maintains the live, ordered list of a user's sessions and
// hosts the list-level mutations (create, rename, pin, delete, batch delete).
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/interviewsim/interviewsim/internal/store"
	"github.com/interviewsim/interviewsim/pkg/models"
)

// ErrEmptyTitle rejects renames to an empty (after trimming) title.
var ErrEmptyTitle = errors.New("session title cannot be empty")

// ErrUnauthenticated rejects mutations without a user identity.
var ErrUnauthenticated = errors.New("you must be signed in")

// Store is the document-store surface the synchronizer needs.
type Store interface {
	CreateSession(ctx context.Context, userID string) (models.Session, error)
	GetSession(ctx context.Context, userID, sessionID string) (models.Session, error)
	UpdateSession(ctx context.Context, userID, sessionID string, fields store.Fields) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
	DeleteSessions(ctx context.Context, userID string, sessionIDs []string) error
	WatchSessions(ctx context.Context, userID string) <-chan store.SessionListEvent
}

// Navigator is told when the view must move away from a deleted session. An
// empty id means the neutral dashboard location.
type Navigator interface {
	Navigate(sessionID string)
}

// Synchronizer mirrors one user's session list from the store.
type Synchronizer struct {
	store   Store
	nav     Navigator
	baseCtx context.Context

	mu          sync.Mutex
	userID      string
	activeID    string
	sessions    []models.Session
	banner      string
	epoch       int64
	cancelWatch context.CancelFunc

	notify chan struct{}
}

// New creates a synchronizer. Watches live until ctx is done.
func New(ctx context.Context, st Store, nav Navigator) *Synchronizer {
	return &Synchronizer{
		store:   st,
		nav:     nav,
		baseCtx: ctx,
		notify:  make(chan struct{}, 1),
	}
}

// Notify returns a coalesced signal channel that fires after list changes.
func (s *Synchronizer) Notify() <-chan struct{} { return s.notify }

// SetUser switches the observed identity. The previous subscription is torn
// down before the new one is established; an empty id clears the list.
func (s *Synchronizer) SetUser(userID string) {
	s.mu.Lock()
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
	s.epoch++
	epoch := s.epoch
	s.userID = userID
	s.sessions = nil
	s.banner = ""

	if userID == "" {
		s.mu.Unlock()
		s.signal()
		return
	}

	watchCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancelWatch = cancel
	ch := s.store.WatchSessions(watchCtx, userID)
	s.mu.Unlock()
	s.signal()

	go s.consume(epoch, ch)
}

// SetActive records which session the view currently shows, so deletions can
// navigate away from it.
func (s *Synchronizer) SetActive(sessionID string) {
	s.mu.Lock()
	s.activeID = sessionID
	s.mu.Unlock()
}

// Sessions returns a copy of the current ordered list.
func (s *Synchronizer) Sessions() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Banner returns the list-level error banner, if any.
func (s *Synchronizer) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// Create adds an empty session and navigates to it.
func (s *Synchronizer) Create(ctx context.Context) (models.Session, error) {
	userID := s.currentUser()
	if userID == "" {
		return models.Session{}, ErrUnauthenticated
	}

	sess, err := s.store.CreateSession(ctx, userID)
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	if s.nav != nil {
		s.nav.Navigate(sess.ID)
	}
	return sess, nil
}

// Rename sets a session's title. Empty and unchanged titles are no-ops that
// produce no store write.
func (s *Synchronizer) Rename(ctx context.Context, sessionID, title string) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrUnauthenticated
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if current, ok := s.find(sessionID); ok {
		if current.Title == title {
			return nil
		}
	} else if current, err := s.store.GetSession(ctx, userID, sessionID); err == nil && current.Title == title {
		// The list cache may not have a snapshot yet; a point read keeps the
		// unchanged rename a no-op even then.
		return nil
	}

	return s.store.UpdateSession(ctx, userID, sessionID, store.Fields{Title: &title})
}

// TogglePin flips a session's pinned flag, or forces it when set is non-nil.
func (s *Synchronizer) TogglePin(ctx context.Context, sessionID string, set *bool) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrUnauthenticated
	}

	pinned := false
	if set != nil {
		pinned = *set
	} else if current, ok := s.find(sessionID); ok {
		pinned = !current.Pinned
	}

	return s.store.UpdateSession(ctx, userID, sessionID, store.Fields{Pinned: &pinned})
}

// Delete removes one session. If it is the currently-viewed session, the
// view navigates to the neutral location.
func (s *Synchronizer) Delete(ctx context.Context, sessionID string) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrUnauthenticated
	}

	if err := s.store.DeleteSession(ctx, userID, sessionID); err != nil {
		return err
	}
	s.navigateAwayFrom([]string{sessionID})
	return nil
}

// DeleteMany removes a batch of sessions atomically.
func (s *Synchronizer) DeleteMany(ctx context.Context, sessionIDs []string) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrUnauthenticated
	}
	if len(sessionIDs) == 0 {
		return nil
	}

	if err := s.store.DeleteSessions(ctx, userID, sessionIDs); err != nil {
		s.setBanner("Failed to delete selected interview sessions.")
		return err
	}
	s.navigateAwayFrom(sessionIDs)
	return nil
}

func (s *Synchronizer) consume(epoch int64, ch <-chan store.SessionListEvent) {
	for ev := range ch {
		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}

		if ev.Err != nil {
			// Degrade to an empty list with a banner instead of failing the
			// whole view.
			log.Error().Err(ev.Err).Msg("Session list subscription failed")
			s.sessions = nil
			s.banner = "Failed to load recent interview sessions."
		} else {
			s.sessions = ev.Sessions
			s.banner = ""
		}
		s.mu.Unlock()
		s.signal()
	}
}

func (s *Synchronizer) navigateAwayFrom(deleted []string) {
	s.mu.Lock()
	active := s.activeID
	s.mu.Unlock()

	for _, id := range deleted {
		if id == active && s.nav != nil {
			s.nav.Navigate("")
			return
		}
	}
}

func (s *Synchronizer) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Synchronizer) find(sessionID string) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == sessionID {
			return sess, true
		}
	}
	return models.Session{}, false
}

func (s *Synchronizer) setBanner(banner string) {
	s.mu.Lock()
	s.banner = banner
	s.mu.Unlock()
	s.signal()
}

func (s *Synchronizer) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
