// Package auth implements the identity provider: credential registration and
// sign-in, bearer-token verification, and an auth-state observation stream.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	dbgorm "github.com/interviewsim/interviewsim/internal/db/gorm"
	"github.com/interviewsim/interviewsim/pkg/models"
)

const minPasswordLen = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// StateChange is one auth state transition: a sign-in carries the user, a
// sign-out carries a nil User.
type StateChange struct {
	User *models.User
}

type tokenEntry struct {
	userID    string
	expiresAt time.Time
}

// Service is the identity provider.
type Service struct {
	store    *dbgorm.Store
	tokenTTL time.Duration

	mu        sync.Mutex
	tokens    map[string]tokenEntry
	observers map[int]chan StateChange
	nextObsID int
}

// NewService creates an identity service over the given store.
func NewService(store *dbgorm.Store, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Service{
		store:     store,
		tokenTTL:  tokenTTL,
		tokens:    make(map[string]tokenEntry),
		observers: make(map[int]chan StateChange),
	}
}

// Register creates a new account and signs it in, returning a bearer token.
func (s *Service) Register(ctx context.Context, email, password string) (models.User, string, error) {
	if !emailPattern.MatchString(email) {
		return models.User{}, "", ErrMalformedIdentifier
	}
	if len(password) < minPasswordLen {
		return models.User{}, "", ErrWeakCredential
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	row := dbgorm.User{Email: email, PasswordHash: string(hash), Provider: "password"}
	if err := s.db(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return models.User{}, "", ErrAlreadyRegistered
		}
		return models.User{}, "", fmt.Errorf("create user: %w", err)
	}

	user := decodeUser(row)
	token := s.issue(user)
	log.Info().Str("userId", user.ID).Msg("User registered")
	return user, token, nil
}

// SignIn verifies a credential pair and returns a bearer token.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.User, string, error) {
	if !emailPattern.MatchString(email) {
		return models.User{}, "", ErrMalformedIdentifier
	}

	var row dbgorm.User
	err := s.db(ctx).Where("email = ?", email).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, "", ErrNotFound
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("find user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", ErrBadCredential
	}

	user := decodeUser(row)
	token := s.issue(user)
	return user, token, nil
}

// SignInFederated signs in via a federated identity that has already been
// verified by the named provider, creating the account on first sight.
func (s *Service) SignInFederated(ctx context.Context, provider, email string) (models.User, string, error) {
	if !emailPattern.MatchString(email) {
		return models.User{}, "", ErrMalformedIdentifier
	}

	var row dbgorm.User
	err := s.db(ctx).Where("email = ?", email).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = dbgorm.User{Email: email, Provider: provider}
		if err := s.db(ctx).Create(&row).Error; err != nil {
			return models.User{}, "", fmt.Errorf("create federated user: %w", err)
		}
	} else if err != nil {
		return models.User{}, "", fmt.Errorf("find user: %w", err)
	}

	user := decodeUser(row)
	token := s.issue(user)
	return user, token, nil
}

// ProfileUpdate is a partial profile mutation. Nil members are left
// untouched. A password change re-authenticates with the current password.
type ProfileUpdate struct {
	DisplayName     *string
	NewPassword     *string
	CurrentPassword string
}

// UpdateProfile applies a profile mutation for the given user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (models.User, error) {
	var row dbgorm.User
	err := s.db(ctx).Where("id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}

	updates := map[string]any{}
	if update.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*update.DisplayName)
	}
	if update.NewPassword != nil {
		// Federated accounts carry no password hash and cannot set one here.
		if row.PasswordHash == "" {
			return models.User{}, ErrBadCredential
		}
		if bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(update.CurrentPassword)) != nil {
			return models.User{}, ErrBadCredential
		}
		if len(*update.NewPassword) < minPasswordLen {
			return models.User{}, ErrWeakCredential
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*update.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		updates["password_hash"] = string(hash)
	}
	if len(updates) == 0 {
		return decodeUser(row), nil
	}

	if err := s.db(ctx).Model(&dbgorm.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		return models.User{}, fmt.Errorf("update profile: %w", err)
	}
	if update.DisplayName != nil {
		row.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	log.Info().Str("userId", userID).Msg("Profile updated")
	return decodeUser(row), nil
}

// SignOut invalidates a token.
func (s *Service) SignOut(ctx context.Context, token string) {
	s.mu.Lock()
	_, ok := s.tokens[token]
	delete(s.tokens, token)
	s.mu.Unlock()

	if ok {
		s.broadcast(StateChange{User: nil})
	}
}

// Verify resolves a bearer token to its user.
func (s *Service) Verify(ctx context.Context, token string) (models.User, error) {
	s.mu.Lock()
	entry, ok := s.tokens[token]
	if ok && time.Now().After(entry.expiresAt) {
		delete(s.tokens, token)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return models.User{}, ErrBadToken
	}

	var row dbgorm.User
	err := s.db(ctx).Where("id = ?", entry.userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrBadToken
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return decodeUser(row), nil
}

// Observe subscribes to auth state transitions. The returned cancel func
// releases the subscription.
func (s *Service) Observe() (<-chan StateChange, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObsID++
	id := s.nextObsID
	ch := make(chan StateChange, 8)
	s.observers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
	return ch, cancel
}

func (s *Service) issue(user models.User) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = tokenEntry{userID: user.ID, expiresAt: time.Now().Add(s.tokenTTL)}
	s.mu.Unlock()

	s.broadcast(StateChange{User: &user})
	return token
}

func (s *Service) broadcast(change StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.observers {
		select {
		case ch <- change:
		default:
		}
	}
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.store.GetDB().WithContext(ctx)
}

func decodeUser(row dbgorm.User) models.User {
	return models.User{
		ID:             row.ID,
		Email:          row.Email,
		DisplayName:    row.DisplayName,
		Provider:       row.Provider,
		CreatedAt:      row.CreatedAt,
		CreatedAtEpoch: row.CreatedAtEpoch,
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if err == nil {
		return false
	}
	// SQLite and Postgres report constraint violations as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
