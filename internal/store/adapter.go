// Package store wraps the database behind the document-store operations the
// rest of the system consumes: scoped CRUD for sessions and messages plus
// live, ordered watch streams that re-deliver after every mutation.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	dbgorm "github.com/interviewsim/interviewsim/internal/db/gorm"
	"github.com/interviewsim/interviewsim/pkg/models"
)

// ErrNotFound is returned when a document does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("not found")

// Fields is a partial-merge update for a session document. Nil members are
// left untouched.
type Fields struct {
	Title  *string
	Pinned *bool
}

// Adapter provides session and message operations scoped to a user.
type Adapter struct {
	store    *dbgorm.Store
	notifier *notifier
}

// NewAdapter creates a store adapter over an open database.
func NewAdapter(store *dbgorm.Store) *Adapter {
	return &Adapter{store: store, notifier: newNotifier()}
}

func (a *Adapter) db(ctx context.Context) *gorm.DB {
	return a.store.GetDB().WithContext(ctx)
}

// Subscribe exposes the raw change-signal stream for one user. Watch methods
// are preferred; this exists for transports that only need "something
// changed" pings, like the SSE event stream.
func (a *Adapter) Subscribe(userID string) (<-chan struct{}, func()) {
	return a.notifier.subscribe(userID)
}

// CreateSession creates an empty session with the default title and
// server-assigned id and timestamps.
func (a *Adapter) CreateSession(ctx context.Context, userID string) (models.Session, error) {
	row := dbgorm.Session{
		UserID: userID,
		Title:  models.DefaultTitle,
	}
	if err := a.db(ctx).Create(&row).Error; err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	a.notifier.publish(userID)
	return decodeSession(row), nil
}

// GetSession reads one session document.
func (a *Adapter) GetSession(ctx context.Context, userID, sessionID string) (models.Session, error) {
	var row dbgorm.Session
	err := a.db(ctx).Where("id = ? AND user_id = ?", sessionID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(row), nil
}

// UpdateSession applies a partial field merge and bumps last_updated.
func (a *Adapter) UpdateSession(ctx context.Context, userID, sessionID string, fields Fields) error {
	updates := touchValues()
	if fields.Title != nil {
		updates["title"] = *fields.Title
	}
	if fields.Pinned != nil {
		updates["pinned"] = *fields.Pinned
	}

	res := a.db(ctx).Model(&dbgorm.Session{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	a.notifier.publish(userID)
	return nil
}

// TouchSession bumps last_updated without changing any other field.
func (a *Adapter) TouchSession(ctx context.Context, userID, sessionID string) error {
	return a.UpdateSession(ctx, userID, sessionID, Fields{})
}

// DeleteSession removes a session and all of its messages in one transaction.
func (a *Adapter) DeleteSession(ctx context.Context, userID, sessionID string) error {
	err := a.db(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSessionTx(tx, userID, sessionID)
	})
	if err != nil {
		return err
	}
	a.notifier.publish(userID)
	return nil
}

// DeleteSessions removes a batch of sessions atomically: if any id is missing
// or any delete fails, nothing is removed.
func (a *Adapter) DeleteSessions(ctx context.Context, userID string, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	err := a.db(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range sessionIDs {
			if err := deleteSessionTx(tx, userID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.notifier.publish(userID)
	return nil
}

func deleteSessionTx(tx *gorm.DB, userID, sessionID string) error {
	if err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).
		Delete(&dbgorm.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res := tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&dbgorm.Session{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// ListSessions returns the user's sessions ordered pinned first, most
// recently updated first.
func (a *Adapter) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var rows []dbgorm.Session
	err := a.db(ctx).Where("user_id = ?", userID).
		Order("pinned DESC").
		Order("last_updated_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]models.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, decodeSession(row))
	}
	return sessions, nil
}

// CreateMessage appends a message to a session's transcript. The session must
// exist and belong to the user.
func (a *Adapter) CreateMessage(ctx context.Context, userID, sessionID, text string, sender models.Sender) (models.Message, error) {
	row := dbgorm.Message{
		SessionID: sessionID,
		UserID:    userID,
		Text:      text,
		Sender:    string(sender),
	}
	err := a.db(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&dbgorm.Session{}).
			Where("id = ? AND user_id = ?", sessionID, userID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}

	a.notifier.publish(userID)

	msg, err := decodeMessage(row)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns a session's transcript ordered by creation time.
func (a *Adapter) ListMessages(ctx context.Context, userID, sessionID string) ([]models.Message, error) {
	var rows []dbgorm.Message
	err := a.db(ctx).Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("created_at_epoch ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := decodeMessage(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func touchValues() map[string]any {
	now := time.Now()
	return map[string]any{
		"last_updated":       now.Format(time.RFC3339),
		"last_updated_epoch": now.UnixMilli(),
	}
}

func decodeSession(row dbgorm.Session) models.Session {
	return models.Session{
		ID:               row.ID,
		UserID:           row.UserID,
		Title:            row.Title,
		Pinned:           row.Pinned,
		CreatedAt:        row.CreatedAt,
		CreatedAtEpoch:   row.CreatedAtEpoch,
		LastUpdated:      row.LastUpdated,
		LastUpdatedEpoch: row.LastUpdatedEpoch,
	}
}

func decodeMessage(row dbgorm.Message) (models.Message, error) {
	sender, err := models.ParseSender(row.Sender)
	if err != nil {
		log.Error().Str("messageId", row.ID).Err(err).Msg("Malformed message document")
		return models.Message{}, fmt.Errorf("decode message %s: %w", row.ID, err)
	}
	return models.Message{
		ID:             row.ID,
		SessionID:      row.SessionID,
		Text:           row.Text,
		Sender:         sender,
		CreatedAt:      row.CreatedAt,
		CreatedAtEpoch: row.CreatedAtEpoch,
	}, nil
}
