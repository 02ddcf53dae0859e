// Package coordinator reconciles user input, optimistic local transcript
// state, live store snapshots, and inference replies for one active session
// context per user.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewsim/interviewsim/internal/inference"
	"github.com/interviewsim/interviewsim/internal/store"
	"github.com/interviewsim/interviewsim/pkg/models"
)

// ContextNew is the sentinel session context for a not-yet-created session.
const ContextNew = "new"

// State is the coordinator's position in the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateNew
	StateLoading
	StateReady
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateNotFound:
		return "not_found"
	default:
		return "uninitialized"
	}
}

// Validation errors rejected before any side effect.
var (
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrUnauthenticated = errors.New("you must be signed in to send messages")
	ErrBusy            = errors.New("a reply is already in progress")
)

// Store is the document-store surface the coordinator needs.
type Store interface {
	CreateSession(ctx context.Context, userID string) (models.Session, error)
	GetSession(ctx context.Context, userID, sessionID string) (models.Session, error)
	UpdateSession(ctx context.Context, userID, sessionID string, fields store.Fields) error
	TouchSession(ctx context.Context, userID, sessionID string) error
	CreateMessage(ctx context.Context, userID, sessionID, text string, sender models.Sender) (models.Message, error)
	WatchSession(ctx context.Context, userID, sessionID string) <-chan store.SessionEvent
	WatchMessages(ctx context.Context, userID, sessionID string) <-chan store.MessageListEvent
}

// Inference produces a reply for a prompt.
type Inference interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Navigator is told when the active context should move, e.g. to a freshly
// created session or back to the "new" sentinel after a missing document.
type Navigator interface {
	Navigate(sessionID string)
}

// pendingFirst is the single-slot hand-off between "session created" and
// "session context stable". It is consumed at most once.
type pendingFirst struct {
	text     string
	target   string
	consumed bool
}

// Coordinator owns the state machine for one user's active session context.
type Coordinator struct {
	store   Store
	infer   Inference
	nav     Navigator
	userID  string
	baseCtx context.Context

	mu          sync.Mutex
	epoch       int64
	contextID   string
	state       State
	sending     bool
	title       string
	transcript  []models.Message
	banner      string
	pending     *pendingFirst
	cancelWatch context.CancelFunc

	notify chan struct{}
}

// New creates a coordinator for one user. Watches live until ctx is done.
func New(ctx context.Context, st Store, infer Inference, nav Navigator, userID string) *Coordinator {
	return &Coordinator{
		store:   st,
		infer:   infer,
		nav:     nav,
		userID:  userID,
		baseCtx: ctx,
		state:   StateUninitialized,
		title:   models.DefaultTitle,
		notify:  make(chan struct{}, 1),
	}
}

// Notify returns a coalesced signal channel that fires after state changes.
func (c *Coordinator) Notify() <-chan struct{} { return c.notify }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ContextID returns the active session context ("new", a concrete id, or "").
func (c *Coordinator) ContextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contextID
}

// Title returns the live session title.
func (c *Coordinator) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Sending reports whether a message delivery (store writes plus the
// inference round-trip) is in flight.
func (c *Coordinator) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Transcript returns a copy of the rendered message sequence.
func (c *Coordinator) Transcript() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Banner returns the transient error banner, if any.
func (c *Coordinator) Banner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banner
}

// ClearBanner dismisses the transient error banner.
func (c *Coordinator) ClearBanner() {
	c.mu.Lock()
	c.banner = ""
	c.mu.Unlock()
	c.signal()
}

// SetContext switches the active session context. All transcript and error
// state is reset; watches for the previous context are torn down before any
// new ones are established. An inference call already in flight is not
// cancelled - its completion is discarded by the epoch guard.
func (c *Coordinator) SetContext(sessionID string) {
	c.mu.Lock()
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	c.epoch++
	epoch := c.epoch
	c.contextID = sessionID
	c.transcript = nil
	c.banner = ""
	c.sending = false
	c.title = models.DefaultTitle
	// A pending first message only survives the transition into its own
	// target context; switching anywhere else drops it.
	if c.pending != nil && c.pending.target != sessionID {
		c.pending = nil
	}

	if sessionID == "" || sessionID == ContextNew {
		c.state = StateNew
		c.mu.Unlock()
		c.signal()
		return
	}

	c.state = StateLoading
	watchCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancelWatch = cancel
	sessionCh := c.store.WatchSession(watchCtx, c.userID, sessionID)
	messagesCh := c.store.WatchMessages(watchCtx, c.userID, sessionID)
	c.mu.Unlock()
	c.signal()

	go c.consumeSession(epoch, sessionCh)
	go c.consumeMessages(epoch, messagesCh)
}

// Submit handles one user message for the active context. It returns the
// session id the message is (or will be) attached to.
func (c *Coordinator) Submit(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.userID == "" {
		c.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if text == "" {
		c.mu.Unlock()
		return "", ErrEmptyMessage
	}
	if c.sending {
		c.mu.Unlock()
		return "", ErrBusy
	}
	// Claim the single in-flight slot inside the same critical section as the
	// busy check, so two concurrent submits can never both pass it.
	c.sending = true

	contextID := c.contextID
	epoch := c.epoch
	temp := localMessage(contextID, text)
	c.transcript = append(c.transcript, temp)
	c.mu.Unlock()
	c.signal()

	if contextID == "" || contextID == ContextNew {
		return c.submitNew(ctx, epoch, temp.ID, text)
	}

	defer c.setSending(epoch, false)
	if err := c.deliver(ctx, epoch, contextID, text, temp.ID); err != nil {
		return contextID, err
	}
	return contextID, nil
}

// submitNew creates the session record, arms the pending first message, and
// transitions the context. The pending message is flushed once the new
// context reports Ready.
func (c *Coordinator) submitNew(ctx context.Context, epoch int64, tempID, text string) (string, error) {
	sess, err := c.store.CreateSession(ctx, c.userID)
	if err != nil {
		c.setSending(epoch, false)
		c.rollback(epoch, tempID)
		c.setBanner(epoch, "Failed to create new interview session. Please try again.")
		return "", fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	c.pending = &pendingFirst{text: text, target: sess.ID}
	c.mu.Unlock()

	// The transition resets local state; the pending slot survives it.
	c.SetContext(sess.ID)
	if c.nav != nil {
		c.nav.Navigate(sess.ID)
	}
	return sess.ID, nil
}

// deliver persists the user message, runs the inference round-trip, and
// persists the reply (or its diagnostic). Shared by the existing-session path
// and the pending-first-message flush. The caller owns the sending slot for
// the whole call and releases it afterwards.
func (c *Coordinator) deliver(ctx context.Context, epoch int64, sessionID, text, tempID string) error {
	// Title-once step: the default title is rewritten exactly once, by the
	// first message to reach the session.
	if sess, err := c.store.GetSession(ctx, c.userID, sessionID); err == nil {
		if sess.Title == models.DefaultTitle {
			title := models.TitleFromMessage(text)
			if err := c.store.UpdateSession(ctx, c.userID, sessionID, store.Fields{Title: &title}); err != nil {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to update session title")
			}
		} else {
			if err := c.store.TouchSession(ctx, c.userID, sessionID); err != nil {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to touch session")
			}
		}
	}

	if _, err := c.store.CreateMessage(ctx, c.userID, sessionID, text, models.SenderUser); err != nil {
		c.rollback(epoch, tempID)
		c.setBanner(epoch, "Failed to send message or save session. Please try again.")
		return fmt.Errorf("persist user message: %w", err)
	}

	reply, askErr := c.infer.Ask(ctx, text)

	botText := reply
	if askErr != nil {
		botText = inference.BotText(askErr)
		c.setBanner(epoch, botText)
	}

	if _, err := c.store.CreateMessage(ctx, c.userID, sessionID, botText, models.SenderBot); err != nil {
		c.setBanner(epoch, "Failed to save the reply. Please try again.")
		return fmt.Errorf("persist bot message: %w", err)
	}

	if askErr != nil {
		return askErr
	}
	return nil
}

// consumeSession applies session-document snapshots for one context epoch.
func (c *Coordinator) consumeSession(epoch int64, ch <-chan store.SessionEvent) {
	for ev := range ch {
		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}

		switch {
		case ev.Err != nil:
			c.banner = "Failed to load interview session details."
			c.mu.Unlock()
			c.signal()

		case !ev.Found:
			// Recoverable: redirect to a fresh context with an informational
			// message rather than failing hard.
			c.state = StateNotFound
			c.banner = "Interview session not found. Starting a new one."
			c.mu.Unlock()
			c.signal()
			c.SetContext(ContextNew)
			if c.nav != nil {
				c.nav.Navigate(ContextNew)
			}
			return

		default:
			c.title = ev.Session.Title
			c.state = StateReady
			// The flush needs the sending slot like any other delivery. If a
			// submit holds it, leave the pending message armed; its store
			// writes will trigger another snapshot and the flush retries then.
			var flush *pendingFirst
			if !c.sending {
				if flush = c.takePendingLocked(ev.Session.ID); flush != nil {
					c.sending = true
				}
			}
			c.mu.Unlock()
			c.signal()

			if flush != nil {
				go func(sessionID, text string) {
					defer c.setSending(epoch, false)
					if err := c.deliver(c.baseCtx, epoch, sessionID, text, ""); err != nil {
						log.Warn().Err(err).Str("sessionId", sessionID).Msg("Pending first message delivery failed")
					}
				}(ev.Session.ID, flush.text)
			}
		}
	}
}

// consumeMessages applies transcript snapshots for one context epoch. The
// store snapshot is authoritative; local optimistic entries survive only
// until a snapshot carrying the same content arrives.
func (c *Coordinator) consumeMessages(epoch int64, ch <-chan store.MessageListEvent) {
	for ev := range ch {
		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}

		if ev.Err != nil {
			c.banner = "Failed to load messages."
			c.mu.Unlock()
			c.signal()
			continue
		}

		merged := make([]models.Message, len(ev.Messages))
		copy(merged, ev.Messages)
		for _, local := range c.transcript {
			if local.Local() && !containsContent(ev.Messages, local) {
				merged = append(merged, local)
			}
		}
		c.transcript = merged
		c.mu.Unlock()
		c.signal()
	}
}

// takePendingLocked consumes the pending first message if it targets the
// given session and has not been consumed yet. Callers hold c.mu.
func (c *Coordinator) takePendingLocked(sessionID string) *pendingFirst {
	p := c.pending
	if p == nil || p.consumed || p.target != sessionID {
		return nil
	}
	p.consumed = true
	c.pending = nil
	return p
}

// rollback removes an optimistic local entry after a failed persist, so the
// UI never shows a message that does not exist in the store.
func (c *Coordinator) rollback(epoch int64, tempID string) {
	if tempID == "" {
		return
	}
	c.mu.Lock()
	if epoch == c.epoch {
		kept := c.transcript[:0]
		for _, m := range c.transcript {
			if m.ID != tempID {
				kept = append(kept, m)
			}
		}
		c.transcript = kept
	}
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) setSending(epoch int64, sending bool) {
	c.mu.Lock()
	if epoch == c.epoch {
		c.sending = sending
	}
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) setBanner(epoch int64, banner string) {
	c.mu.Lock()
	if epoch == c.epoch {
		c.banner = banner
	}
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func localMessage(sessionID, text string) models.Message {
	now := time.Now()
	return models.Message{
		ID:             fmt.Sprintf("%s%d", models.LocalIDPrefix, now.UnixNano()),
		SessionID:      sessionID,
		Text:           text,
		Sender:         models.SenderUser,
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}
}

func containsContent(msgs []models.Message, local models.Message) bool {
	for _, m := range msgs {
		if m.Sender == local.Sender && m.Text == local.Text {
			return true
		}
	}
	return false
}
