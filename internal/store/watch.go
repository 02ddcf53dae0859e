package store

import (
	"context"
	"errors"

	"github.com/interviewsim/interviewsim/pkg/models"
)

// SessionEvent is one delivery on a session-document watch. Found is false
// when the document does not exist (or was deleted mid-watch).
type SessionEvent struct {
	Session models.Session
	Found   bool
	Err     error
}

// MessageListEvent is one delivery on a transcript watch.
type MessageListEvent struct {
	Messages []models.Message
	Err      error
}

// SessionListEvent is one delivery on a session-list watch.
type SessionListEvent struct {
	Sessions []models.Session
	Err      error
}

// WatchSession streams snapshots of one session document. An initial snapshot
// is delivered immediately; further snapshots follow every mutation touching
// the user. The channel closes when ctx is done.
func (a *Adapter) WatchSession(ctx context.Context, userID, sessionID string) <-chan SessionEvent {
	out := make(chan SessionEvent, 1)
	snapshot := func(ctx context.Context) SessionEvent {
		sess, err := a.GetSession(ctx, userID, sessionID)
		if errors.Is(err, ErrNotFound) {
			return SessionEvent{Found: false}
		}
		if err != nil {
			return SessionEvent{Err: err}
		}
		return SessionEvent{Session: sess, Found: true}
	}
	go watchLoop(ctx, a.notifier, userID, out, snapshot)
	return out
}

// WatchMessages streams ordered transcript snapshots for one session.
func (a *Adapter) WatchMessages(ctx context.Context, userID, sessionID string) <-chan MessageListEvent {
	out := make(chan MessageListEvent, 1)
	snapshot := func(ctx context.Context) MessageListEvent {
		msgs, err := a.ListMessages(ctx, userID, sessionID)
		if err != nil {
			return MessageListEvent{Err: err}
		}
		return MessageListEvent{Messages: msgs}
	}
	go watchLoop(ctx, a.notifier, userID, out, snapshot)
	return out
}

// WatchSessions streams ordered session-list snapshots for one user.
func (a *Adapter) WatchSessions(ctx context.Context, userID string) <-chan SessionListEvent {
	out := make(chan SessionListEvent, 1)
	snapshot := func(ctx context.Context) SessionListEvent {
		sessions, err := a.ListSessions(ctx, userID)
		if err != nil {
			return SessionListEvent{Err: err}
		}
		return SessionListEvent{Sessions: sessions}
	}
	go watchLoop(ctx, a.notifier, userID, out, snapshot)
	return out
}

// watchLoop drives one watch: initial snapshot, then a re-query per change
// signal. Deliveries are coalesced - an undelivered snapshot is replaced by a
// newer one rather than queued behind it.
func watchLoop[E any](ctx context.Context, n *notifier, userID string, out chan E, snapshot func(context.Context) E) {
	defer close(out)

	signals, cancel := n.subscribe(userID)
	defer cancel()

	deliver := func(ev E) {
		// Drop the stale pending delivery, if any, then queue the new one.
		select {
		case <-out:
		default:
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	deliver(snapshot(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			deliver(snapshot(ctx))
		}
	}
}
