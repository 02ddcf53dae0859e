package store

import "sync"

// notifier fans change signals out to live watches. One signal stream exists
// per user; delivery is coalesced and non-blocking so a slow watcher never
// stalls a write path.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[int]chan struct{})}
}

// subscribe registers a signal channel for the given user. The returned
// cancel func must be called to release the subscription.
func (n *notifier) subscribe(userID string) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	ch := make(chan struct{}, 1)

	if n.subs[userID] == nil {
		n.subs[userID] = make(map[int]chan struct{})
	}
	n.subs[userID][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if m := n.subs[userID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(n.subs, userID)
			}
		}
	}
	return ch, cancel
}

// publish signals every watcher of the given user. A signal already pending
// on a channel stands in for this one.
func (n *notifier) publish(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
