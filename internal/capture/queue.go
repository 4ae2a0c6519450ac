package capture

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// Queue is the durable store of pending captures
type Queue interface {
	// Enqueue inserts a new item; ErrDuplicateItem if the id is taken
	Enqueue(item *Item) error

	// Get returns an item by id; ErrNotFound if absent
	Get(id string) (*Item, error)

	// ListAll returns every queued item in no particular order
	ListAll() ([]*Item, error)

	// Remove deletes an item; removing a missing id is not an error
	Remove(id string) error
}

// QueueListener receives the visible queue, newest first, after each change
type QueueListener func(items []*Item)

// Feed is the queue as the user sees it: newest first, minus any items
// held aside (the shared-origin item during a cold-start hand-off). It
// never fails; an unreadable store shows as an empty queue.
type Feed struct {
	queue  Queue
	logger *slog.Logger

	mu        sync.Mutex
	hidden    map[string]struct{}
	listeners []QueueListener
}

// NewFeed creates a Feed over queue
func NewFeed(queue Queue, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		queue:  queue,
		logger: logger,
		hidden: make(map[string]struct{}),
	}
}

// Subscribe registers a listener for queue refreshes
func (f *Feed) Subscribe(l QueueListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// Hide removes id from the visible queue without touching the store
func (f *Feed) Hide(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden[id] = struct{}{}
}

// Reveal undoes Hide
func (f *Feed) Reveal(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hidden, id)
}

// All returns every stored item newest first, hidden ones included
func (f *Feed) All() []*Item {
	items, err := f.queue.ListAll()
	if err != nil {
		f.logger.Warn("Failed to list capture queue", "error", err)
		return []*Item{}
	}
	sortNewestFirst(items)
	return items
}

// Snapshot returns the visible queue, newest first
func (f *Feed) Snapshot() []*Item {
	all := f.All()

	f.mu.Lock()
	defer f.mu.Unlock()
	visible := make([]*Item, 0, len(all))
	for _, item := range all {
		if _, ok := f.hidden[item.ID]; ok {
			continue
		}
		visible = append(visible, item)
	}
	return visible
}

// Refresh re-reads the queue and notifies listeners
func (f *Feed) Refresh() {
	items := f.Snapshot()

	f.mu.Lock()
	listeners := append([]QueueListener(nil), f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l(items)
	}
}

// ensureQueued writes item to the queue unless it is already there
func ensureQueued(queue Queue, item *Item) error {
	_, err := queue.Get(item.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := queue.Enqueue(item); err != nil && !errors.Is(err, ErrDuplicateItem) {
		return err
	}
	return nil
}

func sortNewestFirst(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp > items[j].Timestamp
	})
}
