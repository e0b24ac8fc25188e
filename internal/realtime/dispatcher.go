package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// EventListsChanged is published after a committed write to a user's lists.
	EventListsChanged = "lists-change"
	// EventFavoritesChanged is published after a committed write to a user's favorites.
	EventFavoritesChanged = "favorites-change"
	// EventSessionChanged is published when a user signs in or out.
	EventSessionChanged = "session-change"

	defaultBufferSize = 16
)

// Message is a change notification scoped to one user.
type Message struct {
	UserID    string
	EventType string
	Lists     []string
	Timestamp time.Time
}

// Dispatcher fans messages out to the subscribers of each user.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
	once   sync.Once
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a subscriber for userID. The stream is closed by the returned
// cleanup function or when ctx ends, whichever comes first.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Message, func()) {
	if userID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(userID, sub)
	cleanup := func() {
		d.unregister(userID, sub)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the message to every subscriber of message.UserID. Subscribers whose
// buffer is full miss the message.
func (d *Dispatcher) Publish(message Message) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[message.UserID] {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the active subscribers of a user.
func (d *Dispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][sub.id] = sub
}

func (d *Dispatcher) unregister(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, sub.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	sub.once.Do(func() {
		close(sub.stream)
	})
}
