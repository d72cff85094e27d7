package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bookshelf/internal/models"
)

// QueryFunc runs a query against a store
type QueryFunc func(ctx context.Context, q Query) ([]models.Book, error)

// Hub fans change snapshots out to subscribers. Stores call Notify after each
// successful write; the hub re-runs every subscription for that owner and
// delivers the fresh result. A slow subscriber only ever sees the latest snapshot.
type Hub struct {
	query  QueryFunc
	logger *zap.Logger

	// notifyMu orders query and publish across Notify calls so a snapshot
	// taken earlier is never delivered after a later one
	notifyMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	query Query
	ch    chan []models.Book
	mu    sync.Mutex
	done  bool
}

// NewHub creates a hub that evaluates subscriptions with query
func NewHub(query QueryFunc, logger *zap.Logger) *Hub {
	return &Hub{
		query:  query,
		logger: logger,
		subs:   make(map[int]*subscription),
	}
}

// Subscribe registers q and sends its current result right away
func (h *Hub) Subscribe(ctx context.Context, q Query) (<-chan []models.Book, error) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	initial, err := h.query(ctx, q)
	if err != nil {
		return nil, err
	}

	sub := &subscription{query: q, ch: make(chan []models.Book, 1)}
	sub.ch <- initial

	h.mu.Lock()
	key := h.nextID
	h.nextID++
	h.subs[key] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, key)
		h.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// Notify pushes fresh snapshots to every subscription scoped to ownerID
func (h *Hub) Notify(ctx context.Context, ownerID string) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	var targets []*subscription
	for _, sub := range h.subs {
		if sub.query.OwnerID == "" || sub.query.OwnerID == ownerID {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		books, err := h.query(ctx, sub.query)
		if err != nil {
			h.logger.Warn("Failed to refresh subscription",
				zap.String("owner_id", ownerID),
				zap.Error(err),
			)
			continue
		}
		sub.publish(books)
	}
}

// Close ends all subscriptions
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (s *subscription) publish(books []models.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	// Replace an undelivered snapshot with the newer one
	select {
	case <-s.ch:
	default:
	}
	s.ch <- books
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
