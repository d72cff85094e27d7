package stubs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/id"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
	"bookshelf/internal/validation"
)

// MockDB is an in-memory implementation of the Storage interface
type MockDB struct {
	mu        sync.RWMutex
	books     map[string]models.Book
	lastStamp time.Time
	closed    bool

	validator *validation.Validator
	hub       *storage.Hub
	now       func() time.Time

	// failures injects errors per operation name ("create", "get", "query",
	// "update", "delete") for exercising error paths
	failures map[string]error
}

// NewMockDB creates a new mock database
func NewMockDB(logger *zap.Logger) *MockDB {
	m := &MockDB{
		books:     make(map[string]models.Book),
		validator: validation.New(),
		now:       time.Now,
		failures:  make(map[string]error),
	}
	m.hub = storage.NewHub(m.QueryBooks, logger)
	return m
}

// Initialize has nothing to prepare for the in-memory store
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// FailNext makes every call of op return err until cleared with a nil err
func (m *MockDB) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MockDB) failure(op string) error {
	if m.closed {
		return domainerrors.StoreUnavailable(op, fmt.Errorf("store closed"))
	}
	if err, ok := m.failures[op]; ok {
		return err
	}
	return nil
}

// stamp returns a strictly increasing server timestamp
func (m *MockDB) stamp() time.Time {
	t := m.now().UTC()
	if !t.After(m.lastStamp) {
		t = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = t
	return t
}

// CreateBook stores a new book under a generated ID
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	m.mu.Lock()
	if err := m.failure("create"); err != nil {
		m.mu.Unlock()
		return models.Book{}, err
	}

	bookID, err := id.Generate("bk")
	if err != nil {
		m.mu.Unlock()
		return models.Book{}, domainerrors.StoreUnavailable("create book", err)
	}
	book.ID = bookID
	book.CreatedAt = m.stamp()
	book.UpdatedAt = book.CreatedAt

	if err := m.validator.Validate(book); err != nil {
		m.mu.Unlock()
		return models.Book{}, err
	}

	m.books[book.ID] = book
	m.mu.Unlock()

	m.hub.Notify(ctx, book.OwnerID)
	return book, nil
}

// GetBook returns the book with the given ID
func (m *MockDB) GetBook(ctx context.Context, bookID string) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("get"); err != nil {
		return models.Book{}, err
	}

	book, ok := m.books[bookID]
	if !ok {
		return models.Book{}, domainerrors.NotFound(fmt.Sprintf("book %s not found", bookID))
	}
	return book, nil
}

// QueryBooks returns books matching the query, newest first by default
func (m *MockDB) QueryBooks(ctx context.Context, q storage.Query) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("query"); err != nil {
		return nil, err
	}

	books := make([]models.Book, 0)
	for _, book := range m.books {
		if q.Matches(book) {
			books = append(books, book)
		}
	}

	q.Order(books)
	return q.Truncate(books), nil
}

// UpdateBook merges patch into an existing book owned by ownerID
func (m *MockDB) UpdateBook(ctx context.Context, ownerID, bookID string, patch models.Patch) error {
	m.mu.Lock()
	if err := m.failure("update"); err != nil {
		m.mu.Unlock()
		return err
	}

	book, ok := m.books[bookID]
	if !ok {
		m.mu.Unlock()
		return domainerrors.NotFound(fmt.Sprintf("book %s not found", bookID))
	}
	if book.OwnerID != ownerID {
		m.mu.Unlock()
		return domainerrors.PermissionDenied(fmt.Sprintf("book %s belongs to another user", bookID))
	}

	updated := patch.Apply(book)
	updated.UpdatedAt = m.stamp()
	if err := m.validator.Validate(updated); err != nil {
		m.mu.Unlock()
		return err
	}

	m.books[bookID] = updated
	m.mu.Unlock()

	m.hub.Notify(ctx, ownerID)
	return nil
}

// DeleteBook removes a book owned by ownerID
func (m *MockDB) DeleteBook(ctx context.Context, ownerID, bookID string) error {
	m.mu.Lock()
	if err := m.failure("delete"); err != nil {
		m.mu.Unlock()
		return err
	}

	book, ok := m.books[bookID]
	if !ok {
		m.mu.Unlock()
		return domainerrors.NotFound(fmt.Sprintf("book %s not found", bookID))
	}
	if book.OwnerID != ownerID {
		m.mu.Unlock()
		return domainerrors.PermissionDenied(fmt.Sprintf("book %s belongs to another user", bookID))
	}

	delete(m.books, bookID)
	m.mu.Unlock()

	m.hub.Notify(ctx, ownerID)
	return nil
}

// Subscribe streams query snapshots after every write for the query owner
func (m *MockDB) Subscribe(ctx context.Context, q storage.Query) (<-chan []models.Book, error) {
	return m.hub.Subscribe(ctx, q)
}

// Close ends subscriptions; later calls fail as unavailable
func (m *MockDB) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.hub.Close()
	return nil
}
