package storage

import (
	"context"

	"bookshelf/internal/models"
)

// OrderField is a field the store can order query results by
type OrderField string

const (
	OrderByCreatedAt OrderField = "createdAt"
	OrderByUpdatedAt OrderField = "updatedAt"
)

// Query selects books from the collection. Empty fields match everything.
type Query struct {
	OwnerID  string
	Status   models.Status
	Category string

	// PagesMin and PagesMax bound the page count; PagesMax <= 0 means unbounded
	PagesMin int
	PagesMax int

	OrderBy OrderField
	// Ascending flips the default descending order
	Ascending bool
	Limit     int
}

// Storage is the remote book collection. Implementations assign record IDs and
// creation/update timestamps, validate records before accepting a write and
// enforce ownership on updates and deletes.
type Storage interface {
	// CreateBook stores a new record and returns it with ID and timestamps set.
	// Any ID on the input is ignored.
	CreateBook(ctx context.Context, book models.Book) (models.Book, error)

	// GetBook returns a single record. Returns ErrNotFound if it does not exist.
	GetBook(ctx context.Context, id string) (models.Book, error)

	// QueryBooks returns records matching the query. Zero matches is not an error.
	QueryBooks(ctx context.Context, q Query) ([]models.Book, error)

	// UpdateBook merges patch into the stored record and refreshes its update time.
	// Returns ErrNotFound for an unknown id and ErrPermissionDenied when the record
	// belongs to someone other than ownerID.
	UpdateBook(ctx context.Context, ownerID, id string, patch models.Patch) error

	// DeleteBook removes a record. Returns ErrNotFound for an unknown id and
	// ErrPermissionDenied when the record belongs to someone other than ownerID.
	DeleteBook(ctx context.Context, ownerID, id string) error

	// Subscribe streams the full result of q once immediately and again after every
	// write affecting q.OwnerID, until ctx is done. The channel is closed afterwards.
	Subscribe(ctx context.Context, q Query) (<-chan []models.Book, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
