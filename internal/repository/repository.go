// Package repository translates library operations into Remote Store calls.
// It scopes every call to the owner and leaves business rules to the caller.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

// Repository is the Book Record Repository backed by a storage.Storage
type Repository struct {
	store  storage.Storage
	logger *zap.Logger
}

// New creates a repository on top of store
func New(store storage.Storage, logger *zap.Logger) *Repository {
	return &Repository{
		store:  store,
		logger: logger,
	}
}

// ListForUser returns all books owned by ownerID, newest first.
// A user without books gets an empty list.
func (r *Repository) ListForUser(ctx context.Context, ownerID string) ([]models.Book, error) {
	books, err := r.store.QueryBooks(ctx, storage.Query{
		OwnerID: ownerID,
		OrderBy: storage.OrderByCreatedAt,
	})
	if err != nil {
		r.logger.Warn("Failed to list books", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, surface("list books", err)
	}
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

// ListMatching returns the owner's books with the given status and category,
// newest first. Empty values match everything.
func (r *Repository) ListMatching(ctx context.Context, ownerID string, status models.Status, category string) ([]models.Book, error) {
	books, err := r.store.QueryBooks(ctx, storage.Query{
		OwnerID:  ownerID,
		Status:   status,
		Category: category,
		OrderBy:  storage.OrderByCreatedAt,
	})
	if err != nil {
		return nil, surface("list matching books", err)
	}
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

// Get returns a single book owned by ownerID
func (r *Repository) Get(ctx context.Context, id, ownerID string) (models.Book, error) {
	book, err := r.store.GetBook(ctx, id)
	if err != nil {
		return models.Book{}, surface("get book", err)
	}
	if book.OwnerID != ownerID {
		return models.Book{}, domainerrors.PermissionDenied(fmt.Sprintf("book %s belongs to another user", id))
	}
	return book, nil
}

// Create submits draft as a new book of ownerID. The store assigns the ID and timestamps.
func (r *Repository) Create(ctx context.Context, ownerID string, draft models.Draft) (models.Book, error) {
	book, err := r.store.CreateBook(ctx, draft.Book(ownerID))
	if err != nil {
		r.logger.Warn("Failed to create book",
			zap.String("owner_id", ownerID),
			zap.String("title", draft.Title),
			zap.Error(err),
		)
		return models.Book{}, surface("create book", err)
	}

	r.logger.Debug("Book created", zap.String("owner_id", ownerID), zap.String("book_id", book.ID))
	return book, nil
}

// Update merges patch into the stored book. Identity fields cannot be part of a
// patch, and the store refreshes updatedAt.
func (r *Repository) Update(ctx context.Context, id string, patch models.Patch, ownerID string) error {
	if err := r.store.UpdateBook(ctx, ownerID, id, patch); err != nil {
		r.logger.Warn("Failed to update book",
			zap.String("owner_id", ownerID),
			zap.String("book_id", id),
			zap.Error(err),
		)
		return surface("update book", err)
	}
	return nil
}

// Delete removes a book. Deleting a book that does not exist is not an error.
func (r *Repository) Delete(ctx context.Context, id, ownerID string) error {
	err := r.store.DeleteBook(ctx, ownerID, id)
	if domainerrors.Is(err, domainerrors.ErrNotFound) {
		r.logger.Debug("Book already deleted", zap.String("book_id", id))
		return nil
	}
	if err != nil {
		r.logger.Warn("Failed to delete book",
			zap.String("owner_id", ownerID),
			zap.String("book_id", id),
			zap.Error(err),
		)
		return surface("delete book", err)
	}
	return nil
}

// Subscribe streams full snapshots of the owner's books, newest first,
// after every change made through the store
func (r *Repository) Subscribe(ctx context.Context, ownerID string) (<-chan []models.Book, error) {
	feed, err := r.store.Subscribe(ctx, storage.Query{
		OwnerID: ownerID,
		OrderBy: storage.OrderByCreatedAt,
	})
	if err != nil {
		return nil, surface("subscribe", err)
	}
	return feed, nil
}

// surface passes typed store errors through and classifies anything else
// (transport failures, cancelled contexts) as StoreUnavailable
func surface(op string, err error) error {
	if domainerrors.KindOf(err) != domainerrors.CodeInternal {
		return err
	}
	return domainerrors.StoreUnavailable(op, err)
}
