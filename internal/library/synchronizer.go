// Package library keeps the signed-in user's books in memory and in sync with
// the remote store.
//
// A Synchronizer moves through four states:
//
//	Empty -> Loading -> Ready      first load
//	Ready -> Loading -> Ready      refresh
//	Loading -> Error -> Loading    failed load, retried
//
// Mutations are only accepted in Ready. Each one is confirmed by the store
// before the in-memory list changes, and a failed call leaves the list untouched.
package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

// State is the lifecycle state of a collection
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state as its name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrLoadSuperseded is returned by a load whose result was discarded because a
// newer load was issued before it completed
var ErrLoadSuperseded = domainerrors.New("load superseded by a newer load")

// Repository is the store gateway the synchronizer dispatches to
type Repository interface {
	ListForUser(ctx context.Context, ownerID string) ([]models.Book, error)
	Create(ctx context.Context, ownerID string, draft models.Draft) (models.Book, error)
	Update(ctx context.Context, id string, patch models.Patch, ownerID string) error
	Delete(ctx context.Context, id, ownerID string) error
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithClassifier checks categories of new and edited books against a taxonomy
func WithClassifier(c Classifier) Option {
	return func(s *Synchronizer) {
		s.classifier = c
	}
}

// Synchronizer owns one user's in-memory book list and its statistics
type Synchronizer struct {
	repo       Repository
	classifier Classifier
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	ownerID string
	books   []models.Book
	stats   models.Stats
	lastErr error
	// loaded is set once a list has been installed for the current owner
	loaded bool

	// epoch changes whenever the list is handed to another owner or cleared;
	// results of calls issued under an older epoch are not applied
	epoch uint64

	loadSeq    uint64
	cancelLoad context.CancelFunc

	// inflight holds ids with a pending update or remove, pendingKeys the
	// duplicate keys of pending adds
	inflight    map[string]struct{}
	pendingKeys map[string]struct{}
}

// New creates an empty synchronizer
func New(repo Repository, logger *zap.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		repo:        repo,
		logger:      logger,
		inflight:    make(map[string]struct{}),
		pendingKeys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches ownerID's books and replaces the in-memory list. Loading a
// different owner drops the current list first. On failure the state becomes
// Error and the previous list stays available.
//
// Only the most recently issued load is applied: an older one in flight is
// cancelled and returns ErrLoadSuperseded.
func (s *Synchronizer) Load(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return domainerrors.Validation("owner id is required")
	}

	s.mu.Lock()
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	s.loadSeq++
	seq := s.loadSeq
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel

	if s.ownerID != ownerID {
		s.resetLocked()
		s.ownerID = ownerID
	}
	s.state = StateLoading
	s.mu.Unlock()

	books, err := s.repo.ListForUser(loadCtx, ownerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.loadSeq {
		cancel()
		s.logger.Debug("Discarding superseded load", zap.String("owner_id", ownerID))
		return ErrLoadSuperseded
	}
	cancel()
	s.cancelLoad = nil

	if err != nil {
		s.state = StateError
		s.lastErr = err
		s.logger.Warn("Failed to load books",
			zap.String("owner_id", ownerID),
			zap.Int("kept_books", len(s.books)),
			zap.Error(err),
		)
		return err
	}

	s.replaceLocked(books)
	s.logger.Debug("Books loaded", zap.String("owner_id", ownerID), zap.Int("count", len(s.books)))
	return nil
}

// Refresh reloads the current owner's books
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	ownerID := s.ownerID
	s.mu.Unlock()

	if ownerID == "" {
		return domainerrors.NotReady("no user signed in")
	}
	return s.Load(ctx, ownerID)
}

// Clear drops the list and returns to Empty, as on sign-out. Pending loads
// are cancelled and pending mutations will not be applied.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.loadSeq++
	s.resetLocked()
	s.ownerID = ""
}

// Add validates draft, rejects it when the user already has a book with the same
// title and author, and creates it. The confirmed record is placed at the front
// of the list.
func (s *Synchronizer) Add(ctx context.Context, draft models.Draft) (models.Book, error) {
	draft, err := PrepareDraft(draft, s.classifier)
	if err != nil {
		return models.Book{}, err
	}

	key := models.DuplicateKey(draft.Title, draft.Author)

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return models.Book{}, err
	}
	if s.hasKeyLocked(key, "") {
		s.mu.Unlock()
		return models.Book{}, domainerrors.DuplicateRecord(
			fmt.Sprintf("%q by %s is already in the library", draft.Title, draft.Author))
	}
	s.pendingKeys[key] = struct{}{}
	ownerID, epoch := s.ownerID, s.epoch
	s.mu.Unlock()

	book, err := s.repo.Create(ctx, ownerID, draft)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return book, err
	}
	delete(s.pendingKeys, key)
	if err != nil {
		return models.Book{}, err
	}

	s.upsertFrontLocked(book)
	s.stats = ComputeStats(s.books)
	return book, nil
}

// Update merges patch into the book with the given id once the store has
// accepted it. Only one update or remove per id may be in flight; a second one
// fails with Busy.
func (s *Synchronizer) Update(ctx context.Context, id string, patch models.Patch) (models.Book, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return models.Book{}, err
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Book{}, domainerrors.NotFound(fmt.Sprintf("book %s is not in the library", id))
	}
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return models.Book{}, domainerrors.Busy(fmt.Sprintf("book %s has a pending change", id))
	}

	current := s.books[idx]
	patch = normalizePatch(current, patch)
	if patch.Empty() {
		s.mu.Unlock()
		return current, nil
	}

	merged := patch.Apply(current)
	if err := checkMerged(merged, s.classifier, patch); err != nil {
		s.mu.Unlock()
		return models.Book{}, err
	}
	if patch.Title != nil || patch.Author != nil {
		if s.hasKeyLocked(models.DuplicateKey(merged.Title, merged.Author), id) {
			s.mu.Unlock()
			return models.Book{}, domainerrors.DuplicateRecord(
				fmt.Sprintf("%q by %s is already in the library", merged.Title, merged.Author))
		}
	}

	s.inflight[id] = struct{}{}
	ownerID, epoch := s.ownerID, s.epoch
	s.mu.Unlock()

	err := s.repo.Update(ctx, id, patch, ownerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		if err != nil {
			return models.Book{}, err
		}
		return merged, nil
	}
	delete(s.inflight, id)
	if err != nil {
		return models.Book{}, err
	}

	// The list may have been reconciled while the call was in flight
	idx = s.indexLocked(id)
	if idx < 0 {
		return merged, nil
	}
	updated := patch.Apply(s.books[idx])
	updated.UpdatedAt = time.Now().UTC()
	s.books[idx] = updated
	s.stats = ComputeStats(s.books)
	return updated, nil
}

// Remove deletes the book with the given id. Removing a book that is not in the
// list is not an error.
func (s *Synchronizer) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return domainerrors.Busy(fmt.Sprintf("book %s has a pending change", id))
	}
	s.inflight[id] = struct{}{}
	ownerID, epoch := s.ownerID, s.epoch
	s.mu.Unlock()

	err := s.repo.Delete(ctx, id, ownerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return err
	}
	delete(s.inflight, id)
	if err != nil {
		return err
	}

	if idx := s.indexLocked(id); idx >= 0 {
		s.books = append(s.books[:idx:idx], s.books[idx+1:]...)
	}
	s.stats = ComputeStats(s.books)
	return nil
}

// Watch replaces the list with every snapshot from feed, as a completed load
// would, until the feed closes, ctx is done, or the synchronizer changes owner
func (s *Synchronizer) Watch(ctx context.Context, feed <-chan []models.Book) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case books, ok := <-feed:
			if !ok {
				return nil
			}
			s.mu.Lock()
			err := s.reconcileLocked(epoch, books)
			s.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

// Statistics returns the statistics of the current list
func (s *Synchronizer) Statistics() models.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Books returns a copy of the current list
func (s *Synchronizer) Books() []models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	books := make([]models.Book, len(s.books))
	copy(books, s.books)
	return books
}

// Book looks up a book in the current list
func (s *Synchronizer) Book(id string) (models.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.books[idx], true
	}
	return models.Book{}, false
}

// State returns the current lifecycle state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed load, if the collection is in Error
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Loaded reports whether the list holds a load result for the current owner.
// It stays true in Error, where the previous list remains readable.
func (s *Synchronizer) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// OwnerID returns the user the list belongs to, or "" when Empty
func (s *Synchronizer) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerID
}

func (s *Synchronizer) readyLocked() error {
	if s.state != StateReady {
		return domainerrors.NotReady(fmt.Sprintf("collection is %s", s.state))
	}
	return nil
}

func (s *Synchronizer) resetLocked() {
	s.epoch++
	s.state = StateEmpty
	s.books = nil
	s.stats = models.Stats{}
	s.lastErr = nil
	s.loaded = false
	s.inflight = make(map[string]struct{})
	s.pendingKeys = make(map[string]struct{})
}

func (s *Synchronizer) reconcileLocked(epoch uint64, books []models.Book) error {
	if epoch != s.epoch || s.state == StateEmpty {
		return domainerrors.NotReady("snapshot does not belong to the current user")
	}

	owned := make([]models.Book, 0, len(books))
	for _, book := range books {
		if book.OwnerID == s.ownerID {
			owned = append(owned, book)
		}
	}
	s.replaceLocked(owned)
	return nil
}

// replaceLocked installs books as the new list, keeping the first copy of each id
func (s *Synchronizer) replaceLocked(books []models.Book) {
	seen := make(map[string]struct{}, len(books))
	list := make([]models.Book, 0, len(books))
	for _, book := range books {
		if _, dup := seen[book.ID]; dup {
			continue
		}
		seen[book.ID] = struct{}{}
		list = append(list, book)
	}

	s.books = list
	s.stats = ComputeStats(list)
	s.state = StateReady
	s.lastErr = nil
	s.loaded = true
}

func (s *Synchronizer) upsertFrontLocked(book models.Book) {
	list := make([]models.Book, 0, len(s.books)+1)
	list = append(list, book)
	for _, existing := range s.books {
		if existing.ID != book.ID {
			list = append(list, existing)
		}
	}
	s.books = list
}

func (s *Synchronizer) indexLocked(id string) int {
	for i, book := range s.books {
		if book.ID == id {
			return i
		}
	}
	return -1
}

// hasKeyLocked reports whether a book other than except, or a pending add,
// has the given duplicate key
func (s *Synchronizer) hasKeyLocked(key, except string) bool {
	if _, pending := s.pendingKeys[key]; pending {
		return true
	}
	for _, book := range s.books {
		if book.ID != except && models.DuplicateKey(book.Title, book.Author) == key {
			return true
		}
	}
	return false
}
