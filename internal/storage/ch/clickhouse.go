package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/id"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
	"bookshelf/internal/validation"
)

const bookColumns = `id, owner_id, title, author, pages, cover_image, category, subcategory, genre,
	status, rating, summary, finished_at, created_at, updated_at`

// ClickHouseDB stores books in a ReplacingMergeTree table. Every write inserts a new
// row version; reads use FINAL so only the latest live version of each id is visible.
type ClickHouseDB struct {
	conn      clickhouse.Conn
	validator *validation.Validator
	hub       *storage.Hub
	logger    *zap.Logger

	// writes serializes read-modify-write cycles issued through this instance
	writes sync.Mutex
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool, logger *zap.Logger) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db := &ClickHouseDB{
		conn:      conn,
		validator: validation.New(),
		logger:    logger,
	}
	db.hub = storage.NewHub(db.QueryBooks, logger)
	return db, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

// CreateBook inserts the first version of a new book
func (db *ClickHouseDB) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	bookID, err := id.Generate("bk")
	if err != nil {
		return models.Book{}, domainerrors.StoreUnavailable("create book", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	book.ID = bookID
	book.CreatedAt = now
	book.UpdatedAt = now

	if err := db.validator.Validate(book); err != nil {
		return models.Book{}, err
	}

	if err := db.insertVersion(ctx, book, false); err != nil {
		return models.Book{}, domainerrors.StoreUnavailable("create book", err)
	}

	db.hub.Notify(ctx, book.OwnerID)
	return book, nil
}

// GetBook returns the latest live version of a book
func (db *ClickHouseDB) GetBook(ctx context.Context, bookID string) (models.Book, error) {
	books, err := db.selectBooks(ctx, `SELECT `+bookColumns+` FROM books FINAL WHERE id = ? AND is_deleted = 0`, bookID)
	if err != nil {
		return models.Book{}, domainerrors.StoreUnavailable("get book", err)
	}
	if len(books) == 0 {
		return models.Book{}, domainerrors.NotFound(fmt.Sprintf("book %s not found", bookID))
	}
	return books[0], nil
}

// QueryBooks returns live books matching the query, newest first by default
func (db *ClickHouseDB) QueryBooks(ctx context.Context, q storage.Query) ([]models.Book, error) {
	var (
		where = []string{"is_deleted = 0"}
		args  []any
	)
	if q.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if q.PagesMin > 0 {
		where = append(where, "pages >= ?")
		args = append(args, int32(q.PagesMin))
	}
	if q.PagesMax > 0 {
		where = append(where, "pages <= ?")
		args = append(args, int32(q.PagesMax))
	}

	orderColumn := "created_at"
	if q.OrderBy == storage.OrderByUpdatedAt {
		orderColumn = "updated_at"
	}
	direction := "DESC"
	if q.Ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM books FINAL WHERE %s ORDER BY %s %s, id ASC`,
		bookColumns, strings.Join(where, " AND "), orderColumn, direction)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	books, err := db.selectBooks(ctx, query, args...)
	if err != nil {
		return nil, domainerrors.StoreUnavailable("query books", err)
	}
	return books, nil
}

// UpdateBook writes a new version with patch merged into the current one
func (db *ClickHouseDB) UpdateBook(ctx context.Context, ownerID, bookID string, patch models.Patch) error {
	db.writes.Lock()
	defer db.writes.Unlock()

	current, err := db.ownedBook(ctx, ownerID, bookID)
	if err != nil {
		return err
	}

	updated := patch.Apply(current)
	updated.UpdatedAt = nextStamp(current.UpdatedAt)
	if err := db.validator.Validate(updated); err != nil {
		return err
	}

	if err := db.insertVersion(ctx, updated, false); err != nil {
		return domainerrors.StoreUnavailable("update book", err)
	}

	db.hub.Notify(ctx, ownerID)
	return nil
}

// DeleteBook writes a tombstone version of the book
func (db *ClickHouseDB) DeleteBook(ctx context.Context, ownerID, bookID string) error {
	db.writes.Lock()
	defer db.writes.Unlock()

	current, err := db.ownedBook(ctx, ownerID, bookID)
	if err != nil {
		return err
	}

	current.UpdatedAt = nextStamp(current.UpdatedAt)
	if err := db.insertVersion(ctx, current, true); err != nil {
		return domainerrors.StoreUnavailable("delete book", err)
	}

	db.hub.Notify(ctx, ownerID)
	return nil
}

// Subscribe streams query snapshots after writes made through this instance
func (db *ClickHouseDB) Subscribe(ctx context.Context, q storage.Query) (<-chan []models.Book, error) {
	return db.hub.Subscribe(ctx, q)
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.hub != nil {
		db.hub.Close()
	}
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *ClickHouseDB) ownedBook(ctx context.Context, ownerID, bookID string) (models.Book, error) {
	current, err := db.GetBook(ctx, bookID)
	if err != nil {
		return models.Book{}, err
	}
	if current.OwnerID != ownerID {
		db.logger.Warn("Rejected write to foreign book",
			zap.String("book_id", bookID),
			zap.String("owner_id", ownerID),
		)
		return models.Book{}, domainerrors.PermissionDenied(fmt.Sprintf("book %s belongs to another user", bookID))
	}
	return current, nil
}

func (db *ClickHouseDB) insertVersion(ctx context.Context, book models.Book, deleted bool) error {
	var tombstone uint8
	if deleted {
		tombstone = 1
	}
	return db.conn.Exec(ctx, `INSERT INTO books (`+bookColumns+`, version, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.OwnerID, book.Title, book.Author, int32(book.Pages), book.CoverImage,
		book.Category, book.Subcategory, book.Genre, string(book.Status), uint8(book.Rating),
		book.Summary, book.FinishedAt, book.CreatedAt, book.UpdatedAt,
		uint64(book.UpdatedAt.UnixMicro()), tombstone,
	)
}

func (db *ClickHouseDB) selectBooks(ctx context.Context, query string, args ...any) ([]models.Book, error) {
	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]models.Book, 0)
	for rows.Next() {
		var (
			book   models.Book
			pages  int32
			status string
			rating uint8
		)
		if err := rows.Scan(&book.ID, &book.OwnerID, &book.Title, &book.Author, &pages, &book.CoverImage,
			&book.Category, &book.Subcategory, &book.Genre, &status, &rating, &book.Summary,
			&book.FinishedAt, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		book.Pages = int(pages)
		book.Status = models.Status(status)
		book.Rating = int(rating)
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

// nextStamp returns now, or just after prev when the clock has not moved past it,
// so a newer version always carries a higher version number
func nextStamp(prev time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
