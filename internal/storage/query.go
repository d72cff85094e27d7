package storage

import (
	"sort"

	"bookshelf/internal/models"
)

// Matches reports whether book satisfies the query predicates
func (q Query) Matches(book models.Book) bool {
	if q.OwnerID != "" && book.OwnerID != q.OwnerID {
		return false
	}
	if q.Status != "" && book.Status != q.Status {
		return false
	}
	if q.Category != "" && book.Category != q.Category {
		return false
	}
	if book.Pages < q.PagesMin {
		return false
	}
	if q.PagesMax > 0 && book.Pages > q.PagesMax {
		return false
	}
	return true
}

// Order sorts books in place according to the query ordering. Ties are broken by ID
// so results are deterministic.
func (q Query) Order(books []models.Book) {
	key := func(b models.Book) int64 {
		if q.OrderBy == OrderByUpdatedAt {
			return b.UpdatedAt.UnixNano()
		}
		return b.CreatedAt.UnixNano()
	}

	sort.SliceStable(books, func(i, j int) bool {
		ki, kj := key(books[i]), key(books[j])
		if ki == kj {
			return books[i].ID < books[j].ID
		}
		if q.Ascending {
			return ki < kj
		}
		return ki > kj
	})
}

// Truncate applies the query limit
func (q Query) Truncate(books []models.Book) []models.Book {
	if q.Limit > 0 && q.Limit < len(books) {
		return books[:q.Limit]
	}
	return books
}
