// Package filter computes the visible part of a book list: which records pass a
// filter, in what order, and which page of them is shown. Sources are never
// modified.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

// DefaultPageSize is the number of records on a page when none is configured
const DefaultPageSize = 12

// StatusAll and CategoryAll disable the status and category predicates
const (
	StatusAll   = "all"
	CategoryAll = "all"
)

// SortBy selects the order of the visible list
type SortBy string

const (
	// SortNone keeps the source order
	SortNone   SortBy = ""
	SortTitle  SortBy = "title"
	SortAuthor SortBy = "author"
	SortPages  SortBy = "pages"
	SortLatest SortBy = "latest"
)

// Spec selects and orders the visible records. Zero values disable a predicate; PagesMax
// of 0 or less means no upper bound.
type Spec struct {
	Search   string `json:"search,omitempty"`
	Status   string `json:"status,omitempty"`
	Rating   int    `json:"rating,omitempty"`
	PagesMin int    `json:"pagesMin,omitempty"`
	PagesMax int    `json:"pagesMax,omitempty"`
	Category string `json:"category,omitempty"`
	Author   string `json:"author,omitempty"`
	SortBy   SortBy `json:"sortBy,omitempty"`
}

// Validate rejects specs the engine cannot evaluate
func (s Spec) Validate() error {
	fields := make(map[string]string)
	switch s.SortBy {
	case SortNone, SortTitle, SortAuthor, SortPages, SortLatest:
	default:
		fields["sortBy"] = "must be one of: title author pages latest"
	}
	if s.Status != "" && s.Status != StatusAll && !models.Status(s.Status).Valid() {
		fields["status"] = "is not a known status"
	}
	if s.Rating < 0 || s.Rating > 5 {
		fields["rating"] = "must be between 0 and 5"
	}
	if s.PagesMin < 0 {
		fields["pagesMin"] = "must not be negative"
	}
	if s.PagesMax > 0 && s.PagesMax < s.PagesMin {
		fields["pagesMax"] = "must not be less than pagesMin"
	}
	if len(fields) > 0 {
		return domainerrors.ValidationWithDetails("invalid filter", fields)
	}
	return nil
}

// Fields are the attributes of a record the engine looks at
type Fields struct {
	Title    string
	Author   string
	Status   models.Status
	Rating   int
	Pages    int
	Category string
	// Recency orders records for SortLatest; larger is newer
	Recency int64
}

// BookFields extracts filter fields from a library book
func BookFields(b models.Book) Fields {
	return Fields{
		Title:    b.Title,
		Author:   b.Author,
		Status:   b.Status,
		Rating:   b.Rating,
		Pages:    b.Pages,
		Category: b.Category,
		Recency:  b.CreatedAt.UnixNano(),
	}
}

// EntryFields extracts filter fields from a catalog entry. Catalog ids grow
// with insertion, so they double as recency.
func EntryFields(e models.CatalogEntry) Fields {
	return Fields{
		Title:    e.Title,
		Author:   e.Author,
		Pages:    e.Pages,
		Category: e.Category,
		Recency:  int64(e.ID),
	}
}

// Filter returns the items that satisfy every predicate of spec, in source order
func Filter[T any](items []T, spec Spec, fields func(T) Fields) []T {
	fold := cases.Fold()
	search := fold.String(strings.TrimSpace(spec.Search))

	out := make([]T, 0, len(items))
	for _, item := range items {
		f := fields(item)
		if search != "" &&
			!strings.Contains(fold.String(f.Title), search) &&
			!strings.Contains(fold.String(f.Author), search) {
			continue
		}
		if spec.Status != "" && spec.Status != StatusAll && string(f.Status) != spec.Status {
			continue
		}
		if f.Rating < spec.Rating {
			continue
		}
		if f.Pages < spec.PagesMin || (spec.PagesMax > 0 && f.Pages > spec.PagesMax) {
			continue
		}
		if spec.Category != "" && spec.Category != CategoryAll && f.Category != spec.Category {
			continue
		}
		if spec.Author != "" && f.Author != spec.Author {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Sort orders items in place. Title and author use the collation of lang,
// pages and recency sort descending. Equal keys keep their relative order.
func Sort[T any](items []T, by SortBy, lang language.Tag, fields func(T) Fields) {
	var less func(a, b Fields) bool
	switch by {
	case SortTitle:
		c := collate.New(lang)
		less = func(a, b Fields) bool { return c.CompareString(a.Title, b.Title) < 0 }
	case SortAuthor:
		c := collate.New(lang)
		less = func(a, b Fields) bool { return c.CompareString(a.Author, b.Author) < 0 }
	case SortPages:
		less = func(a, b Fields) bool { return a.Pages > b.Pages }
	case SortLatest:
		less = func(a, b Fields) bool { return a.Recency > b.Recency }
	default:
		return
	}

	keys := make([]Fields, len(items))
	for i, item := range items {
		keys[i] = fields(item)
	}
	sort.Stable(&byKey[T]{items: items, keys: keys, less: less})
}

type byKey[T any] struct {
	items []T
	keys  []Fields
	less  func(a, b Fields) bool
}

func (s *byKey[T]) Len() int           { return len(s.items) }
func (s *byKey[T]) Less(i, j int) bool { return s.less(s.keys[i], s.keys[j]) }
func (s *byKey[T]) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}

// Paginate returns the 1-based page of items. A page past the end is empty.
func Paginate[T any](items []T, pageSize, page int) []T {
	if pageSize <= 0 || page < 1 {
		return []T{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

// TotalPages is the number of pages count records fill
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 || count <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// View is one page of a filtered, sorted list
type View[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// Engine runs filter specs with a fixed collation and page size
type Engine struct {
	lang     language.Tag
	pageSize int
}

// NewEngine creates an engine sorting text by locale, e.g. "ar" or "en"
func NewEngine(locale string, pageSize int) (*Engine, error) {
	lang, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid collation locale %q: %w", locale, err)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{lang: lang, pageSize: pageSize}, nil
}

// PageSize returns the configured page size
func (e *Engine) PageSize() int {
	return e.pageSize
}

// Books computes a page of a library list
func (e *Engine) Books(books []models.Book, spec Spec, page int) (View[models.Book], error) {
	return Run(e, books, spec, page, BookFields)
}

// Catalog computes a page of the suggested catalog
func (e *Engine) Catalog(entries []models.CatalogEntry, spec Spec, page int) (View[models.CatalogEntry], error) {
	return Run(e, entries, spec, page, EntryFields)
}

// Run filters, sorts and paginates items. Pages below 1 are treated as page 1.
func Run[T any](e *Engine, items []T, spec Spec, page int, fields func(T) Fields) (View[T], error) {
	if err := spec.Validate(); err != nil {
		return View[T]{}, err
	}
	if page < 1 {
		page = 1
	}

	visible := Filter(items, spec, fields)
	Sort(visible, spec.SortBy, e.lang, fields)

	return View[T]{
		Items:      Paginate(visible, e.pageSize, page),
		Total:      len(visible),
		Page:       page,
		PageSize:   e.pageSize,
		TotalPages: TotalPages(len(visible), e.pageSize),
	}, nil
}
