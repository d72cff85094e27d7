package models

import (
	"strconv"
	"strings"
	"time"
)

// Status is the reading status of a book
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusReading   Status = "reading"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on-hold"
	StatusDropped   Status = "dropped"
)

// Statuses lists the statuses the library works with
var Statuses = []Status{StatusPlanned, StatusReading, StatusCompleted}

// Book represents a book record owned by a single user
type Book struct {
	ID          string    `json:"id" validate:"required"`
	OwnerID     string    `json:"ownerId" validate:"required"`
	Title       string    `json:"title" validate:"required,max=500"`
	Author      string    `json:"author" validate:"required,max=500"`
	Pages       int       `json:"pages" validate:"gte=0"`
	CoverImage  string    `json:"coverImage,omitempty" validate:"max=2048"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	Genre       string    `json:"genre,omitempty"`
	Status      Status    `json:"status" validate:"oneof=planned reading completed on-hold dropped"`
	Rating      int       `json:"rating,omitempty" validate:"gte=0,lte=5"`
	Summary     string    `json:"summary,omitempty"`
	FinishedAt  string    `json:"finishedAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Draft is a book payload that has not been assigned an ID or timestamps yet
type Draft struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Pages       int    `json:"pages"`
	CoverImage  string `json:"coverImage,omitempty"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Status      Status `json:"status"`
	Rating      int    `json:"rating,omitempty"`
	Summary     string `json:"summary,omitempty"`
	FinishedAt  string `json:"finishedAt,omitempty"`
}

// Patch is a partial update of a book. Nil fields are left untouched.
// Identity fields (id, owner, creation time) are not part of a patch and
// therefore can never be changed by one.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Author      *string `json:"author,omitempty"`
	Pages       *int    `json:"pages,omitempty"`
	CoverImage  *string `json:"coverImage,omitempty"`
	Category    *string `json:"category,omitempty"`
	Subcategory *string `json:"subcategory,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	Status      *Status `json:"status,omitempty"`
	Rating      *int    `json:"rating,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	FinishedAt  *string `json:"finishedAt,omitempty"`
}

// CatalogEntry is a read-only suggestion from the external catalog
type CatalogEntry struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Pages       int    `json:"pages"`
	CoverImage  string `json:"coverImage,omitempty"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// Stats holds aggregate statistics derived from a user's books
type Stats struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Reading       int     `json:"reading"`
	Planned       int     `json:"planned"`
	TotalPages    int     `json:"totalPages"`
	AverageRating float64 `json:"averageRating"`
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusReading, StatusCompleted, StatusOnHold, StatusDropped:
		return true
	}
	return false
}

// Draft turns a catalog entry into an independent library draft
func (e CatalogEntry) Draft(status Status) Draft {
	if status == "" {
		status = StatusPlanned
	}
	return Draft{
		Title:       e.Title,
		Author:      e.Author,
		Pages:       e.Pages,
		CoverImage:  e.CoverImage,
		Category:    e.Category,
		Subcategory: e.Subcategory,
		Genre:       e.Genre,
		Status:      status,
		Summary:     e.Summary,
	}
}

// Book builds the record submitted to the store for this draft
func (d Draft) Book(ownerID string) Book {
	return Book{
		OwnerID:     ownerID,
		Title:       d.Title,
		Author:      d.Author,
		Pages:       d.Pages,
		CoverImage:  d.CoverImage,
		Category:    d.Category,
		Subcategory: d.Subcategory,
		Genre:       d.Genre,
		Status:      d.Status,
		Rating:      d.Rating,
		Summary:     d.Summary,
		FinishedAt:  d.FinishedAt,
	}
}

// Apply merges the non-nil fields of p into a copy of b
func (p Patch) Apply(b Book) Book {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Pages != nil {
		b.Pages = *p.Pages
	}
	if p.CoverImage != nil {
		b.CoverImage = *p.CoverImage
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Subcategory != nil {
		b.Subcategory = *p.Subcategory
	}
	if p.Genre != nil {
		b.Genre = *p.Genre
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.Rating != nil {
		b.Rating = *p.Rating
	}
	if p.Summary != nil {
		b.Summary = *p.Summary
	}
	if p.FinishedAt != nil {
		b.FinishedAt = *p.FinishedAt
	}
	return b
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p == Patch{}
}

// DuplicateKey is the normalized (title, author) pair used by the duplicate guard
func DuplicateKey(title, author string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + strings.ToLower(strings.TrimSpace(author))
}

// ParsePages coerces user input into a page count. Invalid or negative input yields 0.
func ParsePages(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Ptr returns a pointer to v, handy for building patches
func Ptr[T any](v T) *T {
	return &v
}
