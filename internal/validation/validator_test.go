package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

func validBook() models.Book {
	return models.Book{
		ID:      "bk-1",
		OwnerID: "user-1",
		Title:   "Dune",
		Author:  "Frank Herbert",
		Pages:   412,
		Status:  models.StatusReading,
	}
}

func TestValidate_ValidBook(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(validBook()))

	for _, status := range []models.Status{models.StatusOnHold, models.StatusDropped, models.StatusCompleted} {
		b := validBook()
		b.Status = status
		assert.NoError(t, v.Validate(b), "status %s", status)
	}
}

func TestValidate_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*models.Book)
		field  string
	}{
		{"missing title", func(b *models.Book) { b.Title = "" }, "title"},
		{"missing author", func(b *models.Book) { b.Author = "" }, "author"},
		{"missing owner", func(b *models.Book) { b.OwnerID = "" }, "ownerId"},
		{"title too long", func(b *models.Book) { b.Title = strings.Repeat("x", 501) }, "title"},
		{"unknown status", func(b *models.Book) { b.Status = "lost" }, "status"},
		{"rating above five", func(b *models.Book) { b.Rating = 6 }, "rating"},
		{"negative pages", func(b *models.Book) { b.Pages = -1 }, "pages"},
	}

	v := New()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := validBook()
			tc.mutate(&b)

			err := v.Validate(b)
			require.Error(t, err)
			assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

			var domainErr *domainerrors.Error
			require.True(t, domainerrors.As(err, &domainErr))
			fields, ok := domainErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Contains(t, fields, tc.field)
		})
	}
}
