package library

import (
	"strings"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

// Classifier checks classification fields against a taxonomy table
type Classifier interface {
	Check(category, subcategory, genre string) error
}

// PrepareDraft applies the form rules to a draft before it is submitted.
// Title and author must not be blank. A completed book needs a rating from 1 to 5
// and a finish date; any other status drops both. Negative page counts become 0.
// The returned draft keeps title and author exactly as given.
func PrepareDraft(draft models.Draft, classifier Classifier) (models.Draft, error) {
	if draft.Status == "" {
		draft.Status = models.StatusPlanned
	}
	if draft.Pages < 0 {
		draft.Pages = 0
	}

	fields := make(map[string]string)
	if strings.TrimSpace(draft.Title) == "" {
		fields["title"] = "is required"
	}
	if strings.TrimSpace(draft.Author) == "" {
		fields["author"] = "is required"
	}
	if !draft.Status.Valid() {
		fields["status"] = "is not a known status"
	}

	if draft.Status == models.StatusCompleted {
		if draft.Rating < 1 || draft.Rating > 5 {
			fields["rating"] = "must be between 1 and 5 for a completed book"
		}
		if strings.TrimSpace(draft.FinishedAt) == "" {
			fields["finishedAt"] = "is required for a completed book"
		}
	} else {
		draft.Rating = 0
		draft.FinishedAt = ""
	}

	if len(fields) > 0 {
		return models.Draft{}, domainerrors.ValidationWithDetails("invalid book", fields)
	}

	if classifier != nil {
		if err := classifier.Check(draft.Category, draft.Subcategory, draft.Genre); err != nil {
			return models.Draft{}, err
		}
	}
	return draft, nil
}

// normalizePatch keeps a patch consistent with the completed-only fields:
// moving a book away from completed clears its rating and finish date.
func normalizePatch(current models.Book, patch models.Patch) models.Patch {
	if patch.Pages != nil && *patch.Pages < 0 {
		patch.Pages = models.Ptr(0)
	}

	status := current.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	if status != models.StatusCompleted {
		if patch.Status != nil || patch.Rating != nil || current.Rating != 0 {
			patch.Rating = models.Ptr(0)
		}
		if patch.Status != nil || patch.FinishedAt != nil || current.FinishedAt != "" {
			patch.FinishedAt = models.Ptr("")
		}
	}
	return patch
}

// checkMerged validates a book after a patch has been merged into it. Completion
// and taxonomy rules are only checked when the patch touches those fields.
func checkMerged(book models.Book, classifier Classifier, patch models.Patch) error {
	fields := make(map[string]string)
	if strings.TrimSpace(book.Title) == "" {
		fields["title"] = "is required"
	}
	if strings.TrimSpace(book.Author) == "" {
		fields["author"] = "is required"
	}
	if !book.Status.Valid() {
		fields["status"] = "is not a known status"
	}
	progress := patch.Status != nil || patch.Rating != nil || patch.FinishedAt != nil
	if progress && book.Status == models.StatusCompleted {
		if book.Rating < 1 || book.Rating > 5 {
			fields["rating"] = "must be between 1 and 5 for a completed book"
		}
		if strings.TrimSpace(book.FinishedAt) == "" {
			fields["finishedAt"] = "is required for a completed book"
		}
	}
	if len(fields) > 0 {
		return domainerrors.ValidationWithDetails("invalid book", fields)
	}

	touched := patch.Category != nil || patch.Subcategory != nil || patch.Genre != nil
	if classifier != nil && touched {
		return classifier.Check(book.Category, book.Subcategory, book.Genre)
	}
	return nil
}
