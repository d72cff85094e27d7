package library

import "bookshelf/internal/models"

// ComputeStats derives library statistics from books. Total pages and the
// average rating only count completed books; unrated books are left out of
// the average.
func ComputeStats(books []models.Book) models.Stats {
	var (
		stats      = models.Stats{Total: len(books)}
		ratingSum  int
		ratedBooks int
	)

	for _, book := range books {
		switch book.Status {
		case models.StatusCompleted:
			stats.Completed++
			stats.TotalPages += book.Pages
			if book.Rating > 0 {
				ratingSum += book.Rating
				ratedBooks++
			}
		case models.StatusReading:
			stats.Reading++
		case models.StatusPlanned:
			stats.Planned++
		}
	}

	if ratedBooks > 0 {
		stats.AverageRating = float64(ratingSum) / float64(ratedBooks)
	}
	return stats
}
