package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

func (s *Server) handleStoreBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := models.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, domainerrors.ValidationWithDetails("invalid query", map[string]string{
			"status": "is not a known status",
		}))
		return
	}

	books, err := s.store.ListMatching(r.Context(), getUserID(r.Context()), status, q.Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleStoreBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.store.Get(r.Context(), chi.URLParam(r, "id"), getUserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}
