package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bookshelf/internal/catalog"
	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

// FacetsResponse lists the values the catalog can be filtered by
type FacetsResponse struct {
	Authors    []string         `json:"authors"`
	Categories []string         `json:"categories"`
	Metadata   catalog.Metadata `json:"metadata"`
}

// AddFromCatalogRequest is the optional body of an add-from-catalog call
type AddFromCatalogRequest struct {
	Status models.Status `json:"status,omitempty"`
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	spec, page, err := parseSpec(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.engine.Catalog(s.catalog.Entries(), spec, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCatalogFacets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, FacetsResponse{
		Authors:    s.catalog.Authors(),
		Categories: s.catalog.Categories(),
		Metadata:   s.catalog.Metadata(),
	})
}

func (s *Server) handleAddFromCatalog(w http.ResponseWriter, r *http.Request) {
	uid := getUserID(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, domainerrors.Validation("catalog id must be a number"))
		return
	}
	entry, ok := s.catalog.Entry(id)
	if !ok {
		s.writeError(w, r, domainerrors.NotFound("catalog entry not found"))
		return
	}

	var req AddFromCatalogRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	book, err := s.addDraft(r, uid, entry.Draft(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Book added from catalog",
		zap.String("uid", uid),
		zap.Int("catalog_id", id),
		zap.String("book_id", book.ID),
	)
	s.writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.taxonomy)
}
