package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/filter"
	"bookshelf/internal/library"
	"bookshelf/internal/models"
	"bookshelf/internal/ratelimit"
)

// StateResponse describes the collection of the signed-in user
type StateResponse struct {
	State   library.State `json:"state"`
	OwnerID string        `json:"ownerId"`
	Books   int           `json:"books"`
	Error   string        `json:"error,omitempty"`
}

// LimitsResponse reports the caller's remaining create quota
type LimitsResponse struct {
	Create ratelimit.Quota `json:"create"`
}

// collection returns the signed-in user's synchronizer, loading it on first use
func (s *Server) collection(r *http.Request) (*library.Synchronizer, error) {
	return s.registry.Acquire(r.Context(), getUserID(r.Context()))
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	spec, page, err := parseSpec(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	lib, err := s.collection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.engine.Books(lib.Books(), spec, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	uid := getUserID(r.Context())

	var draft models.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		s.writeError(w, r, err)
		return
	}

	book, err := s.addDraft(r, uid, draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Book added", zap.String("uid", uid), zap.String("book_id", book.ID))
	s.writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	lib, err := s.collection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	book, ok := lib.Book(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, r, domainerrors.NotFound("book not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var patch models.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	lib, err := s.collection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	book, err := lib.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	lib, err := s.collection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := lib.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	lib, err := s.collection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lib.Statistics())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	lib, ok := s.registry.Lookup(getUserID(r.Context()))
	if !ok {
		s.writeJSON(w, http.StatusOK, StateResponse{State: library.StateEmpty})
		return
	}
	s.writeJSON(w, http.StatusOK, stateOf(lib))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	lib, err := s.collection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := lib.Refresh(r.Context()); err != nil && !domainerrors.Is(err, library.ErrLoadSuperseded) {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stateOf(lib))
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LimitsResponse{
		Create: s.limiter.Quota(getUserID(r.Context())),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.registry.SignOut(getUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// addDraft adds draft to the user's library. Only creates the store accepted
// count against the create limit.
func (s *Server) addDraft(r *http.Request, uid string, draft models.Draft) (models.Book, error) {
	reservation, err := s.limiter.Reserve(uid)
	if err != nil {
		return models.Book{}, err
	}

	lib, err := s.collection(r)
	if err != nil {
		reservation.Cancel()
		return models.Book{}, err
	}

	book, err := lib.Add(r.Context(), draft)
	if err != nil {
		reservation.Cancel()
		return models.Book{}, err
	}
	return book, nil
}

func stateOf(lib *library.Synchronizer) StateResponse {
	resp := StateResponse{
		State:   lib.State(),
		OwnerID: lib.OwnerID(),
		Books:   len(lib.Books()),
	}
	if err := lib.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// parseSpec reads a filter spec and page number from the query string
func parseSpec(r *http.Request) (filter.Spec, int, error) {
	q := r.URL.Query()
	fields := make(map[string]string)

	intParam := func(name string) int {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return 0
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields[name] = "must be a number"
		}
		return n
	}

	spec := filter.Spec{
		Search:   q.Get("search"),
		Status:   q.Get("status"),
		Rating:   intParam("rating"),
		PagesMin: intParam("pagesMin"),
		PagesMax: intParam("pagesMax"),
		Category: q.Get("category"),
		Author:   q.Get("author"),
		SortBy:   filter.SortBy(q.Get("sortBy")),
	}
	page := intParam("page")

	if len(fields) > 0 {
		return filter.Spec{}, 0, domainerrors.ValidationWithDetails("invalid query", fields)
	}
	if err := spec.Validate(); err != nil {
		return filter.Spec{}, 0, err
	}
	if page == 0 {
		page = 1
	}
	return spec, page, nil
}
