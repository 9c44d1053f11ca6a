package server

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/model"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.GetCategories(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	name, ok := s.categoryName(w, r, 0)
	if !ok {
		return
	}
	category, err := s.store.CreateCategory(r.Context(), userID(r), name)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r, "categoryID")
	if !ok {
		writeError(w, http.StatusNotFound, "Category not found")
		return
	}
	name, ok := s.categoryName(w, r, categoryID)
	if !ok {
		return
	}
	err := s.store.RenameCategory(r.Context(), userID(r), categoryID, name)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Category not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Category updated successfully."})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r, "categoryID")
	if !ok {
		writeError(w, http.StatusNotFound, "Category not found")
		return
	}
	err := s.store.DeleteCategory(r.Context(), userID(r), categoryID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Category not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Category deleted successfully."})
}

// categoryName decodes and validates a category name. Names are unique per
// user; self is the category being renamed, or 0.
func (s *Server) categoryName(w http.ResponseWriter, r *http.Request, self int64) (string, bool) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return "", false
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "The name field is required")
		return "", false
	}
	if utf8.RuneCountInString(name) > MaxCategoryNameLength {
		writeError(w, http.StatusUnprocessableEntity, "The name field must not be greater than 50 characters")
		return "", false
	}

	existing, err := s.store.GetCategories(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, r, err)
		return "", false
	}
	for _, c := range existing {
		if c.Name == name && c.ID != self {
			writeError(w, http.StatusConflict, "A category with this name already exists")
			return "", false
		}
	}
	return name, true
}
