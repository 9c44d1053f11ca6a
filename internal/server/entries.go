package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/model"
)

func (s *Server) handleSetRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := s.visibleEntry(w, r)
		if !ok {
			return
		}
		if err := s.store.SetReadState(r.Context(), userID(r), entry.ID, read, s.now()); err != nil {
			s.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.visibleEntry(w, r)
	if !ok {
		return
	}
	if _, err := s.store.SaveEntry(r.Context(), userID(r), entry.ID); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnsave(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathID(r, "entryID")
	if !ok {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	if err := s.store.UnsaveEntry(r.Context(), userID(r), entryID); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkAllRead(r.Context(), userID(r), s.now()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All items marked as read."})
}

// visibleEntry loads the {entryID} entry, answering 404 if it does not
// exist and 403 if the user does not follow its feed.
func (s *Server) visibleEntry(w http.ResponseWriter, r *http.Request) (*model.Entry, bool) {
	entryID, ok := pathID(r, "entryID")
	if !ok {
		writeError(w, http.StatusNotFound, "Entry not found")
		return nil, false
	}
	ctx := r.Context()
	entry, err := s.store.GetEntryByID(ctx, entryID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Entry not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	_, err = s.store.GetSubscription(ctx, userID(r), entry.FeedID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	return entry, true
}

// EntriesPerPage is the page size of entry listings.
const EntriesPerPage = 20

// maxPage bounds the page parameter so the offset cannot overflow.
const maxPage = 100000

type entryPage struct {
	Entries    []model.UserEntry `json:"entries"`
	Filter     string            `json:"filter"`
	Pagination pagination        `json:"pagination"`
}

type pagination struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	HasMore     bool `json:"has_more"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	s.listEntries(w, r, 0)
}

func (s *Server) handleListFeedEntries(w http.ResponseWriter, r *http.Request) {
	feedID, ok := s.subscribedFeed(w, r)
	if !ok {
		return
	}
	s.listEntries(w, r, feedID)
}

// listEntries serves one page of entries selected by the filter query
// parameter (all, unread or saved) and the 1-based page parameter.
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request, feedID int64) {
	q := r.URL.Query()
	filter := database.EntryFilter{FeedID: feedID}
	name := q.Get("filter")
	switch name {
	case "", "all":
		name = "all"
	case "unread":
		filter.Unread = true
	case "saved":
		filter.Saved = true
	default:
		writeError(w, http.StatusUnprocessableEntity, "The filter must be one of all, unread or saved")
		return
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPage {
			writeError(w, http.StatusUnprocessableEntity, "The page must be a positive integer")
			return
		}
		page = n
	}

	// One extra row tells whether another page follows.
	entries, err := s.store.ListEntries(r.Context(), userID(r), filter, EntriesPerPage+1, (page-1)*EntriesPerPage)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	hasMore := len(entries) > EntriesPerPage
	if hasMore {
		entries = entries[:EntriesPerPage]
	}
	writeJSON(w, http.StatusOK, entryPage{
		Entries: entries,
		Filter:  name,
		Pagination: pagination{
			CurrentPage: page,
			PerPage:     EntriesPerPage,
			HasMore:     hasMore,
		},
	})
}
