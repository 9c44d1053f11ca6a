package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/jobs"
	"github.com/bryan-buckman/feedtrak/internal/model"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)

	var stats model.DashboardStats
	var err error
	if stats.UnreadCount, err = s.store.CountUnread(ctx, user); err != nil {
		s.internalError(w, r, err)
		return
	}
	if stats.SavedCount, err = s.store.CountSaved(ctx, user); err != nil {
		s.internalError(w, r, err)
		return
	}
	feeds, err := s.store.GetSubscribedFeeds(ctx, user)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	stats.FeedCount = len(feeds)

	// Viewing the dashboard is what keeps a user's feeds fresh between
	// scheduled refreshes.
	queued, err := s.scheduler.RefreshStale(ctx, user)
	if err != nil {
		s.log.Warn("stale refresh failed", zap.Int64("user_id", user), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          stats,
		"refresh_queued": queued,
	})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.GetSubscribedFeeds(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []model.SubscribedFeed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL        string `json:"url"`
		CategoryID *int64 `json:"category_id"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if !validURL(req.URL) {
		writeError(w, http.StatusUnprocessableEntity, "The url field must be a valid URL")
		return
	}

	ctx := r.Context()
	user := userID(r)
	if !s.ownsCategory(w, r, req.CategoryID) {
		return
	}

	subscribed, err := s.store.IsSubscribedToURL(ctx, user, req.URL)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if subscribed {
		writeError(w, http.StatusConflict, "You are already subscribed to this feed")
		return
	}

	if _, err := s.queue.Enqueue(jobs.FetchFeed(req.URL, &user, req.CategoryID)); err != nil {
		s.queueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "processing",
		"message": "Feed is being processed",
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	feedID, ok := s.subscribedFeed(w, r)
	if !ok {
		return
	}
	if err := s.store.Unsubscribe(r.Context(), userID(r), feedID); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Feed removed successfully."})
}

func (s *Server) handleSetFeedCategory(w http.ResponseWriter, r *http.Request) {
	feedID, ok := s.subscribedFeed(w, r)
	if !ok {
		return
	}
	var req struct {
		CategoryID *int64 `json:"category_id"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if !s.ownsCategory(w, r, req.CategoryID) {
		return
	}
	if err := s.store.SetSubscriptionCategory(r.Context(), userID(r), feedID, req.CategoryID); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Feed category updated successfully."})
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	feedID, ok := s.subscribedFeed(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.RefreshFeed(r.Context(), feedID); err != nil {
		s.queueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Feed refresh has been queued."})
}

func (s *Server) handleMarkFeedRead(w http.ResponseWriter, r *http.Request) {
	feedID, ok := s.subscribedFeed(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkFeedRead(r.Context(), userID(r), feedID, s.now()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All items marked as read."})
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	queued, skipped, err := s.scheduler.RefreshAll(r.Context(), userID(r))
	if err != nil {
		s.queueError(w, r, err)
		return
	}
	message := fmt.Sprintf("Queued %d feed(s) for refresh.", queued)
	if skipped > 0 {
		message += fmt.Sprintf(" Skipped %d recently updated feed(s).", skipped)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":  queued,
		"skipped": skipped,
		"message": message,
	})
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.store.GetPreference(r.Context(), userID(r), key)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Preference not set")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Key == "" || req.Value == "" {
		writeError(w, http.StatusUnprocessableEntity, "The key and value fields are required")
		return
	}
	if err := s.store.SetPreference(r.Context(), userID(r), req.Key, req.Value); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": req.Key, "value": req.Value})
}

// subscribedFeed resolves the {feedID} path parameter to a feed the user
// follows, answering 404 otherwise.
func (s *Server) subscribedFeed(w http.ResponseWriter, r *http.Request) (int64, bool) {
	feedID, ok := pathID(r, "feedID")
	if !ok {
		writeError(w, http.StatusNotFound, "Feed not found")
		return 0, false
	}
	_, err := s.store.GetSubscription(r.Context(), userID(r), feedID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Feed not found")
		return 0, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return 0, false
	}
	return feedID, true
}

// ownsCategory accepts a nil category or one owned by the user.
func (s *Server) ownsCategory(w http.ResponseWriter, r *http.Request, categoryID *int64) bool {
	if categoryID == nil {
		return true
	}
	_, err := s.store.GetCategoryByID(r.Context(), userID(r), *categoryID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusUnprocessableEntity, "The selected category is invalid")
		return false
	}
	if err != nil {
		s.internalError(w, r, err)
		return false
	}
	return true
}

func (s *Server) queueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "Feed not found")
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrPoolStopped):
		s.log.Warn("job rejected", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Too many pending jobs, try again later")
	default:
		s.internalError(w, r, err)
	}
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
