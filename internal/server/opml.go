package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bryan-buckman/feedtrak/internal/opml"
)

// maxReportedErrors caps how many import errors the response message lists.
const maxReportedErrors = 3

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	file, header, err := r.FormFile("opml_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "The opml file field is required")
		return
	}
	defer file.Close()

	if header.Size > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "The opml file must not be greater than 10 MB")
		return
	}
	if !isOPMLUpload(header.Filename, header.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnprocessableEntity, "The opml file must be a file of type: xml, opml")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "The uploaded file is empty")
		return
	}

	summary, err := s.importer.Import(r.Context(), data, userID(r))
	if errors.Is(err, opml.ErrInvalidOPML) {
		writeError(w, http.StatusUnprocessableEntity, "Invalid OPML file")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"message": importMessage(summary),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.GetSubscribedFeeds(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	data, err := opml.Export("FeedTrak Subscriptions", feeds, s.now())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedtrak-feeds.opml")
	w.Write(data)
}

func isOPMLUpload(filename, contentType string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml", ".opml":
		return true
	}
	return strings.Contains(contentType, "xml") || strings.Contains(contentType, "opml")
}

func importMessage(sum *opml.Summary) string {
	msg := fmt.Sprintf("Import completed: %d feeds imported, %d categories created",
		sum.FeedsImported, sum.CategoriesCreated)
	if sum.FeedsSkipped > 0 {
		msg += fmt.Sprintf(", %d feeds skipped (already subscribed)", sum.FeedsSkipped)
	}
	if n := len(sum.Errors); n > 0 {
		shown := sum.Errors
		if n > maxReportedErrors {
			shown = shown[:maxReportedErrors]
		}
		msg += ". Some errors occurred: " + strings.Join(shown, "; ")
		if n > maxReportedErrors {
			msg += fmt.Sprintf(" and %d more errors", n-maxReportedErrors)
		}
	}
	return msg
}
