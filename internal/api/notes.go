package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sells-group/regwatch/internal/company"
)

type noteRequest struct {
	Title     *string   `json:"title"`
	Content   *string   `json:"content"`
	Tags      *[]string `json:"tags"`
	CreatedBy string    `json:"created_by"`
}

type notesResponse struct {
	RecordID string         `json:"company_id"`
	Name     string         `json:"company_name"`
	Notes    []company.Note `json:"notes"`
	Total    int            `json:"total"`
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.store.GetRecord(ctx, pathParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}
	notes, err := s.store.ListNotes(ctx, rec.ID)
	if err != nil {
		s.writeStoreError(w, r, err, "notes")
		return
	}
	if notes == nil {
		notes = []company.Note{}
	}
	writeJSON(w, http.StatusOK, notesResponse{RecordID: rec.ID, Name: rec.Name, Notes: notes, Total: len(notes)})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required")
		return
	}

	now := s.now()
	n := &company.Note{
		ID:        uuid.NewString(),
		RecordID:  pathParam(r, "id"),
		Title:     strings.TrimSpace(*req.Title),
		Tags:      []string{},
		Author:    req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Content != nil {
		n.Content = *req.Content
	}
	if req.Tags != nil {
		n.Tags = *req.Tags
	}
	if n.Author == "" {
		n.Author = "Unknown"
	}

	if err := s.store.CreateNote(r.Context(), n); err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := pathParam(r, "noteID")
	if !s.noteBelongs(w, r, id) {
		return
	}

	n, err := s.store.UpdateNote(ctx, id, func(n *company.Note) error {
		if req.Title != nil {
			n.Title = strings.TrimSpace(*req.Title)
		}
		if req.Content != nil {
			n.Content = *req.Content
		}
		if req.Tags != nil {
			n.Tags = *req.Tags
		}
		n.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.writeStoreError(w, r, err, "note")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "noteID")
	if !s.noteBelongs(w, r, id) {
		return
	}
	if err := s.store.DeleteNote(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err, "note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// noteBelongs reports whether note id is attached to the company in the
// path, writing a 404 when it is not.
func (s *Server) noteBelongs(w http.ResponseWriter, r *http.Request, id string) bool {
	n, err := s.store.GetNote(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "note")
		return false
	}
	if n.RecordID != pathParam(r, "id") {
		writeError(w, http.StatusNotFound, "not_found", "note not found")
		return false
	}
	return true
}
