package api

import (
	"errors"
	"net/http"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/store"
	"github.com/sells-group/regwatch/internal/watchlist"
)

type watchPatch struct {
	Status     *company.WatchStatus `json:"status"`
	ExternalID *string              `json:"external_id"`
	DetailURL  *string              `json:"detail_url"`
	Notes      *string              `json:"notes"`
}

func (s *Server) handleListWatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := company.WatchStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+string(status))
		return
	}
	limit, ok := intParam(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return
	}
	offset, ok := intParam(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
		return
	}

	entries, err := s.store.ListWatch(r.Context(), store.WatchFilter{
		Status: status,
		Region: q.Get("wilaya"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "watch list")
		return
	}
	if entries == nil {
		entries = []*company.WatchEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePatchWatch(w http.ResponseWriter, r *http.Request) {
	var req watchPatch
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+string(*req.Status))
		return
	}

	entry, err := s.store.UpdateWatch(r.Context(), pathParam(r, "id"), func(e *company.WatchEntry) error {
		now := s.now()
		if req.ExternalID != nil {
			e.ExternalID = *req.ExternalID
		}
		if req.DetailURL != nil {
			e.DetailURL = *req.DetailURL
		}
		if req.Notes != nil {
			e.Notes = *req.Notes
		}
		if req.Status != nil {
			if err := watchlist.SetStatus(e, *req.Status, now); err != nil {
				return err
			}
		}
		e.UpdatedAt = now
		return nil
	})
	if errors.Is(err, watchlist.ErrArchived) {
		writeError(w, http.StatusConflict, "archived", "archived entries cannot be reopened")
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err, "watch entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
