package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/crosscheck"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/store"
)

type companyResponse struct {
	*company.Record
	OSINTLinks map[string]string `json:"osint_links"`
}

type companyList struct {
	Companies []*company.Record `json:"companies"`
	Count     int               `json:"count"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := intParam(r, "limit", defaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return
	}
	offset, ok := intParam(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}

	src := company.Source(q.Get("source"))
	if src != "" && !src.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_source", "unknown source "+string(src))
		return
	}

	filter := store.RecordFilter{
		Region: q.Get("wilaya"),
		Source: src,
		Query:  strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	}
	recs, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err, "companies")
		return
	}

	if raw := q.Get("red_flags"); raw != "" {
		want := raw == "true" || raw == "1"
		kept := recs[:0]
		for _, rec := range recs {
			if hasRedFlags(rec) == want {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	if recs == nil {
		recs = []*company.Record{}
	}

	writeJSON(w, http.StatusOK, companyList{Companies: recs, Count: len(recs), Limit: limit, Offset: offset})
}

func hasRedFlags(r *company.Record) bool {
	return r.Metrics != nil && len(r.Metrics.RedFlags) > 0
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}
	writeJSON(w, http.StatusOK, companyResponse{Record: rec, OSINTLinks: recordLinks(rec)})
}

func (s *Server) handleOSINTLinks(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}
	writeJSON(w, http.StatusOK, recordLinks(rec))
}

// enrichmentRequest is a manual enrichment submitted by an investigator.
type enrichmentRequest struct {
	Procurement *company.ProcurementPayload `json:"procurement"`
	Notes       *string                     `json:"notes"`
	EnrichedBy  string                      `json:"enriched_by"`
}

func (s *Server) handlePutEnrichment(w http.ResponseWriter, r *http.Request) {
	var req enrichmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Procurement == nil && req.Notes == nil {
		writeError(w, http.StatusBadRequest, "empty_enrichment", "procurement or notes is required")
		return
	}

	rec, err := s.store.UpdateRecordByID(r.Context(), pathParam(r, "id"), func(rec *company.Record) error {
		if req.Procurement != nil {
			if req.Procurement.Contracts == nil {
				req.Procurement.Contracts = []company.Contract{}
			}
			s.merger.Attach(rec, req.Procurement, merge.Link{Score: 100, Type: company.MatchManual})
		}
		if req.Notes != nil {
			rec.Notes = *req.Notes
		}
		if req.EnrichedBy != "" {
			rec.EnrichedBy = req.EnrichedBy
		}
		rec.Metrics = merge.ComputeMetrics(rec)
		rec.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}
	writeJSON(w, http.StatusOK, companyResponse{Record: rec, OSINTLinks: recordLinks(rec)})
}

// investigation is the cross-check result returned to the caller.
type investigation struct {
	RecordID    string             `json:"company_id"`
	Name        string             `json:"company_name"`
	Region      string             `json:"wilaya"`
	Analysis    company.CrossCheck `json:"analysis"`
	SourcesUsed []string           `json:"sources_used"`
	AnalyzedAt  time.Time          `json:"analyzed_at"`
}

func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pathParam(r, "id")

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}
	req, err := crosscheck.RequestFor(rec)
	if errors.Is(err, crosscheck.ErrInsufficientData) {
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data", "لا توجد بيانات كافية لإجراء التحليل المتقاطع")
		return
	}

	verdict := s.scorer.CrossCheck(ctx, req)
	if _, err := s.store.UpdateRecordByID(ctx, id, func(rec *company.Record) error {
		rec.CrossCheck = &verdict
		return nil
	}); err != nil {
		s.writeStoreError(w, r, err, "company")
		return
	}

	s.log.Info("investigation complete",
		zap.String("record_id", id),
		zap.String("status", verdict.Status),
		zap.Int("score", verdict.MatchScore),
	)
	writeJSON(w, http.StatusOK, investigation{
		RecordID:    rec.ID,
		Name:        rec.Name,
		Region:      rec.Region,
		Analysis:    verdict,
		SourcesUsed: req.Sources(),
		AnalyzedAt:  verdict.CheckedAt,
	})
}
