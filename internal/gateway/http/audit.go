package http

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
)

type AuditHandler struct {
	AuditService *service.AuditService
}

// parseAuditFilter reads limit, action (repeatable), user_id, since and until.
func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	var f domain.AuditFilter

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, service.ErrValidation
		}
		f.Limit = n
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, domain.AuditAction(a))
	}
	f.UserID = q.Get("user_id")

	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return f, err
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, service.ErrValidation
	}
	return t, nil
}

func toAuditEntry(rec domain.AuditRecord) authsdk.AuditEntry {
	e := authsdk.AuditEntry{
		ID:        rec.ID,
		Seq:       rec.Seq,
		Action:    string(rec.Action),
		UserID:    rec.UserID,
		Details:   rec.Details,
		IPAddress: rec.IPAddress,
		Timestamp: rec.Timestamp,
		Hash:      rec.Hash,
	}
	if rec.Username != nil {
		e.Username = *rec.Username
	}
	if rec.Email != nil {
		e.Email = *rec.Email
	}
	return e
}

// HandleList returns audit entries newest first.
//
//	@Summary		List audit entries
//	@Description	Newest first. limit defaults to 100 and is capped at 500.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			limit	query		int		false	"Maximum entries"
//	@Param			action	query		string	false	"Action filter, repeatable"
//	@Param			user_id	query		string	false	"Actor user id"
//	@Param			since	query		string	false	"RFC3339 lower bound (inclusive)"
//	@Param			until	query		string	false	"RFC3339 upper bound (exclusive)"
//	@Success		200		{object}	authsdk.AuditLogsResponse
//	@Failure		400		{object}	authsdk.APIError
//	@Failure		401		{object}	authsdk.APIError
//	@Failure		403		{object}	authsdk.APIError
//	@Router			/admin/logs [get].
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}

	records, err := h.AuditService.Query(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}

	out := authsdk.AuditLogsResponse{Entries: make([]authsdk.AuditEntry, 0, len(records))}
	for _, rec := range records {
		out.Entries = append(out.Entries, toAuditEntry(rec))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleDownload returns matching entries as a CSV attachment.
//
//	@Summary	Download audit entries as CSV
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	text/csv
//	@Success	200	{file}		file
//	@Failure	400	{object}	authsdk.APIError
//	@Failure	401	{object}	authsdk.APIError
//	@Failure	403	{object}	authsdk.APIError
//	@Router		/admin/logs/download [get].
func (h *AuditHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}

	var buf bytes.Buffer
	if err := h.AuditService.Export(r.Context(), &buf, f); err != nil {
		writeServiceError(w, r, err, false)
		return
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-logs.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// HandleVerify re-verifies the audit hash chain.
//
//	@Summary	Verify the audit hash chain
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.ChainReport
//	@Failure	401	{object}	authsdk.APIError
//	@Failure	403	{object}	authsdk.APIError
//	@Router		/admin/logs/verify [get].
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := h.AuditService.VerifyChain(r.Context())
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}
	if !report.Valid {
		slogx.FromContext(r.Context()).Warn("audit chain broken", "broken_at", report.BrokenAt, "reason", report.Reason)
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.ChainReport{
		Valid:    report.Valid,
		Checked:  report.Checked,
		BrokenAt: report.BrokenAt,
		Reason:   report.Reason,
	})
}
