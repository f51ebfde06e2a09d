package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/riskwise/console/internal/platform/database"
	"github.com/riskwise/console/internal/platform/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves audit query endpoints.
type Handler struct {
	db    database.Querier
	store *Store
}

// NewHandler creates an audit query handler. A nil db serves an empty log.
func NewHandler(db database.Querier, store *Store) *Handler {
	if store == nil {
		store = NewStore()
	}
	return &Handler{db: db, store: store}
}

// HandleListEvents returns recent audit events.
// GET /api/audit/events?limit=50&after=<RFC3339>&before=<RFC3339>&action=&user_id=&context_id=&source=
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := ListEventsParams{Limit: defaultListLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		params.Limit = min(n, maxListLimit)
	}
	for key, dst := range map[string]**time.Time{"after": &params.After, "before": &params.Before} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": key + " must be an RFC3339 timestamp"})
			return
		}
		*dst = &t
	}
	for key, dst := range map[string]**string{
		"action":     &params.Action,
		"user_id":    &params.UserID,
		"context_id": &params.ContextID,
		"source":     &params.Source,
	} {
		if raw := q.Get(key); raw != "" {
			*dst = &raw
		}
	}

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
		return
	}

	events, err := h.store.List(r.Context(), h.db, params)
	if err != nil {
		telemetry.FromContext(r.Context()).Error("listing audit events failed", "error", err)
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":         e.ID,
			"context_id": e.ContextID,
			"user_id":    e.UserID,
			"email":      e.Email,
			"action":     e.Action,
			"metadata":   e.Metadata,
			"source":     e.Source,
			"created_at": e.CreatedAt,
		})
	}
	writeAuditJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
