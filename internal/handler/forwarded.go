package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/middleware"
	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/rbac"
	"github.com/connexus-ai/docroute/internal/repository"
)

// ForwardedSearcher answers the paginated, multi-filter forwarded-records
// query used by reporting/admin collaborators.
type ForwardedSearcher interface {
	Search(ctx context.Context, f repository.SearchFilters) ([]model.Forwarded, error)
}

// ForwardedDeps holds dependencies for the admin forwarded-search handler.
type ForwardedDeps struct {
	Forwarded ForwardedSearcher
}

// SearchForwarded answers GET /api/admin/forwarded with optional
// sender_id/recipient_id/document_id/is_valid/is_hidden/limit/offset query
// parameters. Unset boolean filters are omitted entirely rather than
// defaulted, since "no opinion" and "false" are distinct filter states.
func SearchForwarded(deps ForwardedDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rbac.HasPermission(middleware.RoleFromContext(r.Context()), "view_route") {
			writeJSONError(w, http.StatusForbidden, "caller role not permitted for operation: view_route")
			return
		}

		q := r.URL.Query()

		var filters repository.SearchFilters

		if v := q.Get("sender_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid sender_id")
				return
			}
			filters.SenderID = &id
		}
		if v := q.Get("recipient_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid recipient_id")
				return
			}
			filters.RecipientID = &id
		}
		if v := q.Get("document_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid document_id")
				return
			}
			filters.DocumentID = &id
		}
		if v := q.Get("is_valid"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid is_valid")
				return
			}
			filters.IsValid = &b
		}
		if v := q.Get("is_hidden"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid is_hidden")
				return
			}
			filters.IsHidden = &b
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filters.Limit = n
		}
		if v := q.Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid offset")
				return
			}
			filters.Offset = n
		}

		results, err := deps.Forwarded.Search(r.Context(), filters)
		if err != nil {
			status := http.StatusInternalServerError
			if model.KindOf(err) == model.KindNotFound {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"forwarded": results,
		})
	}
}
