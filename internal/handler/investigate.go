package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/middleware"
	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/rbac"
)

// RouteInvestigator runs the candidate-recipient investigation for a route.
type RouteInvestigator interface {
	Investigate(ctx context.Context, routeID uuid.UUID, allowRecovery bool) error
}

// InvestigateDeps holds dependencies for the admin investigate-trigger handler.
type InvestigateDeps struct {
	Investigator RouteInvestigator
}

type investigateRequest struct {
	RouteID       uuid.UUID `json:"route_id"`
	AllowRecovery bool      `json:"allow_recovery"`
}

// TriggerInvestigation synchronously runs an investigation for the given
// route. POST /api/admin/investigate — internal-auth only, for manual
// recovery of a stuck or timed-out route.
func TriggerInvestigation(deps InvestigateDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req investigateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.RouteID == uuid.Nil {
			writeJSONError(w, http.StatusBadRequest, "route_id is required")
			return
		}

		operation := "trigger_investigation"
		if req.AllowRecovery {
			operation = "recover_investigation"
		}
		if !rbac.HasPermission(middleware.RoleFromContext(r.Context()), operation) {
			writeJSONError(w, http.StatusForbidden, "caller role not permitted for operation: "+operation)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		if err := deps.Investigator.Investigate(ctx, req.RouteID, req.AllowRecovery); err != nil {
			status := http.StatusInternalServerError
			switch model.KindOf(err) {
			case model.KindNotFound:
				status = http.StatusNotFound
			case model.KindBusinessLogic, model.KindOperationNotAllowed:
				status = http.StatusConflict
			}
			writeJSONError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"route_id": req.RouteID,
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
