package admin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fieldlite/credvault/pkg/schema"
)

// handleHealth returns the full credential health report.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Monitor.Report(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("assemble health report: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleTenantStatus returns the credential format summary for one tenant.
func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")

	statuses, err := s.deps.Store.TenantStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("tenant statuses: %v", err))
		return
	}
	for _, st := range statuses {
		if st.TenantID == tenantID {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("tenant %q has no credentials", tenantID))
}

// handleTenantEvents returns the migration audit trail for a tenant.
func (s *Server) handleTenantEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	since := queryInt64(r, "since", 0)

	events, err := s.deps.Store.MigrationEvents(r.Context(), tenantID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("migration events: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"events":    events,
	})
}

// handleMaintenance dispatches a validated maintenance action.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req schema.MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.deps.Validator.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Action {
	case schema.ActionClearCache:
		s.deps.Cipher.ClearKeyCache()
		writeJSON(w, http.StatusOK, schema.MaintenanceResult{
			Action:  req.Action,
			OK:      true,
			Message: "key-derivation cache cleared; keys will be re-derived on next use",
		})

	case schema.ActionResetMetrics:
		s.deps.Monitor.Reset()
		writeJSON(w, http.StatusOK, schema.MaintenanceResult{
			Action:  req.Action,
			OK:      true,
			Message: "all health counters reset to zero",
		})

	case schema.ActionForceMigration:
		result, err := s.deps.Migrator.ForceMigration(r.Context(), req.TenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("force migration: %v", err))
			return
		}
		failed := len(result.Details) - result.MigratedCount
		writeJSON(w, http.StatusOK, schema.MaintenanceResult{
			Action: req.Action,
			OK:     failed == 0,
			Message: fmt.Sprintf("migrated %d of %d pending credentials",
				result.MigratedCount, len(result.Details)),
			Migration: result,
		})

	default:
		// Unreachable after validation; kept as a safety net.
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}
}
