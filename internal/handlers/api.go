package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/slaguard/slaguard/internal/api"
	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/middleware"
	"github.com/slaguard/slaguard/internal/services"
)

// APIHandler exposes the monitoring and escalation engine over HTTP.
type APIHandler struct {
	policyService     *services.PolicyService
	itemService       *services.ItemService
	detector          *services.Detector
	escalationEngine  *services.EscalationEngine
	complianceService *services.ComplianceService
	eventsHub         *EventsHub
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	policyService *services.PolicyService,
	itemService *services.ItemService,
	detector *services.Detector,
	escalationEngine *services.EscalationEngine,
	complianceService *services.ComplianceService,
	eventsHub *EventsHub,
) *APIHandler {
	return &APIHandler{
		policyService:     policyService,
		itemService:       itemService,
		detector:          detector,
		escalationEngine:  escalationEngine,
		complianceService: complianceService,
		eventsHub:         eventsHub,
	}
}

// SetupRoutes sets up all API routes. Policy writes are admin-only.
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	adminOnly := func(fn http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(fn, database.UserRoleAdmin)
	}

	// Dashboard and reporting
	mux.HandleFunc("GET /api/dashboard", h.handleDashboard)
	mux.HandleFunc("GET /api/compliance/type", h.handleComplianceByType)
	mux.HandleFunc("GET /api/compliance/assignee", h.handleComplianceByAssignee)
	mux.HandleFunc("GET /api/at-risk", h.handleAtRisk)

	// Policy management
	mux.HandleFunc("GET /api/policies", h.handleListPolicies)
	mux.HandleFunc("POST /api/policies", adminOnly(h.handleCreatePolicy))
	mux.HandleFunc("GET /api/policies/{id}", h.handleGetPolicy)
	mux.HandleFunc("PUT /api/policies/{id}", adminOnly(h.handleUpdatePolicy))
	mux.HandleFunc("DELETE /api/policies/{id}", adminOnly(h.handleDeletePolicy))
	mux.HandleFunc("POST /api/policies/{id}/recompute", adminOnly(h.handleRecompute))

	// Tracked items
	mux.HandleFunc("POST /api/items", h.handleRegisterItem)
	mux.HandleFunc("GET /api/items", h.handleListItems)
	mux.HandleFunc("GET /api/items/{uuid}", h.handleGetItem)
	mux.HandleFunc("PUT /api/items/{uuid}", h.handleUpdateItem)
	mux.HandleFunc("POST /api/items/{uuid}/acknowledge", h.handleAcknowledgeItem)
	mux.HandleFunc("POST /api/items/{uuid}/resolve", h.handleResolveItem)

	// Escalations
	mux.HandleFunc("GET /api/escalations", h.handleListEscalations)
	mux.HandleFunc("POST /api/escalations/{id}/acknowledge", h.handleAcknowledgeEscalation)
	mux.HandleFunc("POST /api/escalations/{id}/resolve", h.handleResolveEscalation)

	// Manual sweep trigger
	mux.HandleFunc("POST /api/check-breaches", h.handleCheckBreaches)

	// Live event feed
	mux.HandleFunc("GET /ws/events", h.eventsHub.HandleWS)
}

// ========== Dashboard and reporting ==========

// parseWindow reads from/to query parameters (RFC 3339), defaulting to
// the last 30 days.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	return from, to, nil
}

func (h *APIHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", "from/to must be RFC 3339 timestamps")
		return
	}

	overview, err := h.complianceService.GetOverview(from, to)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, overview)
}

func (h *APIHandler) handleComplianceByType(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", "from/to must be RFC 3339 timestamps")
		return
	}

	records, err := h.complianceService.ByType(from, to)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"from": from, "to": to, "records": records,
	})
}

func (h *APIHandler) handleComplianceByAssignee(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", "from/to must be RFC 3339 timestamps")
		return
	}

	records, err := h.complianceService.ByAssignee(from, to)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"from": from, "to": to, "records": records,
	})
}

func (h *APIHandler) handleAtRisk(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.detector.AtRiskItems()
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	if statuses == nil {
		statuses = []services.ItemStatus{}
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"items": statuses})
}

// ========== Policies ==========

func (h *APIHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	policies, err := h.policyService.ListPolicies(includeInactive)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (h *APIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var in services.PolicyInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if errs := api.Validate(in); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	policy, err := h.policyService.CreatePolicy(in)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, policy)
}

func (h *APIHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	policy, err := h.policyService.GetPolicy(id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, policy)
}

func (h *APIHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.PolicyInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	policy, err := h.policyService.UpdatePolicy(id, in)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, policy)
}

func (h *APIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.policyService.DeletePolicy(id); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondNoContent(w)
}

func (h *APIHandler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	updated, err := h.policyService.RecomputeDeadlines(id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"recomputed": updated})
}

// ========== Items ==========

func (h *APIHandler) handleRegisterItem(w http.ResponseWriter, r *http.Request) {
	var in services.ItemInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if errs := api.Validate(in); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	item, err := h.itemService.RegisterItem(in)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, item)
}

func (h *APIHandler) handleListItems(w http.ResponseWriter, r *http.Request) {
	p := api.ParsePagination(r)
	openOnly := r.URL.Query().Get("open") == "true"

	items, total, err := h.itemService.ListItems(openOnly, p.PerPage, p.Offset())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewListResponse(items, total, p))
}

func (h *APIHandler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.itemService.GetItem(r.PathValue("uuid"))
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, item)
}

func (h *APIHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var in services.ItemInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	item, err := h.itemService.UpdateItemAttributes(r.PathValue("uuid"), in)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, item)
}

func (h *APIHandler) handleAcknowledgeItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.itemService.AcknowledgeItem(r.PathValue("uuid"), callerID(r))
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, item)
}

func (h *APIHandler) handleResolveItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.itemService.ResolveItem(r.PathValue("uuid"), callerID(r))
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, item)
}

// ========== Escalations ==========

func (h *APIHandler) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	p := api.ParsePagination(r)
	status := r.URL.Query().Get("status")
	events, total, err := h.escalationEngine.ListEscalations(status, p.PerPage, p.Offset())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewListResponse(events, total, p))
}

func (h *APIHandler) handleAcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	// An empty body means no notes.
	if r.ContentLength > 0 {
		if err := api.DecodeJSON(r, &body); err != nil {
			api.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	event, err := h.escalationEngine.Acknowledge(id, callerID(r), body.Notes)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	h.eventsHub.Broadcast(EventChainAcknowledged, event)
	api.RespondJSON(w, http.StatusOK, event)
}

func (h *APIHandler) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	// An empty body means no notes.
	if r.ContentLength > 0 {
		if err := api.DecodeJSON(r, &body); err != nil {
			api.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	event, err := h.escalationEngine.Resolve(id, callerID(r), body.Notes)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	h.eventsHub.Broadcast(EventChainResolved, event)
	api.RespondJSON(w, http.StatusOK, event)
}

// ========== Manual sweep ==========

// handleCheckBreaches runs one detection pass followed by one escalation
// pass, the same cycle the background monitor runs on its interval.
func (h *APIHandler) handleCheckBreaches(w http.ResponseWriter, r *http.Request) {
	sweep, err := h.detector.Sweep()
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	if sweep.NewBreaches > 0 {
		h.eventsHub.Broadcast(EventBreachesDetected, sweep)
	}

	fired, err := h.escalationEngine.FireDue(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	if fired.Delivered > 0 {
		h.eventsHub.Broadcast(EventEscalationsFired, fired)
	}

	log.Printf("Manual sweep: %d checked, %d new breaches, %d escalations fired",
		sweep.Checked, sweep.NewBreaches, fired.Delivered)
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"sweep":       sweep,
		"escalations": fired,
	})
}

// ========== Helpers ==========

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "bad_request", "id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// callerID returns the authenticated user's id, or 0 when authentication
// is disabled.
func callerID(r *http.Request) uint {
	if claims := middleware.GetUserFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return 0
}
