package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/appointment-intent-engine/internal/engine"
	"github.com/wolfman30/appointment-intent-engine/internal/intent"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

const maxBodyBytes = 64 << 10

// IntentService is the engine surface the handlers expose.
type IntentService interface {
	ProcessIntent(ctx context.Context, tenant tenancy.Tenant, text string) (*engine.Result, error)
	ValidateIntentText(ctx context.Context, tenant tenancy.Tenant, text string) (intent.Outcome, error)
	SuggestSlots(ctx context.Context, tenant tenancy.Tenant, prefs engine.Preferences) ([]scheduling.Slot, error)
}

// TenantResolver turns the authenticated tenant id into a tenant value.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (tenancy.Tenant, error)
}

// IntentHandler serves the /v1 intent and slot routes.
type IntentHandler struct {
	service IntentService
	tenants TenantResolver
	logger  *logging.Logger
}

func NewIntentHandler(service IntentService, tenants TenantResolver, logger *logging.Logger) *IntentHandler {
	if service == nil {
		panic("handlers: intent service cannot be nil")
	}
	if tenants == nil {
		panic("handlers: tenant resolver cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IntentHandler{service: service, tenants: tenants, logger: logger}
}

type textRequest struct {
	Text string `json:"text"`
}

// tenant builds the tenant value from the credential context only.
func (h *IntentHandler) tenant(w http.ResponseWriter, r *http.Request) (tenancy.Tenant, bool) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing tenant credential")
		return tenancy.Tenant{}, false
	}
	tenant, err := h.tenants.Resolve(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("tenant settings lookup failed", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "tenant settings unavailable")
		return tenancy.Tenant{}, false
	}
	return tenant, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func (h *IntentHandler) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req textRequest
	if !decodeBody(w, r, &req) {
		return "", false
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "text is required")
		return "", false
	}
	return text, true
}

// ProcessIntent handles POST /v1/intents.
func (h *IntentHandler) ProcessIntent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	text, ok := h.readText(w, r)
	if !ok {
		return
	}
	res, err := h.service.ProcessIntent(r.Context(), tenant, text)
	if err != nil {
		h.writeEngineError(w, tenant, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type validateResponse struct {
	Status  string         `json:"status"`
	Intent  *intent.Intent `json:"intent,omitempty"`
	Message string         `json:"message,omitempty"`
}

// ValidateIntent handles POST /v1/intents/validate.
func (h *IntentHandler) ValidateIntent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	text, ok := h.readText(w, r)
	if !ok {
		return
	}
	outcome, err := h.service.ValidateIntentText(r.Context(), tenant, text)
	if err != nil {
		h.writeEngineError(w, tenant, err)
		return
	}
	if outcome.IsClarification() {
		writeJSON(w, http.StatusOK, validateResponse{Status: engine.StatusClarification, Message: outcome.Clarification.Message})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Status: "valid", Intent: outcome.Intent})
}

type suggestRequest struct {
	AttendantIDs  []string `json:"attendantIds"`
	AttendantName string   `json:"attendantName"`
	SpecialtyID   string   `json:"specialtyId"`
	StartDate     string   `json:"startDate"`
	Days          int      `json:"days"`
	Limit         *int     `json:"limit"`
}

// SuggestSlots handles POST /v1/slots/suggest.
func (h *IntentHandler) SuggestSlots(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req suggestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	prefs := engine.Preferences{
		AttendantIDs:  req.AttendantIDs,
		AttendantName: strings.TrimSpace(req.AttendantName),
		SpecialtyID:   strings.TrimSpace(req.SpecialtyID),
		Days:          req.Days,
		Limit:         req.Limit,
	}
	if s := strings.TrimSpace(req.StartDate); s != "" {
		d, err := scheduling.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "startDate must be YYYY-MM-DD")
			return
		}
		prefs.StartDate = d
	}

	slots, err := h.service.SuggestSlots(r.Context(), tenant, prefs)
	if err != nil {
		h.writeEngineError(w, tenant, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusFor maps an engine error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, scheduling.ErrMissingTenant):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, scheduling.ErrMalformedIntent):
		return http.StatusUnprocessableEntity, "malformed_intent"
	case errors.Is(err, scheduling.ErrInvalidIntent):
		return http.StatusUnprocessableEntity, "invalid_intent"
	case errors.Is(err, scheduling.ErrCustomerInactive):
		return http.StatusUnprocessableEntity, "customer_inactive"
	case errors.Is(err, scheduling.ErrAmbiguousAttendant):
		return http.StatusUnprocessableEntity, "ambiguous_attendant"
	case errors.Is(err, scheduling.ErrAttendantNotFound):
		return http.StatusNotFound, "attendant_not_found"
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found"
	case errors.Is(err, scheduling.ErrSlotConflict):
		return http.StatusConflict, "slot_conflict"
	case errors.Is(err, scheduling.ErrInterpretationTimeout):
		return http.StatusServiceUnavailable, "interpretation_timeout"
	case scheduling.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *IntentHandler) writeEngineError(w http.ResponseWriter, tenant tenancy.Tenant, err error) {
	status, code := StatusFor(err)
	resp := errorResponse{Error: code, Message: err.Error()}
	switch {
	case scheduling.IsRetryable(err):
		resp.Retryable = true
		w.Header().Set("Retry-After", "5")
	case status == http.StatusInternalServerError:
		h.logger.Error("request failed", "error", err, "tenant_id", tenant.ID)
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
