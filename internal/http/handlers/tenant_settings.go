package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// SettingsRepository stores per-tenant settings.
type SettingsRepository interface {
	Get(ctx context.Context, tenantID string) (*tenancy.Settings, error)
	Set(ctx context.Context, settings *tenancy.Settings) error
}

// TenantSettingsHandler serves operator routes for tenant timezone and
// honorific settings.
type TenantSettingsHandler struct {
	repo   SettingsRepository
	logger *logging.Logger
}

func NewTenantSettingsHandler(repo SettingsRepository, logger *logging.Logger) *TenantSettingsHandler {
	if repo == nil {
		panic("handlers: settings repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TenantSettingsHandler{repo: repo, logger: logger}
}

type settingsRequest struct {
	Timezone   string   `json:"timezone"`
	Honorifics []string `json:"honorifics"`
}

// Get handles GET /admin/tenants/{tenantID}/settings.
func (h *TenantSettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant id is required")
		return
	}
	settings, err := h.repo.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to load tenant settings", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "tenant settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Put handles PUT /admin/tenants/{tenantID}/settings.
func (h *TenantSettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant id is required")
		return
	}
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	settings := &tenancy.Settings{
		TenantID:   tenantID,
		Timezone:   strings.TrimSpace(req.Timezone),
		Honorifics: req.Honorifics,
	}
	if settings.Timezone == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "timezone is required")
		return
	}
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown timezone "+settings.Timezone)
		return
	}
	if err := h.repo.Set(r.Context(), settings); err != nil {
		h.logger.Error("failed to save tenant settings", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "tenant settings unavailable")
		return
	}
	h.logger.Info("tenant settings updated", "tenant_id", tenantID, "timezone", settings.Timezone)
	writeJSON(w, http.StatusOK, settings)
}
