package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the operator surface.
type AdminServiceInterface interface {
	ListLockedAccounts(ctx context.Context, limit, offset int) ([]models.LockedAccount, error)
	UnlockAccount(ctx context.Context, actorID, userID string) error
	InspectAddress(ctx context.Context, address string) (*models.AddressReport, error)
	BlockAddress(ctx context.Context, actorID, address string, duration time.Duration) (*models.BlockedAddress, error)
	UnblockAddress(ctx context.Context, actorID, address string) error
	ListBlockedAddresses(ctx context.Context) ([]models.BlockedAddress, error)
	ListSecurityEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	Metrics(ctx context.Context, window time.Duration) (*models.SecurityMetrics, error)
}

// AdminHandler handles admin HTTP requests. Routes are mounted behind the
// admin role policy.
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// BlockAddressRequest is the body of POST /admin/addresses/block. A zero
// duration uses the configured block duration.
type BlockAddressRequest struct {
	Address         string `json:"address" validate:"required,ip"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0,lte=2592000"`
}

// LockedAccountsResponse is the body of GET /admin/lockouts
type LockedAccountsResponse struct {
	Accounts []models.LockedAccount `json:"accounts"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// SecurityEventsResponse is the body of GET /admin/security-events
type SecurityEventsResponse struct {
	Events []*models.SecurityEvent `json:"events"`
}

// BlockedAddressesResponse is the body of GET /admin/addresses
type BlockedAddressesResponse struct {
	Blocked []models.BlockedAddress `json:"blocked"`
}

// ListLockedAccounts handles GET /admin/lockouts
// Accepts optional query params ?limit=N (1-100, default 50) and ?offset=N.
func (h *AdminHandler) ListLockedAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 100)

	accounts, err := h.service.ListLockedAccounts(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []models.LockedAccount{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockedAccountsResponse{Accounts: accounts, Limit: limit, Offset: offset})
}

// UnlockAccount handles POST /admin/lockouts/{userID}/unlock
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromContext(r)
	if actor == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := validate.Var(userID, "required,uuid"); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	if err := h.service.UnlockAccount(r.Context(), actor.UserID, userID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// InspectAddress handles GET /admin/addresses/{address}
func (h *AdminHandler) InspectAddress(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	report, err := h.service.InspectAddress(r.Context(), address)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, report)
}

// ListBlockedAddresses handles GET /admin/addresses
func (h *AdminHandler) ListBlockedAddresses(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.service.ListBlockedAddresses(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BlockedAddressesResponse{Blocked: blocked})
}

// BlockAddress handles POST /admin/addresses/block
func (h *AdminHandler) BlockAddress(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromContext(r)
	if actor == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req BlockAddressRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	block, err := h.service.BlockAddress(r.Context(), actor.UserID, req.Address, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, block)
}

// UnblockAddress handles DELETE /admin/addresses/{address}
func (h *AdminHandler) UnblockAddress(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromContext(r)
	if actor == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	if err := h.service.UnblockAddress(r.Context(), actor.UserID, address); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSecurityEvents handles GET /admin/security-events
// Filters: ?type, ?severity, ?user_id, ?since (RFC 3339), ?limit, ?offset.
func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(r, 50, 500)

	filter := models.SecurityEventFilter{
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		UserID:   q.Get("user_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if filter.Severity != "" {
		if err := validate.Var(filter.Severity, "oneof=info warning critical"); err != nil {
			pkghttp.WriteBadRequest(w, "severity must be one of: info warning critical")
			return
		}
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			pkghttp.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	events, err := h.service.ListSecurityEvents(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityEventsResponse{Events: events})
}

// Metrics handles GET /admin/metrics
// Accepts optional ?window=<duration> (e.g. 1h, default 24h, at most 30 days).
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if s := r.URL.Query().Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > 30*24*time.Hour {
			pkghttp.WriteBadRequest(w, "window must be a positive duration of at most 720h")
			return
		}
		window = d
	}

	metrics, err := h.service.Metrics(r.Context(), window)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, metrics)
}

func addressParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := chi.URLParam(r, "address")
	if err := validate.Var(address, "required,ip"); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid address")
		return "", false
	}
	return address, true
}

// pagination reads ?limit and ?offset, ignoring values out of range.
func pagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit, offset := defaultLimit, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
