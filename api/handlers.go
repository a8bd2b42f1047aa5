/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing workflows via REST API. Handles HTTP
  request/response, JSON serialization, and delegates everything else
  to the service layer.

ENDPOINTS:
  Auth:
    POST   /api/auth/login             Open a session
    POST   /api/auth/logout            End the session
    POST   /api/auth/register          Create an account
    GET    /api/auth/me                Current session's user
    PUT    /api/auth/password          Change own password
    POST   /api/auth/recover           Admin reset via recovery key

  Meters:
    GET    /api/meters                 Accessible meters
    POST   /api/meters                 Register a meter
    GET    /api/meters/{id}            Meter details
    PUT    /api/meters/{id}            Edit label/serial/threshold
    DELETE /api/meters/{id}            Remove (confirm=true when readings exist)
    GET    /api/meters/{id}/links      Users the meter is shared with
    POST   /api/meters/{id}/links      Share with a user, by username
    DELETE /api/meters/{id}/links/{userID}  Revoke access

  Readings:
    GET    /api/meters/{id}/readings   Chronological list (?year=)
    POST   /api/meters/{id}/readings   Record a reading
    POST   /api/meters/{id}/readings/preview  Derive without saving
    PUT    /api/readings/{id}          Correct the counter value
    DELETE /api/readings/{id}          Remove a reading

  Statistics:
    GET    /api/dashboard              Per-user overview
    GET    /api/meters/{id}/summary    Totals, average, years with data
    GET    /api/meters/{id}/chart      Last-N consumption series (?months=)
    GET    /api/meters/{id}/comparison Year vs previous year (?year=)

  Tariffs:
    GET    /api/tariffs                Active schedule
    PUT    /api/tariffs                Replace schedule (admin)

  Admin:
    GET    /api/admin/stats            System-wide totals
    GET    /api/admin/users            All accounts
    POST   /api/admin/users/{id}/deactivate

AUTHENTICATION:
  Every /api route except login, register and recover requires a
  Bearer session token. The middleware resolves it to a user and puts
  the user on the request context; handlers read it back with
  userFrom().

ERROR HANDLING:
  Domain errors map to HTTP status plus a stable machine code:
  - 400: Validation failures, malformed input
  - 401: Bad credentials, missing or expired session
  - 403: Permission denials, expired edit window, deactivated account
  - 404: Absent meter, reading or user
  - 409: Needs-confirmation gates and duplicates
  - 429: Login lockout in effect
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/factory"
	"github.com/wattline/billing-engine/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Auth      *service.Auth
	Meters    *service.Meters
	Readings  *service.Readings
	Tariffs   *service.Tariffs
	Dashboard *service.Dashboard
	Log       *zap.Logger
}

// NewHandler creates a new handler over the service layer.
func NewHandler(a *service.Auth, m *service.Meters, r *service.Readings, t *service.Tariffs, d *service.Dashboard, log *zap.Logger) *Handler {
	return &Handler{Auth: a, Meters: m, Readings: r, Tariffs: t, Dashboard: d, Log: log}
}

type contextKey string

const userKey contextKey = "user"

// RequireSession resolves the Bearer token to a user and rejects the
// request when there is no live session.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeErr(w, auth.ErrNoSession)
			return
		}
		user, err := h.Auth.ResolveSession(r.Context(), token)
		if err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, *user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) auth.User {
	user, _ := r.Context().Value(userKey).(auth.User)
	return user
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login opens a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:              result.Token,
		User:               toUserDTO(result.User),
		MustChangePassword: result.MustChangePassword,
	})
}

// Logout ends the session behind the Bearer token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Auth.Logout(r.Context(), bearerToken(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register creates a new account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Name, req.Username, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// Me returns the user behind the session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserDTO(userFrom(r)))
}

// ChangePassword sets a new password for the session's user.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Auth.ChangePassword(r.Context(), userFrom(r).ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Recover resets the admin password against the offline recovery key.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Auth.RecoverAdmin(r.Context(), req.Username, req.RecoveryKey, req.NewPassword); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// METER HANDLERS
// =============================================================================

// ListMeters returns the meters the user owns or is linked to.
func (h *Handler) ListMeters(w http.ResponseWriter, r *http.Request) {
	meters, err := h.Meters.ListAccessible(r.Context(), userFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]MeterDTO, len(meters))
	for i, m := range meters {
		dtos[i] = toMeterDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMeter registers a meter owned by the session's user.
func (h *Handler) CreateMeter(w http.ResponseWriter, r *http.Request) {
	var req MeterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	meter, err := h.Meters.Create(r.Context(), userFrom(r), service.MeterInput{
		Label:          req.Label,
		SerialNumber:   req.SerialNumber,
		AlertThreshold: req.AlertThreshold,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeterDTO(*meter))
}

// GetMeter returns one meter.
func (h *Handler) GetMeter(w http.ResponseWriter, r *http.Request) {
	meter, _, err := h.Meters.Get(r.Context(), userFrom(r), meterID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeterDTO(*meter))
}

// UpdateMeter edits a meter's registry fields.
func (h *Handler) UpdateMeter(w http.ResponseWriter, r *http.Request) {
	var req MeterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	meter, err := h.Meters.Update(r.Context(), userFrom(r), meterID(r), service.MeterInput{
		Label:          req.Label,
		SerialNumber:   req.SerialNumber,
		AlertThreshold: req.AlertThreshold,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeterDTO(*meter))
}

// DeleteMeter removes a meter. When readings exist the first call is
// rejected with their count; repeat with ?confirm=true.
func (h *Handler) DeleteMeter(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm") == "true"
	if err := h.Meters.Delete(r.Context(), userFrom(r), meterID(r), confirm); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListLinks returns the users a meter is shared with.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	users, err := h.Meters.LinkedUsers(r.Context(), userFrom(r), meterID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLink shares a meter with another user, looked up by username.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Meters.Link(r.Context(), userFrom(r), meterID(r), req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// DeleteLink revokes a user's access to a meter.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	targetID := billing.UserID(chi.URLParam(r, "userID"))
	if err := h.Meters.Unlink(r.Context(), userFrom(r), meterID(r), targetID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// =============================================================================
// READING HANDLERS
// =============================================================================

// ListReadings returns a meter's readings, oldest first (?year= filters).
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	readings, err := h.Readings.List(r.Context(), userFrom(r), meterID(r), year)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReadingDTOs(readings))
}

// CreateReading records a counter reading and runs the cascade.
func (h *Handler) CreateReading(w http.ResponseWriter, r *http.Request) {
	var req CreateReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(dateLayout, req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse(dateLayout, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Readings.Create(r.Context(), userFrom(r), service.CreateReadingInput{
		MeterID:         meterID(r),
		PeriodStart:     start,
		PeriodEnd:       end,
		CurrentValue:    req.CurrentValue,
		ConfirmRollover: req.ConfirmRollover,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReadingResultDTO(*result))
}

// PreviewReading derives consumption and amount without persisting.
// A transition that needs confirmation still returns 200 with the
// figures and requires_confirmation set, so the UI can ask.
func (h *Handler) PreviewReading(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	end, err := time.Parse(dateLayout, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
		return
	}

	preview, err := h.Readings.PreviewReading(r.Context(), userFrom(r), meterID(r), end, req.CurrentValue, req.ConfirmRollover)
	if err != nil && !(preview != nil && billing.NeedsConfirmation(err)) {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(*preview))
}

// UpdateReading corrects a reading's counter value and cascades.
func (h *Handler) UpdateReading(w http.ResponseWriter, r *http.Request) {
	var req UpdateReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := billing.ReadingID(chi.URLParam(r, "id"))
	result, err := h.Readings.Update(r.Context(), userFrom(r), id, req.CurrentValue, req.ConfirmRollover)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReadingResultDTO(*result))
}

// DeleteReading removes a reading and cascades over what followed it.
func (h *Handler) DeleteReading(w http.ResponseWriter, r *http.Request) {
	id := billing.ReadingID(chi.URLParam(r, "id"))
	cascaded, err := h.Readings.Delete(r.Context(), userFrom(r), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "deleted",
		"cascade_updated": cascaded,
	})
}

// =============================================================================
// STATISTICS HANDLERS
// =============================================================================

// GetDashboard returns the per-user overview.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Dashboard.Overview(r.Context(), userFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(*overview))
}

// GetSummary returns one meter's totals, average and years with data.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	id := meterID(r)

	summary, err := h.Dashboard.Summary(r.Context(), user, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	years, err := h.Readings.Years(r.Context(), user, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MeterSummaryDTO{
		Meter:              toMeterOverviewDTO(summary.Meter),
		AverageConsumption: summary.AverageConsumption,
		Years:              years,
	})
}

// GetChart returns the last-N consumption series (?months=, default 12).
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("months"))
	series, err := h.Dashboard.Chart(r.Context(), userFrom(r), meterID(r), n)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChartDTO{
		Labels:       series.Labels,
		Consumptions: series.Consumptions,
		Amounts:      series.Amounts,
	})
}

// GetComparison compares a year with the one before (?year=, default
// the current year).
func (h *Handler) GetComparison(w http.ResponseWriter, r *http.Request) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	cmp, err := h.Dashboard.Comparison(r.Context(), userFrom(r), meterID(r), year)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ComparisonDTO{
		Year:                cmp.Year,
		PreviousYear:        cmp.PreviousYear,
		Consumption:         cmp.Consumption,
		PreviousConsumption: cmp.PreviousConsumption,
		Amount:              cmp.Amount.StringFixed(2),
		PreviousAmount:      cmp.PreviousAmount.StringFixed(2),
		ConsumptionDeltaPct: cmp.ConsumptionDeltaPct,
	})
}

// =============================================================================
// TARIFF HANDLERS
// =============================================================================

// ListTariffs returns the active schedule.
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.Tariffs.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTOs(tiers))
}

// ReplaceTariffs swaps the whole schedule. Admin only.
func (h *Handler) ReplaceTariffs(w http.ResponseWriter, r *http.Request) {
	var req ReplaceTariffsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	scheduleJSON := factory.ScheduleJSON{Name: req.Name}
	for _, t := range req.Tiers {
		price, err := decimal.NewFromString(t.PricePerKWh)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid price_per_kwh value", err)
			return
		}
		scheduleJSON.Tiers = append(scheduleJSON.Tiers, factory.TierJSON{
			LowerBound:  t.LowerBound,
			UpperBound:  t.UpperBound,
			PricePerKWh: price,
		})
	}

	tiers, err := h.Tariffs.ReplaceFromJSON(r.Context(), userFrom(r), scheduleJSON)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTOs(tiers))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetStats returns the system-wide totals.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Dashboard.Stats(r.Context(), userFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// ListUsers returns every account.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auth.ListUsers(r.Context(), userFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeactivateUser disables an account, ends its sessions and transfers
// its meters to the acting admin.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	targetID := billing.UserID(chi.URLParam(r, "id"))
	if err := h.Auth.DeactivateUser(r.Context(), userFrom(r), targetID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// =============================================================================
// HELPERS
// =============================================================================

func meterID(r *http.Request) billing.MeterID {
	return billing.MeterID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeErr maps a domain error to status, code and details.
func writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var pending *service.MeterHasReadingsError
	var rollover *billing.RolloverNotConfirmedError
	var locked *auth.LockedError
	switch {
	case errors.As(err, &pending):
		resp.Details = map[string]any{"reading_count": pending.ReadingCount}
	case errors.As(err, &rollover):
		resp.Details = map[string]any{"consumption": rollover.Consumption}
	case errors.As(err, &locked):
		resp.Details = map[string]any{"retry_after_seconds": int(locked.Remaining.Seconds())}
	}

	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case billing.NeedsConfirmation(err):
		return http.StatusConflict, "needs_confirmation"
	case errors.Is(err, service.ErrMeterHasReadings):
		return http.StatusConflict, "confirm_delete"
	case billing.IsDuplicate(err), errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, "duplicate"
	case billing.IsValidationError(err):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, auth.ErrWeakCredential):
		return http.StatusBadRequest, "weak_credential"
	case errors.Is(err, auth.ErrUserLocked):
		return http.StatusTooManyRequests, "locked"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized, "no_session"
	case errors.Is(err, auth.ErrInactiveUser):
		return http.StatusForbidden, "inactive"
	case errors.Is(err, auth.ErrRecoveryKeyMismatch):
		return http.StatusForbidden, "recovery_key_mismatch"
	case errors.Is(err, access.ErrEditWindowExpired):
		return http.StatusForbidden, "edit_window_expired"
	case errors.Is(err, access.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case service.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
