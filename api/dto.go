/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract;
  money travels as decimal strings, dates as YYYY-MM-DD.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ERROR SHAPE:
  Every failure is {"error": "...", "code": "..."} with an optional
  details object; the code is a stable machine-readable kind the UI
  branches on (confirmation prompts, permission messages, lockout
  countdowns).

SEE ALSO:
  - handlers.go: Uses these types and maps domain errors to codes
*/
package api

import (
	"time"

	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/service"
	"github.com/wattline/billing-engine/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token              string  `json:"token"`
	User               UserDTO `json:"user"`
	MustChangePassword bool    `json:"must_change_password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type RecoverRequest struct {
	Username    string `json:"username"`
	RecoveryKey string `json:"recovery_key"`
	NewPassword string `json:"new_password"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// =============================================================================
// METERS
// =============================================================================

type MeterDTO struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id"`
	Label          string   `json:"label"`
	SerialNumber   string   `json:"serial_number,omitempty"`
	AlertThreshold *float64 `json:"alert_threshold,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

type MeterRequest struct {
	Label          string   `json:"label"`
	SerialNumber   string   `json:"serial_number"`
	AlertThreshold *float64 `json:"alert_threshold"`
}

type LinkRequest struct {
	Username string `json:"username"`
}

// =============================================================================
// READINGS
// =============================================================================

type ReadingDTO struct {
	ID            string  `json:"id"`
	MeterID       string  `json:"meter_id"`
	AuthorID      string  `json:"author_id"`
	PeriodStart   string  `json:"period_start"`
	PeriodEnd     string  `json:"period_end"`
	PreviousValue float64 `json:"previous_value"`
	CurrentValue  float64 `json:"current_value"`
	Consumption   float64 `json:"consumption"`
	Amount        string  `json:"amount"`
	AmountRounded int64   `json:"amount_rounded"`
	IsRollover    bool    `json:"is_rollover"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type CreateReadingRequest struct {
	PeriodStart     string  `json:"period_start"`
	PeriodEnd       string  `json:"period_end"`
	CurrentValue    float64 `json:"current_value"`
	ConfirmRollover bool    `json:"confirm_rollover"`
}

type UpdateReadingRequest struct {
	CurrentValue    float64 `json:"current_value"`
	ConfirmRollover bool    `json:"confirm_rollover"`
}

type PreviewRequest struct {
	PeriodEnd       string  `json:"period_end"`
	CurrentValue    float64 `json:"current_value"`
	ConfirmRollover bool    `json:"confirm_rollover"`
}

type PreviewDTO struct {
	PreviousValue        float64         `json:"previous_value"`
	Consumption          float64         `json:"consumption"`
	Amount               string          `json:"amount"`
	AmountRounded        int64           `json:"amount_rounded"`
	Breakdown            []TierChargeDTO `json:"breakdown,omitempty"`
	IsRollover           bool            `json:"is_rollover"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Message              string          `json:"message,omitempty"`
}

type TierChargeDTO struct {
	LowerBound  float64  `json:"lower_bound"`
	UpperBound  *float64 `json:"upper_bound,omitempty"`
	PricePerKWh string   `json:"price_per_kwh"`
	Consumed    float64  `json:"consumed"`
	Amount      string   `json:"amount"`
}

type ReadingResultDTO struct {
	Reading        ReadingDTO `json:"reading"`
	ThresholdAlert bool       `json:"threshold_alert"`
	CascadeUpdated int        `json:"cascade_updated"`
}

// =============================================================================
// TARIFFS
// =============================================================================

type TierDTO struct {
	ID          string   `json:"id,omitempty"`
	LowerBound  float64  `json:"lower_bound"`
	UpperBound  *float64 `json:"upper_bound,omitempty"`
	PricePerKWh string   `json:"price_per_kwh"`
}

type ReplaceTariffsRequest struct {
	Name  string    `json:"name,omitempty"`
	Tiers []TierDTO `json:"tiers"`
}

// =============================================================================
// DASHBOARD
// =============================================================================

type MeterOverviewDTO struct {
	Meter            MeterDTO    `json:"meter"`
	ReadingCount     int         `json:"reading_count"`
	TotalConsumption float64     `json:"total_consumption"`
	TotalAmount      string      `json:"total_amount"`
	MonthConsumption float64     `json:"month_consumption"`
	MonthAmount      string      `json:"month_amount"`
	ThresholdAlert   bool        `json:"threshold_alert"`
	LastReading      *ReadingDTO `json:"last_reading,omitempty"`
}

type DashboardDTO struct {
	Meters             []MeterOverviewDTO `json:"meters"`
	ReadingCount       int                `json:"reading_count"`
	MonthConsumption   float64            `json:"month_consumption"`
	MonthAmount        string             `json:"month_amount"`
	MonthAmountRounded int64              `json:"month_amount_rounded"`
	AlertCount         int                `json:"alert_count"`
}

type MeterSummaryDTO struct {
	Meter              MeterOverviewDTO `json:"meter"`
	AverageConsumption float64          `json:"average_consumption"`
	Years              []int            `json:"years"`
}

type ChartDTO struct {
	Labels       []string  `json:"labels"`
	Consumptions []float64 `json:"consumptions"`
	Amounts      []int64   `json:"amounts"`
}

type ComparisonDTO struct {
	Year                int     `json:"year"`
	PreviousYear        int     `json:"previous_year"`
	Consumption         float64 `json:"consumption"`
	PreviousConsumption float64 `json:"previous_consumption"`
	Amount              string  `json:"amount"`
	PreviousAmount      string  `json:"previous_amount"`
	ConsumptionDeltaPct float64 `json:"consumption_delta_pct"`
}

type StatsDTO struct {
	Users       int     `json:"users"`
	ActiveUsers int     `json:"active_users"`
	Meters      int     `json:"meters"`
	Readings    int     `json:"readings"`
	Consumption float64 `json:"consumption"`
	Amount      string  `json:"amount"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u auth.User) UserDTO {
	return UserDTO{
		ID:       string(u.ID),
		Name:     u.Name,
		Username: u.Username,
		Role:     string(u.Role),
		Status:   string(u.Status),
	}
}

func toMeterDTO(m billing.Meter) MeterDTO {
	return MeterDTO{
		ID:             string(m.ID),
		OwnerID:        string(m.OwnerID),
		Label:          m.Label,
		SerialNumber:   m.SerialNumber,
		AlertThreshold: m.AlertThreshold,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func toReadingDTO(r billing.Reading) ReadingDTO {
	return ReadingDTO{
		ID:            string(r.ID),
		MeterID:       string(r.MeterID),
		AuthorID:      string(r.AuthorID),
		PeriodStart:   r.PeriodStart.Format(dateLayout),
		PeriodEnd:     r.PeriodEnd.Format(dateLayout),
		PreviousValue: r.PreviousValue,
		CurrentValue:  r.CurrentValue,
		Consumption:   r.Consumption,
		Amount:        r.BilledAmount.StringFixed(2),
		AmountRounded: r.BilledAmountRounded(),
		IsRollover:    r.IsRollover,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.Format(time.RFC3339),
	}
}

func toReadingDTOs(readings []billing.Reading) []ReadingDTO {
	dtos := make([]ReadingDTO, len(readings))
	for i, r := range readings {
		dtos[i] = toReadingDTO(r)
	}
	return dtos
}

func toPreviewDTO(p service.Preview) PreviewDTO {
	dto := PreviewDTO{
		PreviousValue:        p.PreviousValue,
		Consumption:          p.Consumption,
		Amount:               p.Amount.StringFixed(2),
		AmountRounded:        p.AmountRounded,
		IsRollover:           p.IsRollover,
		RequiresConfirmation: p.RequiresConfirmation,
		Message:              p.Message,
	}
	for _, line := range p.Breakdown {
		dto.Breakdown = append(dto.Breakdown, TierChargeDTO{
			LowerBound:  line.Tier.LowerBound,
			UpperBound:  line.Tier.UpperBound,
			PricePerKWh: line.Tier.PricePerUnit.String(),
			Consumed:    line.Consumed,
			Amount:      line.Amount.StringFixed(2),
		})
	}
	return dto
}

func toReadingResultDTO(r service.ReadingResult) ReadingResultDTO {
	return ReadingResultDTO{
		Reading:        toReadingDTO(r.Reading),
		ThresholdAlert: r.ThresholdAlert,
		CascadeUpdated: r.CascadeUpdated,
	}
}

func toTierDTOs(tiers []billing.Tier) []TierDTO {
	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = TierDTO{
			ID:          t.ID,
			LowerBound:  t.LowerBound,
			UpperBound:  t.UpperBound,
			PricePerKWh: t.PricePerUnit.String(),
		}
	}
	return dtos
}

func toMeterOverviewDTO(mo service.MeterOverview) MeterOverviewDTO {
	dto := MeterOverviewDTO{
		Meter:            toMeterDTO(mo.Meter),
		ReadingCount:     mo.ReadingCount,
		TotalConsumption: mo.TotalConsumption,
		TotalAmount:      mo.TotalAmount.StringFixed(2),
		MonthConsumption: mo.MonthConsumption,
		MonthAmount:      mo.MonthAmount.StringFixed(2),
		ThresholdAlert:   mo.ThresholdAlert,
	}
	if mo.LastReading != nil {
		last := toReadingDTO(*mo.LastReading)
		dto.LastReading = &last
	}
	return dto
}

func toDashboardDTO(o service.Overview) DashboardDTO {
	dto := DashboardDTO{
		Meters:             []MeterOverviewDTO{},
		ReadingCount:       o.ReadingCount,
		MonthConsumption:   o.MonthConsumption,
		MonthAmount:        o.MonthAmount.StringFixed(2),
		MonthAmountRounded: o.MonthAmountRounded,
		AlertCount:         o.AlertCount,
	}
	for _, mo := range o.Meters {
		dto.Meters = append(dto.Meters, toMeterOverviewDTO(mo))
	}
	return dto
}

func toStatsDTO(s sqlite.GlobalStats) StatsDTO {
	return StatsDTO{
		Users:       s.Users,
		ActiveUsers: s.ActiveUsers,
		Meters:      s.Meters,
		Readings:    s.Readings,
		Consumption: s.Consumption,
		Amount:      s.Amount.StringFixed(2),
	}
}
