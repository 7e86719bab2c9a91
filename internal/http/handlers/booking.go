package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
	"github.com/wolfman30/salon-ai-platform/internal/booking"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

const maxBodyBytes = 64 << 10

// BookingService is the booking core as seen by HTTP.
type BookingService interface {
	Book(ctx context.Context, req booking.Request) booking.Result
	Cancel(ctx context.Context, req booking.CancelRequest) booking.CancellationResult
	Reschedule(ctx context.Context, req booking.RescheduleRequest) booking.Result
	Confirm(ctx context.Context, id uuid.UUID) booking.Result
	Complete(ctx context.Context, id uuid.UUID) booking.Result
	MarkNoShow(ctx context.Context, id uuid.UUID) booking.Result
	CreateBlock(ctx context.Context, req booking.BlockRequest) booking.BlockResult
	DeleteBlock(ctx context.Context, resourceID, blockID uuid.UUID) booking.BlockResult
}

// AvailabilityChecker answers free-slot queries.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, resourceID uuid.UUID, date time.Time, durationMinutes int) ([]availability.Slot, error)
}

type BookingHandlerConfig struct {
	Service      BookingService
	Availability AvailabilityChecker
	Logger       *logging.Logger
}

// BookingHandler exposes booking, availability, cancellation and staff block endpoints.
type BookingHandler struct {
	service      BookingService
	availability AvailabilityChecker
	logger       *logging.Logger
}

func NewBookingHandler(cfg BookingHandlerConfig) *BookingHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &BookingHandler{
		service:      cfg.Service,
		availability: cfg.Availability,
		logger:       cfg.Logger,
	}
}

type bookRequest struct {
	ResourceID   string   `json:"resource_id"`
	ServiceIDs   []string `json:"service_ids"`
	StartTime    string   `json:"start_time"`
	CustomerID   string   `json:"customer_id"`
	CustomerName string   `json:"customer_name"`
	Notes        string   `json:"notes"`
}

type appointmentResponse struct {
	AppointmentID   string     `json:"appointment_id"`
	ResourceID      string     `json:"resource_id"`
	ServiceIDs      []string   `json:"service_ids"`
	Status          string     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	HoldExpiresAt   *time.Time `json:"hold_expires_at,omitempty"`
	ExternalEventID *string    `json:"external_event_id"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) appointmentResponse {
	return appointmentResponse{
		AppointmentID:   a.ID.String(),
		ResourceID:      a.ResourceID.String(),
		ServiceIDs:      a.ServiceIDs,
		Status:          string(a.Status),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime(),
		HoldExpiresAt:   a.HoldExpiresAt,
		ExternalEventID: a.ExternalEventID,
	}
}

// Book handles POST /v1/bookings.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	var body bookRequest
	if !decodeBody(w, r, &body) {
		return
	}
	resourceID, err := uuid.Parse(strings.TrimSpace(body.ResourceID))
	if err != nil {
		writeFailure(w, appointment.KindResourceNotFound, map[string]string{"reason": "resource_id must be a UUID"})
		return
	}
	start, ok := parseTime(w, "start_time", body.StartTime)
	if !ok {
		return
	}

	res := h.service.Book(r.Context(), booking.Request{
		ResourceID:   resourceID,
		ServiceIDs:   body.ServiceIDs,
		StartTime:    start,
		CustomerID:   strings.TrimSpace(body.CustomerID),
		CustomerName: strings.TrimSpace(body.CustomerName),
		Notes:        body.Notes,
	})
	if !res.Success {
		writeFailure(w, res.Kind, res.Details)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(res.Appointment))
}

type availabilityResponse struct {
	ResourceID      string              `json:"resource_id"`
	Date            string              `json:"date"`
	DurationMinutes int                 `json:"duration_minutes"`
	Slots           []availability.Slot `json:"slots"`
}

// Availability handles GET /v1/resources/{resourceID}/availability?date=YYYY-MM-DD&duration=60.
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := pathUUID(w, r, "resourceID")
	if !ok {
		return
	}
	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		writeFailure(w, appointment.KindInvalidRequest, map[string]string{"reason": "date must be YYYY-MM-DD"})
		return
	}
	duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil || duration <= 0 {
		writeFailure(w, appointment.KindInvalidRequest, map[string]string{"reason": "duration must be a positive number of minutes"})
		return
	}

	slots, err := h.availability.CheckAvailability(r.Context(), resourceID, date, duration)
	if errors.Is(err, appointment.ErrResourceNotFound) {
		writeFailure(w, appointment.KindResourceNotFound, map[string]string{"reason": "resource does not exist or is inactive"})
		return
	}
	if err != nil {
		h.logger.Error("availability check failed", "resource_id", resourceID, "date", date.Format(time.DateOnly), "error", err)
		writeFailure(w, appointment.KindDatabaseError, nil)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		ResourceID:      resourceID.String(),
		Date:            date.Format(time.DateOnly),
		DurationMinutes: duration,
		Slots:           slots,
	})
}

type cancelRequest struct {
	Reason    string `json:"reason"`
	Escalated bool   `json:"escalated"`
}

type cancelResponse struct {
	Success            bool                 `json:"success"`
	Error              string               `json:"error,omitempty"`
	Details            map[string]string    `json:"details,omitempty"`
	RequiresEscalation bool                 `json:"requires_escalation"`
	HoursUntilStart    float64              `json:"hours_until_start"`
	Appointment        *appointmentResponse `json:"appointment,omitempty"`
}

// Cancel handles POST /v1/appointments/{id}/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body cancelRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}

	res := h.service.Cancel(r.Context(), booking.CancelRequest{AppointmentID: id, Reason: body.Reason, Escalated: body.Escalated})
	out := cancelResponse{
		Success:            res.Success,
		Error:              string(res.Kind),
		Details:            res.Details,
		RequiresEscalation: res.RequiresEscalation,
		HoursUntilStart:    res.HoursUntilStart,
	}
	if res.Appointment != nil {
		a := toAppointmentResponse(res.Appointment)
		out.Appointment = &a
	}
	status := http.StatusOK
	if !res.Success {
		status = statusForKind(res.Kind)
	}
	writeJSON(w, status, out)
}

type rescheduleRequest struct {
	StartTime string `json:"start_time"`
}

// Reschedule handles POST /v1/appointments/{id}/reschedule.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body rescheduleRequest
	if !decodeBody(w, r, &body) {
		return
	}
	start, ok := parseTime(w, "start_time", body.StartTime)
	if !ok {
		return
	}
	h.writeResult(w, h.service.Reschedule(r.Context(), booking.RescheduleRequest{AppointmentID: id, NewStartTime: start}))
}

// Confirm handles POST /v1/appointments/{id}/confirm.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Confirm)
}

// Complete handles POST /v1/appointments/{id}/complete.
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Complete)
}

// NoShow handles POST /v1/appointments/{id}/no-show.
func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.MarkNoShow)
}

func (h *BookingHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) booking.Result) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	h.writeResult(w, op(r.Context(), id))
}

func (h *BookingHandler) writeResult(w http.ResponseWriter, res booking.Result) {
	if !res.Success {
		writeFailure(w, res.Kind, res.Details)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment))
}

type blockRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Category  string `json:"category"`
	Label     string `json:"label"`
}

type blockResponse struct {
	BlockID     string     `json:"block_id"`
	ResourceID  string     `json:"resource_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Category    string     `json:"category"`
	Label       string     `json:"label,omitempty"`
	Overlapping []string   `json:"overlapping_appointments,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// CreateBlock handles POST /v1/resources/{resourceID}/blocks.
func (h *BookingHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := pathUUID(w, r, "resourceID")
	if !ok {
		return
	}
	var body blockRequest
	if !decodeBody(w, r, &body) {
		return
	}
	start, ok := parseTime(w, "start_time", body.StartTime)
	if !ok {
		return
	}
	end, ok := parseTime(w, "end_time", body.EndTime)
	if !ok {
		return
	}

	res := h.service.CreateBlock(r.Context(), booking.BlockRequest{
		ResourceID: resourceID,
		StartTime:  start,
		EndTime:    end,
		Category:   appointment.BlockCategory(strings.ToLower(strings.TrimSpace(body.Category))),
		Label:      body.Label,
	})
	if !res.Success {
		writeFailure(w, res.Kind, res.Details)
		return
	}
	out := blockResponse{
		BlockID:    res.Block.ID.String(),
		ResourceID: res.Block.ResourceID.String(),
		StartTime:  res.Block.StartTime,
		EndTime:    res.Block.EndTime,
		Category:   string(res.Block.Category),
		Label:      res.Block.Label,
		CreatedAt:  &res.Block.CreatedAt,
	}
	for _, b := range res.Overlapping {
		out.Overlapping = append(out.Overlapping, b.RefID.String())
	}
	writeJSON(w, http.StatusCreated, out)
}

// DeleteBlock handles DELETE /v1/resources/{resourceID}/blocks/{blockID}.
func (h *BookingHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := pathUUID(w, r, "resourceID")
	if !ok {
		return
	}
	blockID, ok := pathUUID(w, r, "blockID")
	if !ok {
		return
	}
	res := h.service.DeleteBlock(r.Context(), resourceID, blockID)
	if !res.Success {
		writeFailure(w, res.Kind, res.Details)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusForKind maps failure kinds onto HTTP status codes.
func statusForKind(kind appointment.ErrorKind) int {
	switch kind {
	case appointment.KindSlotTaken, appointment.KindInvalidTransition, appointment.KindCancellationWindow:
		return http.StatusConflict
	case appointment.KindDateTooSoon, appointment.KindCategoryMismatch, appointment.KindClosedDay:
		return http.StatusUnprocessableEntity
	case appointment.KindResourceNotFound, appointment.KindServiceNotFound,
		appointment.KindAppointmentNotFound, appointment.KindBlockNotFound:
		return http.StatusNotFound
	case appointment.KindInvalidRequest:
		return http.StatusBadRequest
	case appointment.KindDatabaseError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, kind appointment.ErrorKind, details map[string]string) {
	writeJSON(w, statusForKind(kind), errorResponse{Error: string(kind), Details: details})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeFailure(w, appointment.KindInvalidRequest, map[string]string{"reason": "invalid JSON body"})
		return false
	}
	return true
}

func parseTime(w http.ResponseWriter, field, value string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		writeFailure(w, appointment.KindInvalidRequest, map[string]string{"reason": field + " must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		writeFailure(w, appointment.KindInvalidRequest, map[string]string{"reason": name + " must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
