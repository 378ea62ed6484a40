package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"clinic-cloud/calsync"
	"clinic-cloud/scheduling"
)

// AppointmentsHandler is the booking surface: create and cancel run through
// the availability engine before any write, and changes are mirrored to the
// remote calendar when the owner's integration allows pushing.
type AppointmentsHandler struct {
	store   scheduling.Store
	engine  *scheduling.Engine
	manager *calsync.Manager
	clinic  *scheduling.Clinic
}

// NewAppointmentsHandler creates the booking handler.
func NewAppointmentsHandler(store scheduling.Store, engine *scheduling.Engine, manager *calsync.Manager, clinic *scheduling.Clinic) *AppointmentsHandler {
	return &AppointmentsHandler{store: store, engine: engine, manager: manager, clinic: clinic}
}

// RegisterRoutes registers the booking routes.
func (h *AppointmentsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/appointments", h.handleCreate).Methods("POST")
	r.HandleFunc("/api/appointments", h.handleList).Methods("GET")
	r.HandleFunc("/api/appointments/{id}/cancel", h.handleCancel).Methods("POST")
}

type createAppointmentRequest struct {
	ClinicID        string `json:"clinicId"`
	UserID          string `json:"userId"`
	ContactID       string `json:"contactId,omitempty"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	ScheduledAt     string `json:"scheduledAt"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

func (h *AppointmentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ClinicID) == "" || strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, http.StatusBadRequest, "clinicId and userId are required")
		return
	}

	start, err := h.clinic.NormalizeStoredTimestamp(req.ScheduledAt)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "scheduledAt is not a usable timestamp")
		return
	}

	apt := &scheduling.Appointment{
		ID:              uuid.NewString(),
		ClinicID:        req.ClinicID,
		UserID:          req.UserID,
		ContactID:       req.ContactID,
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     h.clinic.ToClinicLocalString(start),
		DurationMinutes: req.DurationMinutes,
		Status:          scheduling.StatusScheduled,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	result, err := h.engine.CheckAvailability(r.Context(), req.ClinicID,
		scheduling.Window{Start: start, End: start.Add(apt.Duration())},
		scheduling.Filter{ProfessionalID: req.UserID})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "availability check failed")
		return
	}
	if !result.Available {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(availabilityResponse{
			Available:       false,
			Conflict:        result.Conflict,
			ConflictDetails: result.Reason,
		})
		return
	}

	if err := h.store.UpsertAppointment(r.Context(), apt); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not save appointment")
		return
	}

	// Remote mirroring is best effort; the booking stands either way.
	if err := h.manager.PushAppointment(r.Context(), apt); err != nil {
		log.Printf("Appointments: push %s to remote calendar: %v", apt.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(apt)
}

func (h *AppointmentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		writeJSONError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	apts, err := h.store.ListAppointments(r.Context(), clinicID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not list appointments")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"appointments": apts})
}

type cancelAppointmentRequest struct {
	ClinicID string `json:"clinicId"`
	Status   string `json:"status,omitempty"`
}

func (h *AppointmentsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := mux.Vars(r)["id"]

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ClinicID) == "" {
		writeJSONError(w, http.StatusBadRequest, "clinicId is required")
		return
	}

	apt, err := h.store.GetAppointment(r.Context(), req.ClinicID, id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not load appointment")
		return
	}
	if apt == nil {
		writeJSONError(w, http.StatusNotFound, "appointment not found")
		return
	}

	status := scheduling.ParseStatus(req.Status)
	if !scheduling.IsCancelled(status) {
		status = scheduling.StatusCancelled
	}
	apt.Status = status
	apt.UpdatedAt = time.Now()

	if err := h.store.UpsertAppointment(r.Context(), apt); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not save appointment")
		return
	}

	// Cascade the remote deletion best effort; the local cancel stands.
	if apt.GoogleCalendarEventID != "" {
		if err := h.manager.PushDelete(r.Context(), apt.UserID, apt.GoogleCalendarEventID); err != nil {
			log.Printf("Appointments: remote delete for %s: %v", apt.ID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apt)
}
