package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clinic-cloud/scheduling"
)

// AvailabilityHandler exposes conflict checks and slot search over HTTP.
type AvailabilityHandler struct {
	engine *scheduling.Engine
}

// NewAvailabilityHandler creates the availability handler.
func NewAvailabilityHandler(engine *scheduling.Engine) *AvailabilityHandler {
	return &AvailabilityHandler{engine: engine}
}

// RegisterRoutes registers the availability routes.
func (h *AvailabilityHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/appointments/availability", h.handleCheckAvailability).Methods("POST")
	r.HandleFunc("/api/appointments/available-slots", h.handleFindSlots).Methods("POST")
}

type availabilityRequest struct {
	ClinicID             string `json:"clinicId"`
	StartDateTime        string `json:"startDateTime"`
	EndDateTime          string `json:"endDateTime"`
	ProfessionalID       string `json:"professionalId,omitempty"`
	ProfessionalName     string `json:"professionalName,omitempty"`
	ExcludeAppointmentID string `json:"excludeAppointmentId,omitempty"`
}

type availabilityResponse struct {
	Available       bool                        `json:"available"`
	Conflict        *scheduling.ConflictSummary `json:"conflict,omitempty"`
	ConflictDetails string                      `json:"conflictDetails,omitempty"`
}

func (h *AvailabilityHandler) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ClinicID) == "" {
		writeJSONError(w, http.StatusBadRequest, "clinicId is required")
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartDateTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "startDateTime must be an ISO timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndDateTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "endDateTime must be an ISO timestamp")
		return
	}
	if !end.After(start) {
		writeJSONError(w, http.StatusBadRequest, "endDateTime must be after startDateTime")
		return
	}

	result, err := h.engine.CheckAvailability(r.Context(), req.ClinicID,
		scheduling.Window{Start: start, End: end},
		scheduling.Filter{
			ProfessionalID:       req.ProfessionalID,
			ProfessionalName:     req.ProfessionalName,
			ExcludeAppointmentID: req.ExcludeAppointmentID,
		})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "availability check failed")
		return
	}

	resp := availabilityResponse{Available: result.Available, Conflict: result.Conflict}
	if result.Conflict != nil {
		resp.ConflictDetails = "Horário indisponível: conflito com " + result.Conflict.Title
	} else if result.Reason != "" {
		resp.ConflictDetails = result.Reason
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type slotSearchRequest struct {
	ClinicID        string `json:"clinicId"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration,omitempty"`
	WorkingHours    *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"workingHours,omitempty"`
}

func (h *AvailabilityHandler) handleFindSlots(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req slotSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ClinicID) == "" {
		writeJSONError(w, http.StatusBadRequest, "clinicId is required")
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		writeJSONError(w, http.StatusBadRequest, "date is required")
		return
	}

	workStart, workEnd := "", ""
	if req.WorkingHours != nil {
		workStart = req.WorkingHours.Start
		workEnd = req.WorkingHours.End
	}

	result, err := h.engine.FindAvailableSlots(r.Context(), req.ClinicID, req.Date, req.DurationMinutes, workStart, workEnd)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
