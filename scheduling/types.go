package scheduling

import "time"

// Appointment is the clinic-side record of a booked slot. ScheduledAt is
// persisted as a naive clinic-local string; use Clinic.NormalizeStoredTimestamp
// before comparing it with anything.
type Appointment struct {
	ID                    string `json:"id"`
	ClinicID              string `json:"clinic_id"`
	UserID                string `json:"user_id"`
	ContactID             string `json:"contact_id,omitempty"`
	Title                 string `json:"title,omitempty"`
	Description           string `json:"description,omitempty"`
	ScheduledAt           string `json:"scheduled_at"`
	DurationMinutes       int    `json:"duration_minutes"`
	Status                Status `json:"status"`
	GoogleCalendarEventID string `json:"google_calendar_event_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Duration returns the appointment length, defaulting to 60 minutes.
func (a *Appointment) Duration() time.Duration {
	if a.DurationMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(a.DurationMinutes) * time.Minute
}

// RemoteOrigin reports whether the appointment is tied to a remote calendar
// event. Remote-origin appointments are exempt from the orphan filter.
func (a *Appointment) RemoteOrigin() bool {
	return a.GoogleCalendarEventID != ""
}

// Contact is a clinic patient or lead.
type Contact struct {
	ID       string    `json:"id"`
	ClinicID string    `json:"clinic_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Status   string    `json:"status"`
	Source   string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Professional is an active clinic user who can own appointments.
type Professional struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Slot is a bookable or busy window, rendered in clinic-local clock time.
type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Type      string `json:"type,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ConflictSummary describes the appointment that blocked a requested window.
type ConflictSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// AvailabilityResult is the outcome of a conflict check.
type AvailabilityResult struct {
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	Conflict  *ConflictSummary `json:"conflict,omitempty"`
}

// SlotSearchResult carries both free slots and the busy blocks around them.
type SlotSearchResult struct {
	AvailableSlots []Slot `json:"availableSlots"`
	BusyBlocks     []Slot `json:"busyBlocks"`
}
