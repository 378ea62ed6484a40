package scheduling

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

const (
	defaultSlotMinutes = 60
	defaultWorkStart   = "08:00"
	defaultWorkEnd     = "18:00"
)

// Window is a candidate booking interval, half-open [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Filter narrows which appointments count against a candidate window.
type Filter struct {
	ProfessionalID       string
	ProfessionalName     string
	ExcludeAppointmentID string
}

// Engine answers conflict checks and free-slot searches over the clinic's
// appointment set. It performs no retries; repository errors propagate.
type Engine struct {
	store  Store
	clinic *Clinic
	now    func() time.Time
}

// NewEngine builds an availability engine for the given store and clinic zone.
func NewEngine(store Store, clinic *Clinic) *Engine {
	if clinic == nil {
		clinic = DefaultClinic()
	}
	return &Engine{store: store, clinic: clinic, now: time.Now}
}

// WithNow overrides the engine clock, for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CheckAvailability reports whether the window is free of blocking
// appointments. Windows that do not start strictly in the future are rejected
// with reason "past" regardless of appointment data.
func (e *Engine) CheckAvailability(ctx context.Context, clinicID string, window Window, filter Filter) (*AvailabilityResult, error) {
	if window.Start.IsZero() || window.End.IsZero() {
		return nil, fmt.Errorf("start and end are required")
	}
	if !window.End.After(window.Start) {
		return nil, fmt.Errorf("end must be after start")
	}

	if !window.Start.After(e.now()) {
		return &AvailabilityResult{Available: false, Reason: "past"}, nil
	}

	candidates, err := e.candidateAppointments(ctx, clinicID, filter)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if window.Start.Before(candidate.end) && window.End.After(candidate.start) {
			return &AvailabilityResult{
				Available: false,
				Reason:    "conflict",
				Conflict: &ConflictSummary{
					ID:        candidate.apt.ID,
					Title:     e.displayTitle(ctx, candidate.apt),
					StartTime: e.clinic.ToClinicLocalString(candidate.start),
					EndTime:   e.clinic.ToClinicLocalString(candidate.end),
				},
			}, nil
		}
	}

	return &AvailabilityResult{Available: true}, nil
}

// FindAvailableSlots computes the bookable slots for a clinic-local date under
// working-hour constraints, alongside the busy blocks for rendering.
func (e *Engine) FindAvailableSlots(ctx context.Context, clinicID, date string, durationMinutes int, workStart, workEnd string) (*SlotSearchResult, error) {
	if durationMinutes <= 0 {
		durationMinutes = defaultSlotMinutes
	}
	if strings.TrimSpace(workStart) == "" {
		workStart = defaultWorkStart
	}
	if strings.TrimSpace(workEnd) == "" {
		workEnd = defaultWorkEnd
	}
	duration := time.Duration(durationMinutes) * time.Minute

	dayStart, dayEnd, err := e.clinic.DayBounds(date, workStart, workEnd)
	if err != nil {
		return nil, err
	}

	// Never offer a slot in the past: on the current day the scan begins at
	// the next half-hour boundary from now.
	scanStart := dayStart
	now := e.now()
	if now.After(scanStart) {
		scanStart = RoundUpToHalfHour(now)
	}

	busy, err := e.busyBlocks(ctx, clinicID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	result := &SlotSearchResult{
		AvailableSlots: make([]Slot, 0),
		BusyBlocks:     make([]Slot, 0, len(busy)),
	}

	cursor := scanStart
	for _, block := range busy {
		result.BusyBlocks = append(result.BusyBlocks, Slot{
			StartTime: e.clinic.LocalClock(block.start),
			EndTime:   e.clinic.LocalClock(block.end),
			Type:      "appointment",
			Title:     e.displayTitle(ctx, block.apt),
		})
		for !cursor.Add(duration).After(block.start) {
			result.AvailableSlots = append(result.AvailableSlots, Slot{
				StartTime: e.clinic.LocalClock(cursor),
				EndTime:   e.clinic.LocalClock(cursor.Add(duration)),
			})
			cursor = cursor.Add(duration)
		}
		if block.end.After(cursor) {
			cursor = block.end
		}
	}
	for !cursor.Add(duration).After(dayEnd) {
		result.AvailableSlots = append(result.AvailableSlots, Slot{
			StartTime: e.clinic.LocalClock(cursor),
			EndTime:   e.clinic.LocalClock(cursor.Add(duration)),
		})
		cursor = cursor.Add(duration)
	}

	return result, nil
}

// timedAppointment pairs an appointment with its normalized interval.
type timedAppointment struct {
	apt   *Appointment
	start time.Time
	end   time.Time
}

func (e *Engine) candidateAppointments(ctx context.Context, clinicID string, filter Filter) ([]timedAppointment, error) {
	appointments, err := e.store.ListAppointments(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	activePros, proNames, err := e.activeProfessionals(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	candidates := make([]timedAppointment, 0, len(appointments))
	for _, apt := range appointments {
		if apt.ID == filter.ExcludeAppointmentID && filter.ExcludeAppointmentID != "" {
			continue
		}
		if !IsBlocking(apt.Status) {
			continue
		}
		// Orphaned appointments (owner no longer an active professional) do
		// not block, except when they mirror a real remote calendar event.
		if !activePros[apt.UserID] && !apt.RemoteOrigin() {
			continue
		}
		if filter.ProfessionalID != "" && apt.UserID != filter.ProfessionalID {
			continue
		}
		if filter.ProfessionalName != "" && !strings.EqualFold(proNames[apt.UserID], filter.ProfessionalName) {
			continue
		}

		start, err := e.clinic.NormalizeStoredTimestamp(apt.ScheduledAt)
		if err != nil {
			log.Printf("Availability: skipping appointment %s with bad timestamp: %v", apt.ID, err)
			continue
		}
		candidates = append(candidates, timedAppointment{
			apt:   apt,
			start: start,
			end:   start.Add(apt.Duration()),
		})
	}

	// Deterministic conflict selection: earliest start, then lowest id.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].start.Equal(candidates[j].start) {
			return candidates[i].apt.ID < candidates[j].apt.ID
		}
		return candidates[i].start.Before(candidates[j].start)
	})
	return candidates, nil
}

func (e *Engine) busyBlocks(ctx context.Context, clinicID string, dayStart, dayEnd time.Time) ([]timedAppointment, error) {
	appointments, err := e.store.ListAppointments(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	blocks := make([]timedAppointment, 0, len(appointments))
	for _, apt := range appointments {
		if !IsBlocking(apt.Status) {
			continue
		}
		start, err := e.clinic.NormalizeStoredTimestamp(apt.ScheduledAt)
		if err != nil {
			log.Printf("Availability: skipping appointment %s with bad timestamp: %v", apt.ID, err)
			continue
		}
		end := start.Add(apt.Duration())
		if start.Before(dayEnd) && end.After(dayStart) {
			blocks = append(blocks, timedAppointment{apt: apt, start: start, end: end})
		}
	}
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].start.Equal(blocks[j].start) {
			return blocks[i].apt.ID < blocks[j].apt.ID
		}
		return blocks[i].start.Before(blocks[j].start)
	})
	return blocks, nil
}

func (e *Engine) activeProfessionals(ctx context.Context, clinicID string) (map[string]bool, map[string]string, error) {
	pros, err := e.store.ListProfessionals(ctx, clinicID)
	if err != nil {
		return nil, nil, fmt.Errorf("list professionals: %w", err)
	}
	active := make(map[string]bool, len(pros))
	names := make(map[string]string, len(pros))
	for _, pro := range pros {
		active[pro.ID] = true
		names[pro.ID] = pro.Name
	}
	return active, names, nil
}

func (e *Engine) displayTitle(ctx context.Context, apt *Appointment) string {
	if apt.ContactID != "" {
		if contact, err := e.store.GetContact(ctx, apt.ClinicID, apt.ContactID); err == nil && contact != nil && contact.Name != "" {
			return contact.Name
		}
	}
	if apt.Title != "" {
		return apt.Title
	}
	return "Consulta"
}
