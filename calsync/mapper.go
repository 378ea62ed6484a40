package calsync

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"clinic-cloud/gcal"
	"clinic-cloud/scheduling"
	"clinic-cloud/security"
)

// phonePattern picks up labelled phone numbers inside event descriptions,
// e.g. "Telefone: +55 11 91234-5678".
var phonePattern = regexp.MustCompile(`(?i)(?:telefone|phone|tel)\s*:?\s*([+(\d][\d\s().-]{6,}\d)`)

// applyRemoteEvent folds one remote event into the clinic store: cancelled
// events delete the local appointments carrying that event id, everything
// else is upserted, creating a lead contact for unknown guests.
func (m *Manager) applyRemoteEvent(ctx context.Context, integration *security.CalendarIntegration, event *gcal.Event) error {
	matches, err := m.store.FindAppointmentsByRemoteEvent(ctx, integration.ClinicID, event.ID)
	if err != nil {
		return fmt.Errorf("find appointments for event %s: %w", event.ID, err)
	}

	if event.Cancelled() {
		for _, apt := range matches {
			if err := m.store.RemoveAppointment(ctx, integration.ClinicID, apt.ID); err != nil {
				return fmt.Errorf("remove appointment %s: %w", apt.ID, err)
			}
		}
		return nil
	}

	var apt *scheduling.Appointment
	if len(matches) > 0 {
		apt = matches[0]
	} else {
		apt = &scheduling.Appointment{
			ID:                    uuid.NewString(),
			ClinicID:              integration.ClinicID,
			UserID:                integration.UserID,
			GoogleCalendarEventID: event.ID,
			CreatedAt:             m.now(),
		}
	}

	apt.Title = event.Summary
	apt.Description = event.Description
	apt.ScheduledAt = m.clinic.ToClinicLocalString(event.Start)
	if d := event.End.Sub(event.Start); d > 0 {
		apt.DurationMinutes = int(d.Minutes())
	}
	if event.Start.Before(m.now()) {
		apt.Status = scheduling.StatusCompleted
	} else {
		apt.Status = scheduling.StatusScheduled
	}

	contact, err := m.resolveGuestContact(ctx, integration, event)
	if err != nil {
		return err
	}
	if contact != nil {
		apt.ContactID = contact.ID
	}

	apt.UpdatedAt = m.now()
	if err := m.store.UpsertAppointment(ctx, apt); err != nil {
		return fmt.Errorf("upsert appointment for event %s: %w", event.ID, err)
	}
	return nil
}

// resolveGuestContact finds or creates the contact for the event's guest:
// the first attendee whose email is not the integration account itself.
// Events without such a guest produce no contact.
func (m *Manager) resolveGuestContact(ctx context.Context, integration *security.CalendarIntegration, event *gcal.Event) (*scheduling.Contact, error) {
	email := guestEmail(integration.Email, event.Attendees)
	if email == "" {
		return nil, nil
	}

	existing, err := m.store.FindContactByEmail(ctx, integration.ClinicID, email)
	if err != nil {
		return nil, fmt.Errorf("find contact %s: %w", email, err)
	}
	if existing != nil {
		return existing, nil
	}

	contact := &scheduling.Contact{
		ID:        uuid.NewString(),
		ClinicID:  integration.ClinicID,
		Name:      contactNameFromEmail(email),
		Email:     email,
		Phone:     extractPhone(event.Description),
		Status:    "lead",
		Source:    "google_calendar",
		CreatedAt: m.now(),
	}
	if err := m.store.UpsertContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("create contact %s: %w", email, err)
	}
	return contact, nil
}

// eventFromAppointment builds the remote representation of a local
// appointment. The stored naive timestamp is interpreted as clinic-local
// before crossing the wire.
func (m *Manager) eventFromAppointment(apt *scheduling.Appointment) (*gcal.Event, error) {
	start, err := m.clinic.NormalizeStoredTimestamp(apt.ScheduledAt)
	if err != nil {
		return nil, fmt.Errorf("appointment %s has unusable scheduled_at %q: %w", apt.ID, apt.ScheduledAt, err)
	}
	title := apt.Title
	if title == "" {
		title = "Consulta"
	}
	return &gcal.Event{
		Summary:     title,
		Description: apt.Description,
		Start:       start,
		End:         start.Add(apt.Duration()),
	}, nil
}

func guestEmail(ownEmail string, attendees []gcal.Attendee) string {
	for _, a := range attendees {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" || strings.EqualFold(email, ownEmail) {
			continue
		}
		return email
	}
	return ""
}

func contactNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func extractPhone(description string) string {
	match := phonePattern.FindStringSubmatch(description)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}
