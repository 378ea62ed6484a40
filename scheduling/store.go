package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store is the repository surface the availability engine and sync manager
// depend on. The schema is owned externally; this layer only reads and writes
// the fields it needs.
type Store interface {
	UpsertAppointment(ctx context.Context, apt *Appointment) error
	RemoveAppointment(ctx context.Context, clinicID, id string) error
	GetAppointment(ctx context.Context, clinicID, id string) (*Appointment, error)
	ListAppointments(ctx context.Context, clinicID string) ([]*Appointment, error)
	FindAppointmentsByRemoteEvent(ctx context.Context, clinicID, eventID string) ([]*Appointment, error)

	UpsertContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, clinicID, id string) (*Contact, error)
	FindContactByEmail(ctx context.Context, clinicID, email string) (*Contact, error)

	UpsertProfessional(ctx context.Context, clinicID string, pro *Professional) error
	ListProfessionals(ctx context.Context, clinicID string) ([]*Professional, error)
}

// redisStore keeps clinic records inside Redis hashes keyed per clinic.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store backed by Redis hashes.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) UpsertAppointment(ctx context.Context, apt *Appointment) error {
	if apt == nil || apt.ID == "" || apt.ClinicID == "" {
		return fmt.Errorf("appointment requires id and clinic_id")
	}
	payload, err := json.Marshal(apt)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, appointmentKey(apt.ClinicID), apt.ID, payload).Err()
}

func (s *redisStore) RemoveAppointment(ctx context.Context, clinicID, id string) error {
	if clinicID == "" || id == "" {
		return nil
	}
	return s.client.HDel(ctx, appointmentKey(clinicID), id).Err()
}

func (s *redisStore) GetAppointment(ctx context.Context, clinicID, id string) (*Appointment, error) {
	raw, err := s.client.HGet(ctx, appointmentKey(clinicID), id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var apt Appointment
	if err := json.Unmarshal([]byte(raw), &apt); err != nil {
		return nil, err
	}
	return &apt, nil
}

func (s *redisStore) ListAppointments(ctx context.Context, clinicID string) ([]*Appointment, error) {
	entries, err := s.client.HGetAll(ctx, appointmentKey(clinicID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	appointments := make([]*Appointment, 0, len(entries))
	for _, raw := range entries {
		var apt Appointment
		if err := json.Unmarshal([]byte(raw), &apt); err != nil {
			continue
		}
		appointments = append(appointments, &apt)
	}
	sort.SliceStable(appointments, func(i, j int) bool {
		if appointments[i].ScheduledAt == appointments[j].ScheduledAt {
			return appointments[i].ID < appointments[j].ID
		}
		return appointments[i].ScheduledAt < appointments[j].ScheduledAt
	})
	return appointments, nil
}

func (s *redisStore) FindAppointmentsByRemoteEvent(ctx context.Context, clinicID, eventID string) ([]*Appointment, error) {
	if eventID == "" {
		return nil, nil
	}
	all, err := s.ListAppointments(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	matches := make([]*Appointment, 0, 1)
	for _, apt := range all {
		if apt.GoogleCalendarEventID == eventID {
			matches = append(matches, apt)
		}
	}
	return matches, nil
}

func (s *redisStore) UpsertContact(ctx context.Context, contact *Contact) error {
	if contact == nil || contact.ID == "" || contact.ClinicID == "" {
		return fmt.Errorf("contact requires id and clinic_id")
	}
	payload, err := json.Marshal(contact)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, contactKey(contact.ClinicID), contact.ID, payload).Err(); err != nil {
		return err
	}
	if contact.Email != "" {
		if err := s.client.HSet(ctx, contactEmailKey(contact.ClinicID), normalizeEmail(contact.Email), contact.ID).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *redisStore) GetContact(ctx context.Context, clinicID, id string) (*Contact, error) {
	raw, err := s.client.HGet(ctx, contactKey(clinicID), id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var contact Contact
	if err := json.Unmarshal([]byte(raw), &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *redisStore) FindContactByEmail(ctx context.Context, clinicID, email string) (*Contact, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	id, err := s.client.HGet(ctx, contactEmailKey(clinicID), email).Result()
	if err == redis.Nil || id == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetContact(ctx, clinicID, id)
}

func (s *redisStore) UpsertProfessional(ctx context.Context, clinicID string, pro *Professional) error {
	if pro == nil || pro.ID == "" || clinicID == "" {
		return fmt.Errorf("professional requires id and clinic_id")
	}
	payload, err := json.Marshal(pro)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, professionalKey(clinicID), pro.ID, payload).Err()
}

func (s *redisStore) ListProfessionals(ctx context.Context, clinicID string) ([]*Professional, error) {
	entries, err := s.client.HGetAll(ctx, professionalKey(clinicID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	pros := make([]*Professional, 0, len(entries))
	for _, raw := range entries {
		var pro Professional
		if err := json.Unmarshal([]byte(raw), &pro); err != nil {
			continue
		}
		pros = append(pros, &pro)
	}
	sort.SliceStable(pros, func(i, j int) bool { return pros[i].ID < pros[j].ID })
	return pros, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func appointmentKey(clinicID string) string {
	return fmt.Sprintf("clinic:%s:appointments", clinicID)
}

func contactKey(clinicID string) string {
	return fmt.Sprintf("clinic:%s:contacts", clinicID)
}

func contactEmailKey(clinicID string) string {
	return fmt.Sprintf("clinic:%s:contacts_by_email", clinicID)
}

func professionalKey(clinicID string) string {
	return fmt.Sprintf("clinic:%s:professionals", clinicID)
}
