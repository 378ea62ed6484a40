package scheduling

import "strings"

// Status is the closed set of appointment lifecycle states.
type Status string

const (
	StatusScheduled              Status = "scheduled"
	StatusConfirmed              Status = "confirmed"
	StatusCompleted              Status = "completed"
	StatusCancelled              Status = "cancelled"
	StatusCancelledByPatient     Status = "cancelled_by_patient"
	StatusCancelledByProfessional Status = "cancelled_by_professional"
	StatusNoShow                 Status = "no_show"
)

// blocking statuses occupy a slot; everything cancelled or no-show frees it.
// Unknown strings are deliberately absent from both tables: they are neither
// cancelled nor explicitly blocking, and IsBlocking treats them as blocking so
// an unrecognized status never silently opens a slot.
var (
	blockingStatuses = map[Status]bool{
		StatusScheduled: true,
		StatusConfirmed: true,
		StatusCompleted: true,
	}

	cancelledStatuses = map[Status]bool{
		StatusCancelled:               true,
		StatusCancelledByPatient:      true,
		StatusCancelledByProfessional: true,
	}

	knownStatuses = map[Status]bool{
		StatusScheduled:               true,
		StatusConfirmed:               true,
		StatusCompleted:               true,
		StatusCancelled:               true,
		StatusCancelledByPatient:      true,
		StatusCancelledByProfessional: true,
		StatusNoShow:                  true,
	}
)

// ParseStatus normalizes a raw status string into the closed set. Unknown
// values are returned as-is so callers can record them; the taxonomy
// predicates treat them as blocking.
func ParseStatus(raw string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s
}

// IsKnown reports whether the status belongs to the closed set.
func IsKnown(s Status) bool {
	return knownStatuses[s]
}

// IsCancelled reports whether the status frees its slot via cancellation.
func IsCancelled(s Status) bool {
	return cancelledStatuses[s]
}

// IsBlocking reports whether an appointment with this status occupies its
// time slot. No-shows do not block; unrecognized statuses do.
func IsBlocking(s Status) bool {
	if blockingStatuses[s] {
		return true
	}
	if IsCancelled(s) || s == StatusNoShow {
		return false
	}
	return true
}
