package enrollment

import (
	"context"

	"github.com/warp/enrollment-engine/generic"
)

// Store persists enrollments with optimistic versioning.
type Store interface {
	// GetEnrollment returns a *generic.NotFoundError when id is unknown.
	GetEnrollment(ctx context.Context, id generic.EnrollmentID) (*Enrollment, error)

	CreateEnrollment(ctx context.Context, e Enrollment) error

	// UpdateEnrollment replaces e if the stored version equals expected,
	// storing expected+1. Otherwise it returns a *generic.ConflictError.
	UpdateEnrollment(ctx context.Context, e Enrollment, expected generic.Version) error
}

// ScheduleStore holds the read-only schedule reference data synced from the
// course catalog.
type ScheduleStore interface {
	// GetSchedule returns a *generic.NotFoundError when id is unknown.
	GetSchedule(ctx context.Context, id generic.ScheduleID) (*Schedule, error)

	// SaveSchedule inserts or replaces a schedule.
	SaveSchedule(ctx context.Context, s Schedule) error
}
