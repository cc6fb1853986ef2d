package timeauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrClockUnavailable means the trusted time source could not be read.
// Session start fails closed on this error; an attempt must never fall
// back to unlimited time.
var ErrClockUnavailable = errors.New("trusted clock unavailable")

// Clock supplies the authoritative "now". Client clocks are never
// consulted for anything that affects scoring or expiry.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// SystemClock reads the process clock. Fine for single-instance
// deployments and for tests.
type SystemClock struct{}

func (SystemClock) Now(_ context.Context) (time.Time, error) {
	return time.Now(), nil
}

// DBClock reads the current time from PostgreSQL so that every service
// instance anchors sessions to the same source, regardless of host
// clock drift.
type DBClock struct {
	pool *pgxpool.Pool
}

// NewDBClock creates a DBClock backed by the given pool.
func NewDBClock(pool *pgxpool.Pool) *DBClock {
	return &DBClock{pool: pool}
}

func (c *DBClock) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := c.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	return now, nil
}

// ComputeExpiry returns the absolute deadline for an attempt started
// at now with the given duration. Stored once at session creation.
func ComputeExpiry(now time.Time, durationMinutes int) time.Time {
	return now.Add(time.Duration(durationMinutes) * time.Minute)
}

// Remaining derives the time left from the stored absolute expiry and
// a fresh clock sample, clamped to zero. Displays count this down but
// the stored expiry is the only ground truth, so tab suspension or a
// skewed client clock cannot stretch an attempt.
func Remaining(expiresAt, now time.Time) time.Duration {
	r := expiresAt.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}
