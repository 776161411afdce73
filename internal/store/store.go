// Package store persists visualization records. Every mutation after creation
// is a conditional write on the record's current status, so concurrent stage
// handlers cannot both win the same transition.
package store

import (
	"context"
	"errors"
	"time"

	"visualizer-backend/internal/models"

	"github.com/google/uuid"
)

// Sentinel errors; callers use errors.Is() instead of string matching
var (
	ErrNotFound          = errors.New("visualization not found")
	ErrConflict          = errors.New("visualization status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListQuery selects a user's records, newest first.
type ListQuery struct {
	UserID         string
	ConversationID string
	Limit          int
}

func (q ListQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		return MaxListLimit
	}
	return q.Limit
}

// Store is the only persistence interface the orchestrator depends on.
// Swap the implementation in main.go; service code never changes.
type Store interface {
	// Create inserts v. ID, timestamps and version are assigned by the store
	// when they are zero.
	Create(ctx context.Context, v *models.Visualization) error
	Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error)
	List(ctx context.Context, q ListQuery) ([]*models.Visualization, error)

	// Claim takes the stage lease on a record in status. It fails with
	// ErrConflict when the status moved on or a lease newer than
	// expiredBefore is still held.
	Claim(ctx context.Context, id uuid.UUID, status models.Status, expiredBefore time.Time) error

	// Transition moves from -> to, writes artifacts into empty fields and
	// releases the lease. ErrConflict when the record is no longer in from.
	Transition(ctx context.Context, id uuid.UUID, from, to models.Status, a models.Artifacts) error

	// Fail moves a non-terminal record in status from to failed.
	Fail(ctx context.Context, id uuid.UUID, from models.Status, message string) error

	// Stalled returns non-terminal records untouched since updatedBefore
	// whose lease is absent or older than the cutoff for their status. Leases
	// are filtered before limit applies, so live leases never fill the batch.
	Stalled(ctx context.Context, updatedBefore time.Time, expired LeaseCutoffs, limit int) ([]*models.Visualization, error)

	Ping(ctx context.Context) error
}

func checkTransition(from, to models.Status) error {
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	return nil
}

func prepareNew(v *models.Visualization, now time.Time) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = models.StatusPending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = v.CreatedAt
	v.Version = 1
}

// LeaseCutoffs maps an in-progress status to the time before which a lease
// held in that status has expired. A leased record in a status without a
// cutoff is never stalled.
type LeaseCutoffs map[models.Status]time.Time

func (c LeaseCutoffs) expired(status models.Status, claimedAt *time.Time) bool {
	if claimedAt == nil {
		return true
	}
	cutoff, ok := c[status]
	return ok && claimedAt.Before(cutoff)
}

// statuses lists the cutoff statuses in pipeline order.
func (c LeaseCutoffs) statuses() []models.Status {
	var out []models.Status
	for _, stage := range models.Stages {
		if _, ok := c[stage.Status()]; ok {
			out = append(out, stage.Status())
		}
	}
	return out
}

// leaseLive reports whether a lease taken at claimedAt still blocks a claim.
func leaseLive(claimedAt *time.Time, expiredBefore time.Time) bool {
	return claimedAt != nil && !claimedAt.Before(expiredBefore)
}
