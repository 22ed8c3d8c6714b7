package ledger

import (
	"context"
	"time"
)

// LockReader reports active transaction locks.
type LockReader interface {
	LockCovering(ctx context.Context, date time.Time) (bool, error)
}

// Guard blocks transaction writes inside locked or closed periods. Every
// register mutation path consults it before persisting.
type Guard struct {
	locks LockReader
}

// NewGuard constructs a Guard.
func NewGuard(locks LockReader) *Guard {
	return &Guard{locks: locks}
}

// EnsureMutable returns ErrPeriodLocked when the entry date falls inside a
// frozen date range.
func (g *Guard) EnsureMutable(ctx context.Context, entryDate time.Time) error {
	if g == nil || g.locks == nil {
		return nil
	}
	locked, err := g.locks.LockCovering(ctx, entryDate)
	if err != nil {
		return err
	}
	if locked {
		return ErrPeriodLocked
	}
	return nil
}
