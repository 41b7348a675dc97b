package shared

import "context"

// Lease is an exclusive right to run an update cycle.
type Lease interface {
	// Release gives the lease up. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// LeaseProvider hands out leases without blocking.
// Contention is reported as ErrUpdateInProgress.
type LeaseProvider interface {
	TryAcquire(ctx context.Context) (Lease, error)
}
