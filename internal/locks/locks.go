// Package locks serializes work on a single dataset across processes with
// Postgres advisory locks, or within one process with Local.
package locks

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// LockType is the first advisory lock key, separating lock namespaces.
type LockType int32

const (
	// SyncDataset guards V2 synchronization of one dataset.
	SyncDataset LockType = 1
	// REMSPublish guards publishing one dataset to REMS.
	REMSPublish LockType = 2
)

func (t LockType) String() string {
	switch t {
	case SyncDataset:
		return "sync_dataset"
	case REMSPublish:
		return "rems_publish"
	default:
		return fmt.Sprintf("lock_type(%d)", int32(t))
	}
}

// Release gives up a held lock. It is safe to call more than once.
type Release func()

// Locker acquires per-resource locks.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context, lockType LockType, id string) (Release, error)
	// TryLock returns ok=false immediately when another holder has the lock.
	TryLock(ctx context.Context, lockType LockType, id string) (Release, bool, error)
}

// Key derives the second advisory lock key: the last four bytes of the UUID
// read as a big-endian signed integer.
func Key(id string) (int32, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return 0, fmt.Errorf("lock key for %q: %w", id, err)
	}
	return int32(binary.BigEndian.Uint32(u[12:])), nil //nolint:gosec // wraparound intended
}
