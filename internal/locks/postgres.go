package locks

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"metax/internal/logging"
)

// Postgres holds session level advisory locks, each on its own pooled
// connection so the unlock runs in the session that took the lock.
type Postgres struct {
	db   *sql.DB
	lggr logging.Logger
}

// NewPostgres returns a Locker backed by pg_advisory_lock.
func NewPostgres(db *sql.DB, lggr logging.Logger) *Postgres {
	return &Postgres{db: db, lggr: logging.OrNop(lggr)}
}

// Lock implements Locker.
func (p *Postgres) Lock(ctx context.Context, lockType LockType, id string) (Release, error) {
	key, err := Key(id)
	if err != nil {
		return nil, err
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock %s %s: %w", lockType, id, err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1, $2)", int32(lockType), key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock %s %s: %w", lockType, id, err)
	}
	return p.release(conn, lockType, key), nil
}

// TryLock implements Locker.
func (p *Postgres) TryLock(ctx context.Context, lockType LockType, id string) (Release, bool, error) {
	key, err := Key(id)
	if err != nil {
		return nil, false, err
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("try lock %s %s: %w", lockType, id, err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, $2)", int32(lockType), key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try lock %s %s: %w", lockType, id, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}
	return p.release(conn, lockType, key), true, nil
}

func (p *Postgres) release(conn *sql.Conn, lockType LockType, key int32) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer func() { _ = conn.Close() }()
			if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1, $2)", int32(lockType), key); err != nil {
				p.lggr.Errorw("advisory unlock failed", "type", lockType.String(), "key", key, "error", err)
			}
		})
	}
}
