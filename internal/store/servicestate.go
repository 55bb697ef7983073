package store

import (
	"context"
	"database/sql"

	"github.com/recio/trading-core/internal/domain"
)

// ServiceStateRepo is the typed accessor for system.service_state, a durable
// record of each managed process (spec §4.2). The Supervisor keeps its
// service state in memory and does not write this table.
type ServiceStateRepo struct {
	db *DB
}

func (db *DB) ServiceStates() *ServiceStateRepo {
	return &ServiceStateRepo{db: db}
}

// Upsert records the current lifecycle state of one service.
func (r *ServiceStateRepo) Upsert(ctx context.Context, s domain.ServiceState) error {
	query := `
		INSERT INTO system.service_state (name, pid, status, restart_count, last_exit_reason, updated_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (name) DO UPDATE SET
			pid = EXCLUDED.pid, status = EXCLUDED.status, restart_count = EXCLUDED.restart_count,
			last_exit_reason = EXCLUDED.last_exit_reason, updated_at = now()`

	_, err := r.db.conn.ExecContext(ctx, query, s.Name, s.PID, s.Status, s.RestartCount, s.LastExitReason)
	if err != nil {
		return &domain.TransientError{Component: "store.servicestate", Message: "upsert failed", Err: err}
	}
	return nil
}

// Get loads the recorded state for one service.
func (r *ServiceStateRepo) Get(ctx context.Context, name string) (domain.ServiceState, error) {
	query := `SELECT name, pid, status, restart_count, last_exit_reason, updated_at FROM system.service_state WHERE name = $1`

	var s domain.ServiceState
	err := r.db.conn.GetContext(ctx, &s, query, name)
	if err == sql.ErrNoRows {
		return domain.ServiceState{Name: name, Status: domain.ServiceStopped}, nil
	}
	if err != nil {
		return domain.ServiceState{}, &domain.TransientError{Component: "store.servicestate", Message: "get failed", Err: err}
	}
	return s, nil
}

// ListAll returns the recorded state of every managed service, ordered by
// name.
func (r *ServiceStateRepo) ListAll(ctx context.Context) ([]domain.ServiceState, error) {
	query := `SELECT name, pid, status, restart_count, last_exit_reason, updated_at FROM system.service_state ORDER BY name`

	var rows []domain.ServiceState
	if err := r.db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, &domain.TransientError{Component: "store.servicestate", Message: "list failed", Err: err}
	}
	return rows, nil
}
