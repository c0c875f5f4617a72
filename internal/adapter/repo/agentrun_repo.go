package repo

import (
	"context"
	"fmt"

	"atelier/internal/domain"
	"atelier/internal/infra"
	"atelier/internal/sqlinline"
)

// AgentRunRepositoryPG implements domain.AgentRunRepository over PostgreSQL.
type AgentRunRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAgentRunRepository creates an agent run repository backed by PostgreSQL.
func NewAgentRunRepository(sql infra.SQLExecutor) *AgentRunRepositoryPG {
	return &AgentRunRepositoryPG{sql: sql}
}

func (r *AgentRunRepositoryPG) Create(ctx context.Context, run *domain.AgentRun) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertAgentRun,
		run.ID,
		run.OwnerID,
		run.WorkItemID,
		run.Status,
	)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

func (r *AgentRunRepositoryPG) Get(ctx context.Context, id string) (*domain.AgentRun, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QGetAgentRun, id)
	run, err := scanAgentRun(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	logs, err := r.logsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Logs = logs
	return run, nil
}

// UpdateStatus applies the run state machine: it reads the current status,
// validates the transition, and writes with a compare-and-set so a racing
// writer loses cleanly instead of clobbering.
func (r *AgentRunRepositoryPG) UpdateStatus(ctx context.Context, id string, to domain.RunStatus) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QGetAgentRun, id)
	run, err := scanAgentRun(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, domain.ErrNotFound
		}
		return false, err
	}
	if !run.Status.CanTransition(to) {
		return false, nil
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateAgentRunStatus, id, run.Status, to)
	if err != nil {
		return false, fmt.Errorf("update agent run status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AgentRunRepositoryPG) AppendLog(ctx context.Context, id string, entry domain.RunLogEntry) error {
	_, err := r.sql.Exec(ctx, sqlinline.QAppendAgentRunLog, id, entry.At, entry.Severity, entry.Message)
	if err != nil {
		return fmt.Errorf("append agent run log: %w", err)
	}
	return nil
}

func (r *AgentRunRepositoryPG) IncrementIterations(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QIncrementAgentRunIterations, id)
	if err != nil {
		return fmt.Errorf("increment agent run iterations: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest pending run.
func (r *AgentRunRepositoryPG) ClaimNext(ctx context.Context) (*domain.AgentRun, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimAgentRun)
	run, err := scanAgentRun(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoWorkAvailable
		}
		return nil, err
	}
	return run, nil
}

func (r *AgentRunRepositoryPG) logsFor(ctx context.Context, id string) ([]domain.RunLogEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QAgentRunLogs, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.RunLogEntry
	for rows.Next() {
		var entry domain.RunLogEntry
		if err := rows.Scan(&entry.At, &entry.Severity, &entry.Message); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func scanAgentRun(row rowScanner) (*domain.AgentRun, error) {
	var run domain.AgentRun
	if err := row.Scan(
		&run.ID,
		&run.OwnerID,
		&run.WorkItemID,
		&run.Status,
		&run.Iterations,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &run, nil
}
