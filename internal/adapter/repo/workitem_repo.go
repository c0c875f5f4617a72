package repo

import (
	"context"
	"fmt"

	"atelier/internal/domain"
	"atelier/internal/infra"
	"atelier/internal/sqlinline"
)

// WorkItemRepositoryPG implements domain.WorkItemRepository over PostgreSQL.
// Stage writes are conditional updates that refuse to touch terminal rows, so
// a cancellation that raced ahead of the executor always wins.
type WorkItemRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewWorkItemRepository creates a work item repository backed by PostgreSQL.
func NewWorkItemRepository(sql infra.SQLExecutor) *WorkItemRepositoryPG {
	return &WorkItemRepositoryPG{sql: sql}
}

func (r *WorkItemRepositoryPG) Create(ctx context.Context, item *domain.WorkItem) error {
	var parent any
	if item.ParentID != "" {
		parent = item.ParentID
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertWorkItem,
		item.ID,
		item.OwnerID,
		item.Kind,
		item.Model,
		item.Progress,
		nullableBytes(item.Input),
		item.Variants,
		parent,
	)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

func (r *WorkItemRepositoryPG) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QGetWorkItem, id)
	item, err := scanWorkItem(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *WorkItemRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListWorkItemsByOwner, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Advance moves the item to the given stage unless it is already terminal.
// It reports whether the write happened.
func (r *WorkItemRepositoryPG) Advance(ctx context.Context, id string, to domain.Stage) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QAdvanceWorkItem, id, to)
	if err != nil {
		return false, fmt.Errorf("advance work item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Fail force-sets the failed stage with the given message unless the item is
// already terminal. A second Fail, or a Fail after completion, is a no-op.
func (r *WorkItemRepositoryPG) Fail(ctx context.Context, id, message string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailWorkItem, id, message)
	if err != nil {
		return false, fmt.Errorf("fail work item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *WorkItemRepositoryPG) SetOutput(ctx context.Context, id string, output []byte) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetWorkItemOutput, id, nullableBytes(output))
	if err != nil {
		return fmt.Errorf("set work item output: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest queued item in the class using
// FOR UPDATE SKIP LOCKED, so concurrent workers never claim the same row.
func (r *WorkItemRepositoryPG) ClaimNext(ctx context.Context, class domain.QueueClass) (*domain.WorkItem, error) {
	kinds := kindsForClass(class)
	row := r.sql.QueryRow(ctx, sqlinline.QClaimWorkItem, kinds)
	item, err := scanWorkItem(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoWorkAvailable
		}
		return nil, err
	}
	return item, nil
}

func (r *WorkItemRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteWorkItem, id)
	if err != nil {
		return fmt.Errorf("delete work item: %w", err)
	}
	return nil
}

func kindsForClass(class domain.QueueClass) []string {
	var kinds []string
	for _, k := range []domain.ItemKind{
		domain.ItemKindImageEdit,
		domain.ItemKindTextEdit,
		domain.ItemKindDesignSet,
		domain.ItemKindVideoChapter,
	} {
		if k.Class() == class {
			kinds = append(kinds, string(k))
		}
	}
	return kinds
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*domain.WorkItem, error) {
	var item domain.WorkItem
	if err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Kind,
		&item.Model,
		&item.Progress,
		&item.ErrorMessage,
		&item.Input,
		&item.Output,
		&item.Variants,
		&item.ParentID,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
