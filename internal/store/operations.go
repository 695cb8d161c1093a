package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
)

// NewOperationID allocates an opaque async operation ID.
func NewOperationID() string { return uuid.NewString() }

// CreateOperation inserts a pending async_operations row (spec.md §4.6:
// "the async entry point records an operation row, enqueues the task").
func (s *Store) CreateOperation(ctx context.Context, bankID, taskType string, itemsCount int, documentID string) (*AsyncOperation, error) {
	op := &AsyncOperation{
		ID:         NewOperationID(),
		BankID:     bankID,
		TaskType:   taskType,
		ItemsCount: itemsCount,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
		Status:     OperationPending,
	}
	if err := s.putOperation(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Store) putOperation(ctx context.Context, op *AsyncOperation) error {
	raw, err := encode(op)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, opKey(op.BankID, op.ID), raw)
}

// GetOperation fetches an operation row. The Task Backend checks this
// before executing a queued task (spec.md §4.9: "the worker must check
// the row's presence before executing and skip if missing" — cancellation
// is implemented by deleting the row).
func (s *Store) GetOperation(ctx context.Context, bankID, opID string) (*AsyncOperation, error) {
	raw, err := s.kv.Get(ctx, opKey(bankID, opID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", opID, ErrOperationNotFound)
	}
	if err != nil {
		return nil, err
	}
	var op AsyncOperation
	if err := decode(raw, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// SetOperationStatus transitions an operation's status, optionally
// recording an error message (spec.md §4.6 step 8, §7 TransientIO policy).
func (s *Store) SetOperationStatus(ctx context.Context, bankID, opID string, status OperationStatus, errMsg string) error {
	op, err := s.GetOperation(ctx, bankID, opID)
	if errors.Is(err, ErrOperationNotFound) {
		return nil // already cancelled (row deleted)
	}
	if err != nil {
		return err
	}
	op.Status = status
	op.ErrorMessage = errMsg
	return s.putOperation(ctx, op)
}

// ListOperations returns every operation in a bank.
func (s *Store) ListOperations(ctx context.Context, bankID string) ([]*AsyncOperation, error) {
	var out []*AsyncOperation
	for entry, err := range s.kv.List(ctx, opPrefix(bankID)) {
		if err != nil {
			return nil, err
		}
		var op AsyncOperation
		if err := decode(entry.Value, &op); err != nil {
			return nil, err
		}
		out = append(out, &op)
	}
	return out, nil
}

// CancelOperation implements spec.md §4.9's cancellation model: deleting
// the async_operations row. A worker that later tries to execute this
// task will find the row missing via GetOperation and skip it.
func (s *Store) CancelOperation(ctx context.Context, bankID, opID string) error {
	return s.kv.Delete(ctx, opKey(bankID, opID))
}
