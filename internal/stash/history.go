package stash

import (
	"context"
	"fmt"

	"stash-go/internal/model"
)

// GetHistory returns the most recent mutating operations, ordered newest first.
func (s *StashService) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	ops, err := s.database.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
