package database

import (
	"database/sql"
	"fmt"

	"stash-go/internal/database/sqlc"
	"stash-go/internal/model"
)

func directoryFromRow(d sqlc.Directory) *model.DirectoryEntry {
	return &model.DirectoryEntry{
		ID:        d.ID,
		Owner:     d.Owner,
		Name:      d.Name,
		ParentID:  d.ParentID.String,
		Path:      d.Path,
		CreatedAt: d.CreatedAt,
	}
}

func directoriesFromRows(rows []sqlc.Directory) []*model.DirectoryEntry {
	result := make([]*model.DirectoryEntry, len(rows))
	for i := range rows {
		result[i] = directoryFromRow(rows[i])
	}
	return result
}

func fileFromRow(f sqlc.File) (*model.FileEntry, error) {
	hash, err := model.ParseContentHash(f.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}
	return &model.FileEntry{
		ID:          f.ID,
		Owner:       f.Owner,
		DirectoryID: f.DirectoryID,
		Name:        f.Name,
		Hash:        hash,
		Size:        f.Size,
		CreatedAt:   f.CreatedAt,
	}, nil
}

func filesFromRows(rows []sqlc.File) ([]*model.FileEntry, error) {
	result := make([]*model.FileEntry, len(rows))
	for i := range rows {
		f, err := fileFromRow(rows[i])
		if err != nil {
			return nil, err
		}
		result[i] = f
	}
	return result, nil
}

func operationFromRow(o sqlc.Operation) *model.Operation {
	op := &model.Operation{
		ID:         o.ID,
		Operation:  o.Operation,
		Owner:      o.Owner,
		Parameters: o.Parameters,
		Status:     o.Status,
		StartedAt:  o.StartedAt,
	}
	if o.FinishedAt.Valid {
		t := o.FinishedAt.Time
		op.FinishedAt = &t
	}
	return op
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
