package metadatacache

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/d365fo/d365fo-client-go/internal/dberrors"
	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// MetadataCounts summarizes how much was cached for a global version, used
// both to populate metadata_version and to report sync progress.
type MetadataCounts struct {
	EntityCount      int
	ActionCount      int
	EnumerationCount int
	LabelCount       int
}

// MarkSyncCompleted records sync_completed_at and the final counts for
// globalVersionID, making HasCompleteMetadata true from this point on.
func (s *Store) MarkSyncCompleted(ctx context.Context, globalVersionID string, counts MetadataCounts) error {
	now := time.Now()
	return s.withTx(ctx, "mark_sync_completed", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO metadata_version (global_version_id, sync_completed_at, entity_count, action_count, enumeration_count, label_count)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (global_version_id) DO UPDATE SET
				sync_completed_at = excluded.sync_completed_at,
				entity_count = excluded.entity_count,
				action_count = excluded.action_count,
				enumeration_count = excluded.enumeration_count,
				label_count = excluded.label_count`,
			globalVersionID, now, counts.EntityCount, counts.ActionCount, counts.EnumerationCount, counts.LabelCount)
		return err
	})
}

// HasCompleteMetadata reports whether globalVersionID finished a sync with
// at least one entity cached — sync_completed_at IS NOT NULL AND
// entity_count > 0. A global version that was only ever registered by the
// version detector (never synced) reports false.
func (s *Store) HasCompleteMetadata(ctx context.Context, globalVersionID string) (bool, error) {
	var row struct {
		SyncCompletedAt *time.Time `db:"sync_completed_at"`
		EntityCount     int        `db:"entity_count"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT sync_completed_at, entity_count FROM metadata_version WHERE global_version_id = ?`, globalVersionID)
	if err != nil {
		if dberrors.IsNoRows(err) {
			return false, nil
		}
		return false, apperrors.NewDatabaseError("has_complete_metadata", err)
	}
	return row.SyncCompletedAt != nil && row.EntityCount > 0, nil
}

// GetMetadataCounts returns the tallied counts mark_sync_completed recorded
// for globalVersionID. Used by the SharingMode sync path to report a
// session's result counts from the source version's own tally instead of
// recomputing them by walking the freshly copied rows.
func (s *Store) GetMetadataCounts(ctx context.Context, globalVersionID string) (MetadataCounts, error) {
	var row struct {
		EntityCount      int `db:"entity_count"`
		ActionCount      int `db:"action_count"`
		EnumerationCount int `db:"enumeration_count"`
		LabelCount       int `db:"label_count"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT entity_count, action_count, enumeration_count, label_count
		FROM metadata_version WHERE global_version_id = ?`, globalVersionID)
	if err != nil {
		if dberrors.IsNoRows(err) {
			return MetadataCounts{}, nil
		}
		return MetadataCounts{}, apperrors.NewDatabaseError("get_metadata_counts", err)
	}
	return MetadataCounts{
		EntityCount:      row.EntityCount,
		ActionCount:      row.ActionCount,
		EnumerationCount: row.EnumerationCount,
		LabelCount:       row.LabelCount,
	}, nil
}
