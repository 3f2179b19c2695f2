package metadatacache

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/d365fo/d365fo-client-go/internal/dberrors"
	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
)

// StoreEnumerations replaces every cached enumeration for globalVersionID
// with enumerations, members included.
func (s *Store) StoreEnumerations(ctx context.Context, globalVersionID string, enumerations []metadata.Enumeration) error {
	return s.withTx(ctx, "store_enumerations", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM enumeration WHERE global_version_id = ?`, globalVersionID); err != nil {
			return err
		}
		for _, e := range enumerations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO enumeration (global_version_id, name, label_id, label_text)
				VALUES (?, ?, ?, ?)`, globalVersionID, e.Name, e.LabelID, e.LabelText); err != nil {
				return err
			}
			for _, m := range e.Members {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO enumeration_member (global_version_id, enumeration_name, name, value, label_id, label_text, configuration_enabled, member_order)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					globalVersionID, e.Name, m.Name, m.Value, m.LabelID, m.LabelText, m.ConfigurationEnabled, m.MemberOrder); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetEnumerationInfo returns the full enumeration (with members, ordered by
// MemberOrder) for name at globalVersionID, or at the most recently seen
// version carrying it when globalVersionID is empty.
func (s *Store) GetEnumerationInfo(ctx context.Context, name, globalVersionID string) (*metadata.Enumeration, bool, error) {
	var enum metadata.Enumeration
	query := `SELECT global_version_id, name, label_id, label_text FROM enumeration WHERE name = ?`
	args := []any{name}
	if globalVersionID != "" {
		query += ` AND global_version_id = ?`
		args = append(args, globalVersionID)
	}
	query += ` ORDER BY global_version_id DESC LIMIT 1`

	if err := s.db.GetContext(ctx, &enum, query, args...); err != nil {
		if dberrors.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewDatabaseError("get_enumeration_info", err)
	}

	if err := s.db.SelectContext(ctx, &enum.Members, `
		SELECT name, value, label_id, label_text, configuration_enabled, member_order
		FROM enumeration_member WHERE global_version_id = ? AND enumeration_name = ? ORDER BY member_order`,
		enum.GlobalVersionID, enum.Name); err != nil {
		return nil, false, apperrors.NewDatabaseError("get_enumeration_info", err)
	}

	return &enum, true, nil
}
