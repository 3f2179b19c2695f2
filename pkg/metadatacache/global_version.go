package metadatacache

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

// UpsertGlobalVersion implements version.Store.
func (s *Store) UpsertGlobalVersion(ctx context.Context, hash, applicationVersion, platformVersion string, modules []version.ModuleVersion) (version.GlobalVersion, bool, error) {
	var result version.GlobalVersion
	var isNew bool

	err := s.withTx(ctx, "upsert_global_version", func(tx *sqlx.Tx) error {
		var existingID string
		err := tx.GetContext(ctx, &existingID, `SELECT id FROM global_version WHERE version_hash = ?`, hash)
		switch {
		case err == nil:
			now := time.Now()
			if _, err := tx.ExecContext(ctx, `
				UPDATE global_version
				SET reference_count = reference_count + 1, last_seen_at = ?
				WHERE id = ?`, now, existingID); err != nil {
				return err
			}
			if err := tx.GetContext(ctx, &result, `SELECT * FROM global_version WHERE id = ?`, existingID); err != nil {
				return err
			}
			result.Modules, err = modulesForVersion(ctx, tx, existingID)
			return err

		case err == sql.ErrNoRows:
			isNew = true
			now := time.Now()
			id := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO global_version (id, version_hash, application_version, platform_version, reference_count, first_seen_at, last_seen_at)
				VALUES (?, ?, ?, ?, 1, ?, ?)`, id, hash, applicationVersion, platformVersion, now, now); err != nil {
				return err
			}
			for _, m := range modules {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO module_version (global_version_id, module_id, name, version, publisher, display_name)
					VALUES (?, ?, ?, ?, ?, ?)`, id, m.ModuleID, m.Name, m.Version, m.Publisher, m.DisplayName); err != nil {
					return err
				}
			}
			result = version.GlobalVersion{
				ID:                 id,
				VersionHash:        hash,
				ApplicationVersion: applicationVersion,
				PlatformVersion:    platformVersion,
				Modules:            modules,
				ReferenceCount:     1,
				FirstSeenAt:        now,
				LastSeenAt:         now,
			}
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return version.GlobalVersion{}, false, err
	}
	return result, isNew, nil
}

// LinkEnvironment implements version.Store.
func (s *Store) LinkEnvironment(ctx context.Context, environmentID, globalVersionID string) error {
	return s.withTx(ctx, "link_environment", func(tx *sqlx.Tx) error {
		var previous string
		err := tx.GetContext(ctx, &previous, `SELECT global_version_id FROM environment_version_link WHERE environment_id = ?`, environmentID)
		switch {
		case err == nil:
			if previous != globalVersionID {
				if _, err := tx.ExecContext(ctx, `UPDATE global_version SET reference_count = reference_count - 1 WHERE id = ?`, previous); err != nil {
					return err
				}
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE environment_version_link
				SET global_version_id = ?, last_sync_status = 'pending', linked_at = ?
				WHERE environment_id = ?`, globalVersionID, time.Now(), environmentID)
			return err

		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO environment_version_link (environment_id, global_version_id, last_sync_status, linked_at)
				VALUES (?, ?, 'pending', ?)`, environmentID, globalVersionID, time.Now())
			return err

		default:
			return err
		}
	})
}

// ListGlobalVersions implements version.Store.
func (s *Store) ListGlobalVersions(ctx context.Context) ([]version.GlobalVersion, error) {
	var rows []version.GlobalVersion
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM global_version`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_global_versions", err)
	}

	for i := range rows {
		modules, err := modulesForVersion(ctx, s.db, rows[i].ID)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list_global_versions", err)
		}
		rows[i].Modules = modules
	}
	return rows, nil
}

// UpdateSyncStatus implements version.Store.
func (s *Store) UpdateSyncStatus(ctx context.Context, environmentID, globalVersionID string, status version.LinkStatus, durationMs *int64) error {
	return s.withTx(ctx, "update_sync_status", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE environment_version_link
			SET last_sync_status = ?, last_sync_duration_ms = ?
			WHERE environment_id = ? AND global_version_id = ?`, string(status), durationMs, environmentID, globalVersionID)
		return err
	})
}

type sqlxQueryer interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func modulesForVersion(ctx context.Context, q sqlxQueryer, globalVersionID string) ([]version.ModuleVersion, error) {
	var modules []version.ModuleVersion
	err := q.SelectContext(ctx, &modules, `
		SELECT module_id, name, version, publisher, display_name
		FROM module_version WHERE global_version_id = ? ORDER BY module_id`, globalVersionID)
	return modules, err
}
