package metadatacache

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/d365fo/d365fo-client-go/internal/dberrors"
	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// defaultLabelTTL is used for every row written through SetBatch.
// pkg/labels.Cache has no per-call ttl parameter (unlike the
// set_label(label_id, language, text, ttl) contract), so the store applies
// one fixed, generous expiry instead of threading a ttl argument through
// the interface — labels rarely change between releases and a 24h TTL
// keeps a stale cache from surviving more than a day past a relabel.
const defaultLabelTTL = 24 * time.Hour

// Get implements pkg/labels.Cache, returning found=false for a row that
// exists but has expired as well as for one that was never cached.
func (s *Store) Get(ctx context.Context, labelID, language string) (string, bool, error) {
	var row struct {
		Value     string `db:"value"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT value, expires_at FROM label_cache WHERE label_id = ? AND language = ?`, labelID, language)
	if err != nil {
		if dberrors.IsNoRows(err) {
			return "", false, nil
		}
		return "", false, apperrors.NewDatabaseError("get_label", err)
	}
	if row.ExpiresAt <= time.Now().Unix() {
		return "", false, nil
	}
	return row.Value, true, nil
}

// SetBatch implements pkg/labels.Cache, upserting every (labelID, text) pair
// at language with a fresh defaultLabelTTL.
func (s *Store) SetBatch(ctx context.Context, language string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	expiresAt := now.Add(defaultLabelTTL).Unix()

	return s.withTx(ctx, "set_labels_batch", func(tx *sqlx.Tx) error {
		for labelID, text := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO label_cache (label_id, language, value, cached_at, expires_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (label_id, language) DO UPDATE SET
					value = excluded.value,
					cached_at = excluded.cached_at,
					expires_at = excluded.expires_at`,
				labelID, language, text, now.Unix(), expiresAt); err != nil {
				return err
			}
		}
		return nil
	})
}
