package metadatacache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/itchyny/gojq"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// ftsTables lists the three entity_type FTS5 virtual tables and the base
// table each is projected from.
var ftsTables = map[string]string{
	"data_entity":   "fts_data_entity",
	"public_entity": "fts_public_entity",
	"enumeration":   "fts_enumeration",
}

// ftsSchemaColumns is the column set every fts_* table is expected to
// carry. Its checksum is compared against the live schema at Open time;
// a mismatch means the sqlite file predates a column-set change in this
// binary, and the content-less tables are dropped and recreated rather
// than patched in place (FTS5 content-less tables cannot ALTER COLUMN).
const ftsSchemaColumns = "entity_set_name,global_version_id,labels,name,properties_text,actions_text"

// searchProjectionInput is the shape fed to searchTextQuery; it covers
// data entities, public entities (with properties/actions), and
// enumerations (whose members are projected as properties) uniformly.
type searchProjectionInput struct {
	Name          string        `json:"name"`
	EntitySetName string        `json:"entitySetName,omitempty"`
	LabelText     string        `json:"labelText,omitempty"`
	Properties    []labeledName `json:"properties,omitempty"`
	Actions       []labeledName `json:"actions,omitempty"`
}

type labeledName struct {
	Name      string `json:"name"`
	LabelText string `json:"labelText,omitempty"`
}

// searchTextQuery projects a searchProjectionInput down to the flat text
// fields the fts5 tables index.
var searchTextQuery = mustCompileJQ(`{
	name: (.name // ""),
	entitySetName: (.entitySetName // ""),
	labels: ([.labelText] + (.properties // [] | map(.labelText)) + (.actions // [] | map(.labelText))
		| map(select(. != null and . != "")) | join(" ")),
	propertiesText: (.properties // [] | map(.name) | join(" ")),
	actionsText: (.actions // [] | map(.name) | join(" "))
}`)

func mustCompileJQ(src string) *gojq.Code {
	query, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("metadatacache: invalid built-in jq query: %v", err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		panic(fmt.Sprintf("metadatacache: invalid built-in jq query: %v", err))
	}
	return code
}

func projectSearchText(input searchProjectionInput) (name, entitySetName, labels, propertiesText, actionsText string, err error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", "", "", "", "", err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", "", "", "", "", err
	}

	iter := searchTextQuery.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return "", "", "", "", "", fmt.Errorf("metadatacache: jq projection produced no output")
	}
	if jqErr, ok := v.(error); ok {
		return "", "", "", "", "", jqErr
	}
	projected, ok := v.(map[string]any)
	if !ok {
		return "", "", "", "", "", fmt.Errorf("metadatacache: jq projection returned %T, want object", v)
	}

	return asString(projected["name"]), asString(projected["entitySetName"]), asString(projected["labels"]),
		asString(projected["propertiesText"]), asString(projected["actionsText"]), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// ensureSearchSchema compares the live fts_public_entity column set against
// ftsSchemaColumns and, on drift, drops and recreates all three content-less
// FTS tables before reindexing every stored global version.
func (s *Store) ensureSearchSchema(ctx context.Context) error {
	var columns []struct {
		Name string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &columns, `PRAGMA table_info(fts_public_entity)`); err != nil {
		return apperrors.NewDatabaseError("ensure_search_schema", err)
	}

	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	expected := strings.Split(ftsSchemaColumns, ",")
	sort.Strings(expected)

	if xxhash.Sum64String(strings.Join(names, ",")) == xxhash.Sum64String(strings.Join(expected, ",")) {
		return nil
	}

	if err := s.withTx(ctx, "rebuild_fts_schema", func(tx *sqlx.Tx) error {
		for _, table := range ftsTables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
				return err
			}
		}
		for _, table := range ftsTables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
				CREATE VIRTUAL TABLE %s USING fts5(
					name, entity_set_name, labels, properties_text, actions_text,
					global_version_id UNINDEXED
				)`, table)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	var globalVersionIDs []string
	if err := s.db.SelectContext(ctx, &globalVersionIDs, `SELECT id FROM global_version`); err != nil {
		return apperrors.NewDatabaseError("ensure_search_schema", err)
	}
	for _, id := range globalVersionIDs {
		if err := s.IndexGlobalVersion(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// IndexGlobalVersion rebuilds the FTS rows for one global version across
// all three entity_type tables: existing rows for that version are deleted
// and every current data_entity/public_entity/enumeration row is
// reprojected and reinserted.
func (s *Store) IndexGlobalVersion(ctx context.Context, globalVersionID string) error {
	return s.withTx(ctx, "index_global_version", func(tx *sqlx.Tx) error {
		for _, table := range ftsTables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE global_version_id = ?`, table), globalVersionID); err != nil {
				return err
			}
		}

		var dataEntities []struct {
			Name          string `db:"name"`
			EntitySetName string `db:"public_entity_name"`
			LabelText     string `db:"label_text"`
		}
		if err := tx.SelectContext(ctx, &dataEntities, `
			SELECT name, public_entity_name, label_text FROM data_entity WHERE global_version_id = ?`, globalVersionID); err != nil {
			return err
		}
		for _, e := range dataEntities {
			if err := s.insertFTSRow(ctx, tx, "fts_data_entity", globalVersionID, searchProjectionInput{
				Name: e.Name, EntitySetName: e.EntitySetName, LabelText: e.LabelText,
			}); err != nil {
				return err
			}
		}

		var publicEntities []struct {
			Name          string `db:"name"`
			EntitySetName string `db:"entity_set_name"`
			LabelText     string `db:"label_text"`
		}
		if err := tx.SelectContext(ctx, &publicEntities, `
			SELECT name, entity_set_name, label_text FROM public_entity WHERE global_version_id = ?`, globalVersionID); err != nil {
			return err
		}
		for _, e := range publicEntities {
			var props []labeledName
			if err := tx.SelectContext(ctx, &props, `
				SELECT name, label_text FROM property WHERE global_version_id = ? AND entity_name = ?`, globalVersionID, e.Name); err != nil {
				return err
			}
			var actions []labeledName
			if err := tx.SelectContext(ctx, &actions, `
				SELECT name FROM action WHERE global_version_id = ? AND entity_name = ?`, globalVersionID, e.Name); err != nil {
				return err
			}
			if err := s.insertFTSRow(ctx, tx, "fts_public_entity", globalVersionID, searchProjectionInput{
				Name: e.Name, EntitySetName: e.EntitySetName, LabelText: e.LabelText,
				Properties: props, Actions: actions,
			}); err != nil {
				return err
			}
		}

		var enumerations []struct {
			Name      string `db:"name"`
			LabelText string `db:"label_text"`
		}
		if err := tx.SelectContext(ctx, &enumerations, `
			SELECT name, label_text FROM enumeration WHERE global_version_id = ?`, globalVersionID); err != nil {
			return err
		}
		for _, e := range enumerations {
			var members []labeledName
			if err := tx.SelectContext(ctx, &members, `
				SELECT name, label_text FROM enumeration_member WHERE global_version_id = ? AND enumeration_name = ?`, globalVersionID, e.Name); err != nil {
				return err
			}
			if err := s.insertFTSRow(ctx, tx, "fts_enumeration", globalVersionID, searchProjectionInput{
				Name: e.Name, LabelText: e.LabelText, Properties: members,
			}); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Store) insertFTSRow(ctx context.Context, tx *sqlx.Tx, table, globalVersionID string, input searchProjectionInput) error {
	name, entitySetName, labels, propertiesText, actionsText, err := projectSearchText(input)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, entity_set_name, labels, properties_text, actions_text, global_version_id)
		VALUES (?, ?, ?, ?, ?, ?)`, table),
		name, entitySetName, labels, propertiesText, actionsText, globalVersionID)
	return err
}

// SearchResult is one match from SearchMetadata.
type SearchResult struct {
	EntityType      string  `db:"entity_type"`
	Name            string  `db:"name"`
	EntitySetName   string  `db:"entity_set_name"`
	GlobalVersionID string  `db:"global_version_id"`
	Rank            float64 `db:"rank"`
}

// SearchMetadata runs an FTS5 MATCH query against the requested
// entityType ("data_entity", "public_entity", "enumeration", or "" for all
// three), ranked by bm25 and capped at limit.
func (s *Store) SearchMetadata(ctx context.Context, query, entityType string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	tables := ftsTables
	if entityType != "" {
		table, ok := ftsTables[entityType]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "unknown metadata entity type %q", entityType)
		}
		tables = map[string]string{entityType: table}
	}

	var results []SearchResult
	for kind, table := range tables {
		var rows []SearchResult
		stmt := fmt.Sprintf(`
			SELECT name, entity_set_name, global_version_id, bm25(%s) AS rank
			FROM %s WHERE %s MATCH ? ORDER BY rank LIMIT ?`, table, table, table)
		if err := s.db.SelectContext(ctx, &rows, stmt, query, limit); err != nil {
			return nil, apperrors.NewDatabaseError("search_metadata", err)
		}
		for i := range rows {
			rows[i].EntityType = kind
		}
		results = append(results, rows...)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Rank < results[j].Rank })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
