package metadatacache

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// CopyMetadataFrom reuses sourceGlobalVersionID's cached data entities,
// public entities (with properties, navigation, property groups, actions),
// and enumerations for targetGlobalVersionID via INSERT...SELECT rather
// than re-fetching and re-decoding from the remote API. Sync uses this
// when two global versions share an identical sorted module set except for
// build metadata irrelevant to the catalog shape.
func (s *Store) CopyMetadataFrom(ctx context.Context, sourceGlobalVersionID, targetGlobalVersionID string) error {
	return s.withTx(ctx, "copy_metadata", func(tx *sqlx.Tx) error {
		copies := []struct {
			table   string
			columns string
		}{
			{"data_entity", "name, public_entity_name, public_collection_name, entity_category, data_service_enabled, data_management_enabled, is_read_only, label_id, label_text"},
			{"public_entity", "name, entity_set_name, label_id, label_text, is_read_only, configuration_enabled"},
			{"property", "entity_name, name, type_name, data_type, is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create, is_dimension, dimension_relation, property_order, label_id, label_text"},
			{"navigation_property", "entity_name, name, related_entity, cardinality, constraints_json"},
			{"property_group", "entity_name, name, properties_json"},
			{"action", "entity_name, name, binding_kind, owning_entity_name, parameters_json, return_type_json"},
			{"enumeration", "name, label_id, label_text"},
			{"enumeration_member", "enumeration_name, name, value, label_id, label_text, configuration_enabled, member_order"},
		}

		for _, c := range copies {
			stmt := "INSERT INTO " + c.table + " (global_version_id, " + c.columns + ") " +
				"SELECT ?, " + c.columns + " FROM " + c.table + " WHERE global_version_id = ?"
			if _, err := tx.ExecContext(ctx, stmt, targetGlobalVersionID, sourceGlobalVersionID); err != nil {
				return err
			}
		}
		return nil
	})
}
