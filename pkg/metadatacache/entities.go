package metadatacache

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/d365fo/d365fo-client-go/internal/dberrors"
	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
)

// StoreDataEntities deletes any pre-existing rows for globalVersionID and
// bulk-inserts entities — a replace, never a union.
func (s *Store) StoreDataEntities(ctx context.Context, globalVersionID string, entities []metadata.DataEntity) error {
	return s.withTx(ctx, "store_data_entities", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM data_entity WHERE global_version_id = ?`, globalVersionID); err != nil {
			return err
		}
		for _, e := range entities {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO data_entity (global_version_id, name, public_entity_name, public_collection_name, entity_category, data_service_enabled, data_management_enabled, is_read_only, label_id, label_text)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				globalVersionID, e.Name, e.PublicEntityName, e.PublicCollectionName, string(e.EntityCategory),
				e.DataServiceEnabled, e.DataManagementEnabled, e.IsReadOnly, e.LabelID, e.LabelText); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDataEntities implements the get_data_entities read contract.
// globalVersionID is optional (empty means "across all versions").
func (s *Store) GetDataEntities(ctx context.Context, globalVersionID string, filter metadata.DataEntityFilter) ([]metadata.DataEntity, error) {
	query := `SELECT global_version_id, name, public_entity_name, public_collection_name, entity_category, data_service_enabled, data_management_enabled, is_read_only, label_id, label_text FROM data_entity WHERE 1=1`
	var args []any

	if globalVersionID != "" {
		query += ` AND global_version_id = ?`
		args = append(args, globalVersionID)
	}
	if filter.EntityCategory != "" {
		query += ` AND entity_category = ?`
		args = append(args, string(filter.EntityCategory))
	}
	if filter.DataServiceEnabled != nil {
		query += ` AND data_service_enabled = ?`
		args = append(args, *filter.DataServiceEnabled)
	}
	if filter.DataManagementEnabled != nil {
		query += ` AND data_management_enabled = ?`
		args = append(args, *filter.DataManagementEnabled)
	}
	if filter.IsReadOnly != nil {
		query += ` AND is_read_only = ?`
		args = append(args, *filter.IsReadOnly)
	}
	if filter.NameContains != "" {
		query += ` AND name LIKE ?`
		args = append(args, "%"+filter.NameContains+"%")
	}

	var rows []metadata.DataEntity
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.NewDatabaseError("get_data_entities", err)
	}
	return rows, nil
}

// StorePublicEntitySchema upserts entity and wipes/rewrites its properties,
// navigation properties (with constraints), property groups (with member
// lists), and actions (with parameters).
func (s *Store) StorePublicEntitySchema(ctx context.Context, globalVersionID string, entity *metadata.PublicEntity) error {
	return s.withTx(ctx, "store_public_entity_schema", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO public_entity (global_version_id, name, entity_set_name, label_id, label_text, is_read_only, configuration_enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (global_version_id, name) DO UPDATE SET
				entity_set_name = excluded.entity_set_name,
				label_id = excluded.label_id,
				label_text = excluded.label_text,
				is_read_only = excluded.is_read_only,
				configuration_enabled = excluded.configuration_enabled`,
			globalVersionID, entity.Name, entity.EntitySetName, entity.LabelID, entity.LabelText, entity.IsReadOnly, entity.ConfigurationEnabled); err != nil {
			return err
		}

		for _, stmt := range []string{
			`DELETE FROM property WHERE global_version_id = ? AND entity_name = ?`,
			`DELETE FROM navigation_property WHERE global_version_id = ? AND entity_name = ?`,
			`DELETE FROM property_group WHERE global_version_id = ? AND entity_name = ?`,
			`DELETE FROM action WHERE global_version_id = ? AND entity_name = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, globalVersionID, entity.Name); err != nil {
				return err
			}
		}

		for _, p := range entity.Properties {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO property (global_version_id, entity_name, name, type_name, data_type, is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create, is_dimension, dimension_relation, property_order, label_id, label_text)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				globalVersionID, entity.Name, p.Name, p.TypeName, string(p.DataType), p.IsKey, p.IsMandatory,
				p.ConfigurationEnabled, p.AllowEdit, p.AllowEditOnCreate, p.IsDimension, p.DimensionRelation,
				p.PropertyOrder, p.LabelID, p.LabelText); err != nil {
				return err
			}
		}

		for _, n := range entity.NavigationProperties {
			constraintsJSON, err := json.Marshal(n.Constraints)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO navigation_property (global_version_id, entity_name, name, related_entity, cardinality, constraints_json)
				VALUES (?, ?, ?, ?, ?, ?)`,
				globalVersionID, entity.Name, n.Name, n.RelatedEntity, string(n.Cardinality), string(constraintsJSON)); err != nil {
				return err
			}
		}

		for _, g := range entity.PropertyGroups {
			propsJSON, err := json.Marshal(g.Properties)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO property_group (global_version_id, entity_name, name, properties_json)
				VALUES (?, ?, ?, ?)`,
				globalVersionID, entity.Name, g.Name, string(propsJSON)); err != nil {
				return err
			}
		}

		for _, a := range entity.Actions {
			paramsJSON, err := json.Marshal(a.Parameters)
			if err != nil {
				return err
			}
			var returnTypeJSON []byte
			if a.ReturnType != nil {
				returnTypeJSON, err = json.Marshal(a.ReturnType)
				if err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO action (global_version_id, entity_name, name, binding_kind, owning_entity_name, parameters_json, return_type_json)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				globalVersionID, entity.Name, a.Name, string(a.BindingKind), a.OwningEntityName, string(paramsJSON), nullableString(returnTypeJSON)); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetPublicEntitySchema fetches the full schema for name at
// globalVersionID (or, if globalVersionID is empty, the most recently
// seen version carrying that entity).
func (s *Store) GetPublicEntitySchema(ctx context.Context, name, globalVersionID string) (*metadata.PublicEntity, bool, error) {
	var entity metadata.PublicEntity
	query := `SELECT global_version_id, name, entity_set_name, label_id, label_text, is_read_only, configuration_enabled FROM public_entity WHERE name = ?`
	args := []any{name}
	if globalVersionID != "" {
		query += ` AND global_version_id = ?`
		args = append(args, globalVersionID)
	}
	query += ` ORDER BY global_version_id DESC LIMIT 1`

	if err := s.db.GetContext(ctx, &entity, query, args...); err != nil {
		if dberrors.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewDatabaseError("get_public_entity_schema", err)
	}

	if err := s.loadEntityChildren(ctx, &entity); err != nil {
		return nil, false, apperrors.NewDatabaseError("get_public_entity_schema", err)
	}
	return &entity, true, nil
}

// Schema implements pkg/crud.SchemaProvider, keyed by OData entity set name
// rather than the PublicEntity's own Name.
func (s *Store) Schema(ctx context.Context, entitySet string) (*metadata.PublicEntity, bool) {
	var entity metadata.PublicEntity
	err := s.db.GetContext(ctx, &entity, `
		SELECT global_version_id, name, entity_set_name, label_id, label_text, is_read_only, configuration_enabled
		FROM public_entity WHERE entity_set_name = ? ORDER BY global_version_id DESC LIMIT 1`, entitySet)
	if err != nil {
		return nil, false
	}
	if err := s.loadEntityChildren(ctx, &entity); err != nil {
		return nil, false
	}
	return &entity, true
}

func (s *Store) loadEntityChildren(ctx context.Context, entity *metadata.PublicEntity) error {
	if err := s.db.SelectContext(ctx, &entity.Properties, `
		SELECT name, type_name, data_type, is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create, is_dimension, dimension_relation, property_order, label_id, label_text
		FROM property WHERE global_version_id = ? AND entity_name = ? ORDER BY property_order`, entity.GlobalVersionID, entity.Name); err != nil {
		return err
	}

	var navRows []struct {
		Name            string `db:"name"`
		RelatedEntity   string `db:"related_entity"`
		Cardinality     string `db:"cardinality"`
		ConstraintsJSON string `db:"constraints_json"`
	}
	if err := s.db.SelectContext(ctx, &navRows, `
		SELECT name, related_entity, cardinality, constraints_json
		FROM navigation_property WHERE global_version_id = ? AND entity_name = ?`, entity.GlobalVersionID, entity.Name); err != nil {
		return err
	}
	for _, r := range navRows {
		var constraints []metadata.NavigationConstraint
		if err := json.Unmarshal([]byte(r.ConstraintsJSON), &constraints); err != nil {
			return err
		}
		entity.NavigationProperties = append(entity.NavigationProperties, metadata.NavigationProperty{
			Name:          r.Name,
			RelatedEntity: r.RelatedEntity,
			Cardinality:   metadata.Cardinality(r.Cardinality),
			Constraints:   constraints,
		})
	}

	var groupRows []struct {
		Name           string `db:"name"`
		PropertiesJSON string `db:"properties_json"`
	}
	if err := s.db.SelectContext(ctx, &groupRows, `
		SELECT name, properties_json FROM property_group WHERE global_version_id = ? AND entity_name = ?`, entity.GlobalVersionID, entity.Name); err != nil {
		return err
	}
	for _, r := range groupRows {
		var props []string
		if err := json.Unmarshal([]byte(r.PropertiesJSON), &props); err != nil {
			return err
		}
		entity.PropertyGroups = append(entity.PropertyGroups, metadata.PropertyGroup{Name: r.Name, Properties: props})
	}

	var actionRows []struct {
		Name             string         `db:"name"`
		BindingKind      string         `db:"binding_kind"`
		OwningEntityName string         `db:"owning_entity_name"`
		ParametersJSON   string         `db:"parameters_json"`
		ReturnTypeJSON   sql.NullString `db:"return_type_json"`
	}
	if err := s.db.SelectContext(ctx, &actionRows, `
		SELECT name, binding_kind, owning_entity_name, parameters_json, return_type_json
		FROM action WHERE global_version_id = ? AND entity_name = ?`, entity.GlobalVersionID, entity.Name); err != nil {
		return err
	}
	for _, r := range actionRows {
		var params []metadata.ActionParameter
		if err := json.Unmarshal([]byte(r.ParametersJSON), &params); err != nil {
			return err
		}
		action := metadata.Action{
			Name:             r.Name,
			BindingKind:      metadata.BindingKind(r.BindingKind),
			OwningEntityName: r.OwningEntityName,
			Parameters:       params,
		}
		if r.ReturnTypeJSON.Valid && r.ReturnTypeJSON.String != "" {
			var rt metadata.ActionParameterType
			if err := json.Unmarshal([]byte(r.ReturnTypeJSON.String), &rt); err != nil {
				return err
			}
			action.ReturnType = &rt
		}
		entity.Actions = append(entity.Actions, action)
	}

	return nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
