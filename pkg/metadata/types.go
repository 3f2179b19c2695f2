// Package metadata defines the typed D365 F&O metadata catalog shapes
// (data entities, public entities, properties, navigation, actions,
// enumerations, labels) and the client that fetches them from the
// /Metadata sub-API.
package metadata

// EntityCategory classifies a data entity per the D365 metadata catalog.
type EntityCategory string

const (
	EntityCategoryMaster        EntityCategory = "Master"
	EntityCategoryConfiguration EntityCategory = "Configuration"
	EntityCategoryTransaction   EntityCategory = "Transaction"
	EntityCategoryReference     EntityCategory = "Reference"
	EntityCategoryDocument      EntityCategory = "Document"
	EntityCategoryParameters    EntityCategory = "Parameters"
)

// XppType is the D365 XPP data type of a property, distinct from its OData
// wire type (TypeName).
type XppType string

const (
	XppString      XppType = "String"
	XppInt32       XppType = "Int32"
	XppInt64       XppType = "Int64"
	XppReal        XppType = "Real"
	XppGuid        XppType = "Guid"
	XppDate        XppType = "Date"
	XppTime        XppType = "Time"
	XppUtcDateTime XppType = "UtcDateTime"
	XppEnum        XppType = "Enum"
	XppContainer   XppType = "Container"
	XppRecord      XppType = "Record"
	XppVoid        XppType = "Void"
)

// BindingKind classifies how an action is invoked.
type BindingKind string

const (
	BindingUnbound               BindingKind = "Unbound"
	BindingBoundToEntitySet      BindingKind = "BoundToEntitySet"
	BindingBoundToEntityInstance BindingKind = "BoundToEntityInstance"
)

// Cardinality of a navigation property.
type Cardinality string

const (
	CardinalitySingle   Cardinality = "Single"
	CardinalityMultiple Cardinality = "Multiple"
)

// DataEntity is a row from /Metadata/DataEntities.
type DataEntity struct {
	GlobalVersionID     string         `db:"global_version_id" json:"globalVersionId"`
	Name                string         `db:"name" json:"name"`
	PublicEntityName    string         `db:"public_entity_name" json:"publicEntityName"`
	PublicCollectionName string        `db:"public_collection_name" json:"publicCollectionName"`
	EntityCategory      EntityCategory `db:"entity_category" json:"entityCategory"`
	DataServiceEnabled  bool           `db:"data_service_enabled" json:"dataServiceEnabled"`
	DataManagementEnabled bool         `db:"data_management_enabled" json:"dataManagementEnabled"`
	IsReadOnly          bool           `db:"is_read_only" json:"isReadOnly"`
	LabelID             string         `db:"label_id" json:"labelId"`
	LabelText           string         `db:"label_text" json:"labelText"`
}

// Property describes one field of a PublicEntity.
type Property struct {
	Name               string  `db:"name" json:"name"`
	TypeName           string  `db:"type_name" json:"typeName"`
	DataType           XppType `db:"data_type" json:"dataType"`
	IsKey              bool    `db:"is_key" json:"isKey"`
	IsMandatory        bool    `db:"is_mandatory" json:"isMandatory"`
	ConfigurationEnabled bool  `db:"configuration_enabled" json:"configurationEnabled"`
	AllowEdit          bool    `db:"allow_edit" json:"allowEdit"`
	AllowEditOnCreate  bool    `db:"allow_edit_on_create" json:"allowEditOnCreate"`
	IsDimension        bool    `db:"is_dimension" json:"isDimension"`
	DimensionRelation  string  `db:"dimension_relation" json:"dimensionRelation,omitempty"`
	PropertyOrder      int     `db:"property_order" json:"propertyOrder"`
	LabelID            string  `db:"label_id" json:"labelId,omitempty"`
	LabelText          string  `db:"label_text" json:"labelText,omitempty"`
}

// ConstraintKind is a closed tagged union of navigation-property constraint
// variants: Referential, Fixed, RelatedFixed.
type ConstraintKind string

const (
	ConstraintReferential ConstraintKind = "Referential"
	ConstraintFixed       ConstraintKind = "Fixed"
	ConstraintRelatedFixed ConstraintKind = "RelatedFixed"
)

// NavigationConstraint is a tagged union; only the fields relevant to Kind
// are populated.
type NavigationConstraint struct {
	Kind ConstraintKind `json:"kind"`

	// Referential
	Property           string `json:"property,omitempty"`
	ReferencedProperty string `json:"referencedProperty,omitempty"`

	// Fixed / RelatedFixed
	RelatedProperty string `json:"relatedProperty,omitempty"`
	Value           string `json:"value,omitempty"`
	ValueStr        string `json:"valueStr,omitempty"`
}

// NavigationProperty describes a relation to another entity.
type NavigationProperty struct {
	Name          string                 `json:"name"`
	RelatedEntity string                 `json:"relatedEntity"`
	Cardinality   Cardinality            `json:"cardinality"`
	Constraints   []NavigationConstraint `json:"constraints"`
}

// PropertyGroup is a named subset of an entity's properties.
type PropertyGroup struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
}

// ActionParameterType describes an action parameter's OData/XPP type.
type ActionParameterType struct {
	TypeName     string `json:"typeName"`
	IsCollection bool   `json:"isCollection"`
	ODataXppType string `json:"odataXppType,omitempty"`
}

// ActionParameter is one parameter of an Action.
type ActionParameter struct {
	Name           string              `json:"name"`
	Type           ActionParameterType `json:"type"`
	ParameterOrder int                 `json:"parameterOrder"`
}

// Action describes a server-side operation callable via OData.
type Action struct {
	Name            string              `json:"name"`
	BindingKind     BindingKind         `json:"bindingKind"`
	OwningEntityName string             `json:"owningEntityName,omitempty"`
	Parameters      []ActionParameter   `json:"parameters"`
	ReturnType      *ActionParameterType `json:"returnType,omitempty"`
	FieldLookup     any                 `json:"fieldLookup,omitempty"`
}

// PublicEntity is the full schema for an entity exposed via OData, as
// returned (expanded) by /Metadata/PublicEntities('Name').
//
// Property order is significant: key fields are encoded in PropertyOrder
// order by the URL builder when no explicit caller order is given.
type PublicEntity struct {
	GlobalVersionID      string               `db:"global_version_id" json:"globalVersionId"`
	Name                 string               `db:"name" json:"name"`
	EntitySetName        string               `db:"entity_set_name" json:"entitySetName"`
	LabelID              string               `db:"label_id" json:"labelId,omitempty"`
	LabelText            string               `db:"label_text" json:"labelText,omitempty"`
	IsReadOnly           bool                 `db:"is_read_only" json:"isReadOnly"`
	ConfigurationEnabled bool                 `db:"configuration_enabled" json:"configurationEnabled"`
	Properties           []Property           `json:"properties"`
	NavigationProperties []NavigationProperty `json:"navigationProperties"`
	PropertyGroups       []PropertyGroup      `json:"propertyGroups"`
	Actions              []Action             `json:"actions"`
}

// KeyProperties returns the entity's key fields ordered by PropertyOrder,
// ascending — the order the URL builder uses for composite keys.
func (e *PublicEntity) KeyProperties() []Property {
	var keys []Property
	for _, p := range e.Properties {
		if p.IsKey {
			keys = append(keys, p)
		}
	}
	for i := 1; i < len(keys); i++ {
		j := i
		for j > 0 && keys[j-1].PropertyOrder > keys[j].PropertyOrder {
			keys[j-1], keys[j] = keys[j], keys[j-1]
			j--
		}
	}
	return keys
}

// PropertyByName looks up a property by name, case-sensitively (D365
// property names are case-sensitive identifiers).
func (e *PublicEntity) PropertyByName(name string) (Property, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// PublicEntitySummary is the unexpanded row shape from
// /Metadata/PublicEntities (no properties/navigation/actions); used by
// GetPublicEntities, which upper layers page through before fetching full
// detail for entities they actually need via GetPublicEntityInfo.
type PublicEntitySummary struct {
	Name                 string `json:"name"`
	EntitySetName        string `json:"entitySetName"`
	LabelID              string `json:"labelId,omitempty"`
	LabelText            string `json:"labelText,omitempty"`
	IsReadOnly           bool   `json:"isReadOnly"`
	ConfigurationEnabled bool   `json:"configurationEnabled"`
}

// EnumerationSummary is the unexpanded row shape from
// /Metadata/PublicEnumerations (no members).
type EnumerationSummary struct {
	Name      string `json:"name"`
	LabelID   string `json:"labelId,omitempty"`
	LabelText string `json:"labelText,omitempty"`
}

// EnumerationMember is one named value of an Enumeration.
type EnumerationMember struct {
	Name                 string `db:"name" json:"name"`
	Value                int32  `db:"value" json:"value"`
	LabelID              string `db:"label_id" json:"labelId,omitempty"`
	LabelText            string `db:"label_text" json:"labelText,omitempty"`
	ConfigurationEnabled bool   `db:"configuration_enabled" json:"configurationEnabled"`
	MemberOrder          int    `db:"member_order" json:"memberOrder"`
}

// Enumeration is a D365 public enumeration (enum type) with its members.
type Enumeration struct {
	GlobalVersionID string              `db:"global_version_id" json:"globalVersionId"`
	Name            string              `db:"name" json:"name"`
	LabelID         string              `db:"label_id" json:"labelId,omitempty"`
	LabelText       string              `db:"label_text" json:"labelText,omitempty"`
	Members         []EnumerationMember `json:"members"`
}

// LabelCacheRow is a single cached label resolution.
type LabelCacheRow struct {
	LabelID   string `db:"label_id"`
	Language  string `db:"language"`
	Value     string `db:"value"`
	CachedAt  int64  `db:"cached_at"`
	ExpiresAt int64  `db:"expires_at"`
}
