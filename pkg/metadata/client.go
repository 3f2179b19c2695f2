package metadata

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/d365fo/d365fo-client-go/internal/odatajson"
	"github.com/d365fo/d365fo-client-go/pkg/odata"
	"github.com/d365fo/d365fo-client-go/pkg/transport"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// pageSize bounds each $top when GetAllDataEntities/GetAllPublicEntitiesWithDetails/
// GetAllPublicEnumerationsWithDetails drain server-side paging with $skip/$top.
const pageSize = 1000

// Client hits the /Metadata sub-API and returns typed shapes, not raw JSON.
type Client struct {
	session *transport.Session
	baseURL string
}

// NewClient builds a metadata Client over an already-configured Session.
func NewClient(session *transport.Session, baseURL string) *Client {
	return &Client{session: session, baseURL: strings.TrimRight(baseURL, "/")}
}

// DataEntityFilter narrows GetDataEntities with server-side pushdown.
type DataEntityFilter struct {
	EntityCategory        EntityCategory
	DataServiceEnabled    *bool
	DataManagementEnabled *bool
	IsReadOnly            *bool
	NameContains          string
}

func (f DataEntityFilter) toODataFilter() string {
	var clauses []string
	if f.EntityCategory != "" {
		clauses = append(clauses, fmt.Sprintf("EntityCategory eq Microsoft.Dynamics.DataEntities.EntityCategory'%s'", f.EntityCategory))
	}
	if f.DataServiceEnabled != nil {
		clauses = append(clauses, fmt.Sprintf("DataServiceEnabled eq %t", *f.DataServiceEnabled))
	}
	if f.DataManagementEnabled != nil {
		clauses = append(clauses, fmt.Sprintf("DataManagementEnabled eq %t", *f.DataManagementEnabled))
	}
	if f.IsReadOnly != nil {
		clauses = append(clauses, fmt.Sprintf("IsReadOnly eq %t", *f.IsReadOnly))
	}
	if f.NameContains != "" {
		clauses = append(clauses, fmt.Sprintf("contains(tolower(Name), '%s')", strings.ToLower(f.NameContains)))
	}
	return strings.Join(clauses, " and ")
}

func (c *Client) get(ctx context.Context, path string, opts *odata.QueryOptions) ([]byte, error) {
	url := c.baseURL + path + odata.BuildQueryString(opts)
	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewMetadataFetchError(resp.StatusCode, string(resp.Body))
	}
	return resp.Body, nil
}

// GetDataEntities fetches one page of /Metadata/DataEntities, with
// server-side filter pushdown for EntityCategory, DataServiceEnabled,
// DataManagementEnabled, IsReadOnly and a name-substring filter.
func (c *Client) GetDataEntities(ctx context.Context, filter DataEntityFilter, opts *odata.QueryOptions) ([]DataEntity, error) {
	if opts == nil {
		opts = &odata.QueryOptions{}
	}
	if f := filter.toODataFilter(); f != "" {
		opts.Filter = mergeFilter(opts.Filter, f)
	}
	body, err := c.get(ctx, "/Metadata/DataEntities", opts)
	if err != nil {
		return nil, err
	}
	items, _, err := odatajson.DecodeItems[DataEntity](body)
	return items, err
}

// GetAllDataEntities bypasses server-side paging by iterating $skip/$top
// until the server returns a short (or empty) page.
func (c *Client) GetAllDataEntities(ctx context.Context) ([]DataEntity, error) {
	var all []DataEntity
	skip := 0
	for {
		opts := &odata.QueryOptions{Top: odata.IntPtr(pageSize), Skip: odata.IntPtr(skip)}
		page, err := c.GetDataEntities(ctx, DataEntityFilter{}, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}
	return all, nil
}

// GetPublicEntities fetches one page of the unexpanded
// /Metadata/PublicEntities summary rows.
func (c *Client) GetPublicEntities(ctx context.Context, opts *odata.QueryOptions) ([]PublicEntitySummary, error) {
	body, err := c.get(ctx, "/Metadata/PublicEntities", opts)
	if err != nil {
		return nil, err
	}
	items, _, err := odatajson.DecodeItems[PublicEntitySummary](body)
	return items, err
}

// GetPublicEntityInfo fetches the fully expanded schema for one entity:
// properties, navigation properties with constraints, property groups, and
// actions with parameters and return types. Returns (nil, nil) on 404 — the
// entity simply doesn't exist, which is a normal/expected outcome during
// schema discovery, not a MetadataFetchFailed.
func (c *Client) GetPublicEntityInfo(ctx context.Context, name string) (*PublicEntity, error) {
	opts := &odata.QueryOptions{Expand: []string{"Properties", "PropertyGroups", "NavigationProperties", "Actions"}}
	url := fmt.Sprintf("%s/Metadata/PublicEntities('%s')%s", c.baseURL, name, odata.BuildQueryString(opts))
	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewMetadataFetchError(resp.StatusCode, string(resp.Body))
	}

	var entity PublicEntity
	if err := unmarshalInto(resp.Body, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetAllPublicEntitiesWithDetails fetches every public entity's full
// detail in a single pass (one summary-page drain, then one
// GetPublicEntityInfo call per entity), the pattern a full sync uses.
func (c *Client) GetAllPublicEntitiesWithDetails(ctx context.Context) ([]PublicEntity, error) {
	var summaries []PublicEntitySummary
	skip := 0
	for {
		page, err := c.GetPublicEntities(ctx, &odata.QueryOptions{Top: odata.IntPtr(pageSize), Skip: odata.IntPtr(skip)})
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, page...)
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}

	entities := make([]PublicEntity, 0, len(summaries))
	for _, s := range summaries {
		detail, err := c.GetPublicEntityInfo(ctx, s.Name)
		if err != nil {
			return nil, err
		}
		if detail != nil {
			entities = append(entities, *detail)
		}
	}
	return entities, nil
}

// GetPublicEnumerations fetches one page of unexpanded enumeration summaries.
func (c *Client) GetPublicEnumerations(ctx context.Context, opts *odata.QueryOptions) ([]EnumerationSummary, error) {
	body, err := c.get(ctx, "/Metadata/PublicEnumerations", opts)
	if err != nil {
		return nil, err
	}
	items, _, err := odatajson.DecodeItems[EnumerationSummary](body)
	return items, err
}

// GetPublicEnumerationInfo fetches one enumeration with its members
// expanded. Returns (nil, nil) on 404.
func (c *Client) GetPublicEnumerationInfo(ctx context.Context, name string) (*Enumeration, error) {
	opts := &odata.QueryOptions{Expand: []string{"Members"}}
	url := fmt.Sprintf("%s/Metadata/PublicEnumerations('%s')%s", c.baseURL, name, odata.BuildQueryString(opts))
	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewMetadataFetchError(resp.StatusCode, string(resp.Body))
	}

	var enum Enumeration
	if err := unmarshalInto(resp.Body, &enum); err != nil {
		return nil, err
	}
	return &enum, nil
}

// GetAllPublicEnumerationsWithDetails fetches every enumeration's full
// member list in a single pass.
func (c *Client) GetAllPublicEnumerationsWithDetails(ctx context.Context) ([]Enumeration, error) {
	var summaries []EnumerationSummary
	skip := 0
	for {
		page, err := c.GetPublicEnumerations(ctx, &odata.QueryOptions{Top: odata.IntPtr(pageSize), Skip: odata.IntPtr(skip)})
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, page...)
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}

	enums := make([]Enumeration, 0, len(summaries))
	for _, s := range summaries {
		detail, err := c.GetPublicEnumerationInfo(ctx, s.Name)
		if err != nil {
			return nil, err
		}
		if detail != nil {
			enums = append(enums, *detail)
		}
	}
	return enums, nil
}

func mergeFilter(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + " and " + addition
}
