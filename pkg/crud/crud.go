// Package crud implements the public read/write entity operations
// (get/create/update/delete/call-action) against the D365 F&O OData API,
// consulting an optional cached schema for key encoding and pre-flight
// validation.
package crud

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/odata"
	"github.com/d365fo/d365fo-client-go/pkg/transport"
)

// SchemaProvider resolves the cached PublicEntity schema for an entity set,
// used for schema-aware key encoding and pre-flight validation. A nil
// SchemaProvider (or a miss) degrades gracefully: keys serialize fields as
// String in caller-supplied order, and no pre-flight checks run.
type SchemaProvider interface {
	Schema(ctx context.Context, entitySet string) (*metadata.PublicEntity, bool)
}

// CollectionResult is the raw shape of a collection response.
type CollectionResult struct {
	Value    []map[string]any
	Count    *int64
	NextLink string
}

// UpdateMethod selects whether UpdateEntity merges (PATCH) or replaces (PUT).
type UpdateMethod string

const (
	UpdatePatch UpdateMethod = http.MethodPatch
	UpdatePut   UpdateMethod = http.MethodPut
)

// Client implements the CRUD contract over an already-configured Session.
type Client struct {
	session *transport.Session
	baseURL string
	schemas SchemaProvider
}

// NewClient builds a CRUD Client. schemas may be nil.
func NewClient(session *transport.Session, baseURL string, schemas SchemaProvider) *Client {
	return &Client{session: session, baseURL: strings.TrimRight(baseURL, "/"), schemas: schemas}
}

func (c *Client) schemaFor(ctx context.Context, entitySet string) *metadata.PublicEntity {
	if c.schemas == nil {
		return nil
	}
	if s, ok := c.schemas.Schema(ctx, entitySet); ok {
		return s
	}
	return nil
}

// GetEntities lists entitySet with the given query options. If the
// response carries @odata.nextLink, the caller may re-issue it verbatim
// (e.g. by passing it straight to a raw GET) to continue paging.
func (c *Client) GetEntities(ctx context.Context, entitySet string, opts *odata.QueryOptions) (*CollectionResult, error) {
	schema := c.schemaFor(ctx, entitySet)
	url, err := odata.BuildEntityURL(c.baseURL, entitySet, odata.Key{}, schema, false)
	if err != nil {
		return nil, err
	}
	url += odata.BuildQueryString(opts)

	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewEntityError("get_entities:"+entitySet, resp.StatusCode, string(resp.Body))
	}

	var payload struct {
		Value    []map[string]any `json:"value"`
		Count    *int64           `json:"@odata.count"`
		NextLink string           `json:"@odata.nextLink"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeEntity, "failed to decode entity collection response")
	}
	return &CollectionResult{Value: payload.Value, Count: payload.Count, NextLink: payload.NextLink}, nil
}

// GetEntityByKey fetches one record by key. 404 is reported as NotFound.
func (c *Client) GetEntityByKey(ctx context.Context, entitySet string, key odata.Key, opts *odata.QueryOptions) (map[string]any, error) {
	schema := c.schemaFor(ctx, entitySet)
	if err := validateKey(key, schema); err != nil {
		return nil, err
	}

	url, err := odata.BuildEntityURL(c.baseURL, entitySet, key, schema, false)
	if err != nil {
		return nil, err
	}
	url += odata.BuildQueryString(opts)

	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewNotFoundError(entitySet)
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewEntityError("get_entity_by_key:"+entitySet, resp.StatusCode, string(resp.Body))
	}

	var record map[string]any
	if err := json.Unmarshal(resp.Body, &record); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeEntity, "failed to decode entity response")
	}
	return record, nil
}

// CreateEntity POSTs data to the collection URL. 409 is reported as
// Conflict; 400 as Validation with the server's structured body attached.
func (c *Client) CreateEntity(ctx context.Context, entitySet string, data map[string]any) (map[string]any, error) {
	schema := c.schemaFor(ctx, entitySet)
	if err := validateWritable(entitySet, schema); err != nil {
		return nil, err
	}

	url, err := odata.BuildEntityURL(c.baseURL, entitySet, odata.Key{}, schema, false)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "failed to encode entity payload")
	}

	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodPost, URL: url, Body: body})
	if err != nil {
		return nil, err
	}
	if err := classifyWriteStatus(resp.StatusCode, resp.Body); err != nil {
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal(resp.Body, &record); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeEntity, "failed to decode created entity response")
	}
	return record, nil
}

// UpdateEntity sends a PATCH (merge) or PUT (replace) to the entity's key
// URL. ifMatch, if non-empty, is sent as the If-Match header.
func (c *Client) UpdateEntity(ctx context.Context, entitySet string, key odata.Key, data map[string]any, method UpdateMethod, ifMatch string) (map[string]any, error) {
	schema := c.schemaFor(ctx, entitySet)
	if err := validateWritable(entitySet, schema); err != nil {
		return nil, err
	}
	if err := validateKey(key, schema); err != nil {
		return nil, err
	}

	url, err := odata.BuildEntityURL(c.baseURL, entitySet, key, schema, false)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "failed to encode entity payload")
	}

	headers := map[string]string{}
	if ifMatch != "" {
		headers["If-Match"] = ifMatch
	}

	resp, err := c.session.Do(ctx, transport.Request{Method: string(method), URL: url, Body: body, Headers: headers})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewNotFoundError(entitySet)
	}
	if err := classifyWriteStatus(resp.StatusCode, resp.Body); err != nil {
		return nil, err
	}

	if len(resp.Body) == 0 {
		return nil, nil
	}
	var record map[string]any
	if err := json.Unmarshal(resp.Body, &record); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeEntity, "failed to decode updated entity response")
	}
	return record, nil
}

// DeleteEntity deletes the record at key. 204 is success; 404 is NotFound.
func (c *Client) DeleteEntity(ctx context.Context, entitySet string, key odata.Key) error {
	schema := c.schemaFor(ctx, entitySet)
	if err := validateWritable(entitySet, schema); err != nil {
		return err
	}
	if err := validateKey(key, schema); err != nil {
		return err
	}

	url, err := odata.BuildEntityURL(c.baseURL, entitySet, key, schema, false)
	if err != nil {
		return err
	}

	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodDelete, URL: url})
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError(entitySet)
	default:
		return apperrors.NewEntityError("delete_entity:"+entitySet, resp.StatusCode, string(resp.Body))
	}
}

// CallAction POSTs params (as a JSON body) to the action URL, unbound,
// entity-set-bound, or instance-bound depending on whether entitySet/key
// are supplied. Return-type inspection is the caller's responsibility; the
// raw decoded JSON is returned.
func (c *Client) CallAction(ctx context.Context, actionName string, params map[string]any, entitySet string, key odata.Key) (any, error) {
	var schema *metadata.PublicEntity
	if entitySet != "" {
		schema = c.schemaFor(ctx, entitySet)
	}

	url, err := odata.BuildActionURL(c.baseURL, actionName, entitySet, key, schema, false)
	if err != nil {
		return nil, err
	}

	var body []byte
	if params != nil {
		body, err = json.Marshal(params)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "failed to encode action parameters")
		}
	}

	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodPost, URL: url, Body: body})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewActionError(actionName, resp.StatusCode, string(resp.Body))
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeAction, "failed to decode action response")
	}
	return result, nil
}

func validateWritable(entitySet string, schema *metadata.PublicEntity) error {
	if schema != nil && schema.IsReadOnly {
		return apperrors.NewReadOnlyEntityError(entitySet)
	}
	return nil
}

func validateKey(key odata.Key, schema *metadata.PublicEntity) error {
	if schema == nil || !key.IsComposite() {
		return nil
	}
	expected := len(schema.KeyProperties())
	if expected == 0 {
		return nil
	}
	got := len(key.Fields())
	if got != expected {
		return apperrors.NewKeyMismatchError(expected, got)
	}
	return nil
}

func classifyWriteStatus(status int, body []byte) error {
	switch {
	case status == http.StatusConflict:
		return apperrors.New(apperrors.ErrorTypeConflict, "entity write conflict").WithStatus(status, string(body))
	case status == http.StatusBadRequest:
		return apperrors.New(apperrors.ErrorTypeValidation, "entity write rejected").WithStatus(status, string(body))
	case status >= 400:
		return apperrors.New(apperrors.ErrorTypeEntity, "entity write failed").WithStatus(status, string(body))
	default:
		return nil
	}
}
