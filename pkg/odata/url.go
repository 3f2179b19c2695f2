package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/d365fo/d365fo-client-go/pkg/metadata"
)

const actionNamespace = "Microsoft.Dynamics.DataEntities."

// BuildEntityURL composes "<base>/data/<entitySet>[(<key>)]", auto-injecting
// cross-company=true when the key carries dataAreaId (case-insensitively)
// or when addCrossCompany is forced true. schema, if given, supplies the
// key field order and per-field D365 type for composite keys.
func BuildEntityURL(base, entitySet string, key Key, schema *metadata.PublicEntity, addCrossCompany bool) (string, error) {
	root := fmt.Sprintf("%s/data/%s", strings.TrimRight(base, "/"), entitySet)
	if key.IsZero() {
		return root, nil
	}

	encoded, crossCompanyFromKey, err := encodeKey(key, schema)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s(%s)", root, encoded)
	if addCrossCompany || crossCompanyFromKey {
		u += "?cross-company=true"
	}
	return u, nil
}

// BuildActionURL composes the action invocation URL: unbound
// actions target "<base>/data/<qname>"; entity-set-bound actions target
// "<base>/data/<entitySet>/<qname>"; instance-bound actions target
// "<base>/data/<entitySet>(<key>)/<qname>". actionName is namespaced to
// Microsoft.Dynamics.DataEntities.<name> unless already fully qualified.
func BuildActionURL(base, actionName, entitySet string, key Key, schema *metadata.PublicEntity, addCrossCompany bool) (string, error) {
	root := strings.TrimRight(base, "/")
	qname := qualifyAction(actionName)

	if entitySet == "" {
		return fmt.Sprintf("%s/data%s", root, qname), nil
	}

	if key.IsZero() {
		return fmt.Sprintf("%s/data/%s%s", root, entitySet, qname), nil
	}

	encoded, crossCompanyFromKey, err := encodeKey(key, schema)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/data/%s(%s)%s", root, entitySet, encoded, qname)
	if addCrossCompany || crossCompanyFromKey {
		u += "?cross-company=true"
	}
	return u, nil
}

func qualifyAction(name string) string {
	trimmed := strings.TrimPrefix(name, "/")
	if strings.HasPrefix(trimmed, actionNamespace) {
		return "/" + trimmed
	}
	return "/" + actionNamespace + trimmed
}

// encodeKey renders a Key into its URL fragment (without parens) and
// reports whether dataAreaId was present in a composite key.
func encodeKey(key Key, schema *metadata.PublicEntity) (encoded string, crossCompany bool, err error) {
	if scalar, ok := key.Scalar(); ok {
		lit, err := SerializeValue(scalar, metadata.XppString, "Edm.String")
		if err != nil {
			return "", false, err
		}
		return lit, false, nil
	}

	encoded, err = FormatCompositeKey(key.Fields(), schema)
	if err != nil {
		return "", false, err
	}
	return encoded, key.HasDataAreaID(), nil
}

// BuildQueryString renders OData query options as "?k=v&...". Returns ""
// when options is nil or produces no parameters. Unknown/zero-value
// options are omitted.
func BuildQueryString(options *QueryOptions) string {
	params := BuildQueryParams(options)
	if len(params) == 0 {
		return ""
	}
	v := url.Values{}
	for _, p := range params {
		v.Set(p.Key, p.Value)
	}
	return "?" + v.Encode()
}

// QueryParam is one ordered OData query parameter.
type QueryParam struct {
	Key   string
	Value string
}

// BuildQueryParams converts options into the ordered list of OData query
// parameters, appending cross-company=true whenever the filter mentions
// dataareaid (case-insensitively).
func BuildQueryParams(options *QueryOptions) []QueryParam {
	if options == nil {
		return nil
	}

	var params []QueryParam
	if len(options.Select) > 0 {
		params = append(params, QueryParam{"$select", strings.Join(options.Select, ",")})
	}
	if options.Filter != "" {
		params = append(params, QueryParam{"$filter", options.Filter})
		if strings.Contains(strings.ToLower(options.Filter), "dataareaid") {
			params = append(params, QueryParam{"cross-company", "true"})
		}
	}
	if len(options.Expand) > 0 {
		params = append(params, QueryParam{"$expand", strings.Join(options.Expand, ",")})
	}
	if len(options.OrderBy) > 0 {
		params = append(params, QueryParam{"$orderby", strings.Join(options.OrderBy, ",")})
	}
	if options.Top != nil {
		params = append(params, QueryParam{"$top", strconv.Itoa(*options.Top)})
	}
	if options.Skip != nil {
		params = append(params, QueryParam{"$skip", strconv.Itoa(*options.Skip)})
	}
	if options.Count {
		params = append(params, QueryParam{"$count", "true"})
	}
	if options.Search != "" {
		params = append(params, QueryParam{"$search", options.Search})
	}
	return params
}

// MergeQueryStrings joins two query strings (each may or may not carry a
// leading '?') into one, with exactly one leading '?' if either side has
// content, else "".
func MergeQueryStrings(a, b string) string {
	a = strings.TrimPrefix(a, "?")
	b = strings.TrimPrefix(b, "?")

	switch {
	case a == "" && b == "":
		return ""
	case a == "":
		return "?" + b
	case b == "":
		return "?" + a
	default:
		return "?" + a + "&" + b
	}
}
