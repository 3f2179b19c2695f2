// Package odata builds OData URLs and query strings for D365 F&O and
// serializes entity keys using the D365 XPP type system.
package odata

// QueryOptions are the recognized OData query parameters. Fields left at
// their zero value are omitted by BuildQueryString; Top/Skip use pointers
// so 0 is distinguishable from "unset".
type QueryOptions struct {
	Select  []string
	Filter  string
	Expand  []string
	OrderBy []string
	Top     *int
	Skip    *int
	Count   bool
	Search  string
}

// IntPtr is a small helper so callers can write odata.QueryOptions{Top: odata.IntPtr(10)}.
func IntPtr(v int) *int { return &v }
