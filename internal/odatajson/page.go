// Package odatajson decodes paged OData response envelopes
// ({"value": [...], "@odata.count": N, "@odata.nextLink": "..."}) using a
// fast token reader instead of fully unmarshaling into an intermediate
// generic structure, then lets the caller unmarshal each element into its
// own typed shape.
package odatajson

import (
	"encoding/json"

	"github.com/go-faster/jx"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// Page is a decoded OData collection response: the raw JSON of each element
// of "value", plus the optional count and next-link the caller uses for
// draining server-side paging.
type Page struct {
	RawItems [][]byte
	Count    *int64
	NextLink string
}

// DecodePage walks body's top-level object with a jx.Decoder, capturing the
// raw bytes of every "value" array element without unmarshaling them (the
// caller decides the target type per entity/enumeration/action shape).
func DecodePage(body []byte) (Page, error) {
	var page Page
	d := jx.DecodeBytes(body)

	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "value":
			return d.Arr(func(d *jx.Decoder) error {
				raw, err := d.Raw()
				if err != nil {
					return err
				}
				cp := make([]byte, len(raw))
				copy(cp, raw)
				page.RawItems = append(page.RawItems, cp)
				return nil
			})
		case "@odata.count":
			n, err := d.Int64()
			if err != nil {
				return err
			}
			page.Count = &n
			return nil
		case "@odata.nextLink":
			s, err := d.Str()
			if err != nil {
				return err
			}
			page.NextLink = s
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.ErrorTypeMetadataFetch, "failed to decode OData page envelope")
	}
	return page, nil
}

// DecodeItems is DecodePage followed by json.Unmarshal of each raw element
// into T. Kept as a plain function (not a generic method) so callers that
// only need the envelope can skip the per-item unmarshal cost.
func DecodeItems[T any](body []byte) ([]T, Page, error) {
	page, err := DecodePage(body)
	if err != nil {
		return nil, Page{}, err
	}
	items := make([]T, 0, len(page.RawItems))
	for _, raw := range page.RawItems {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, Page{}, apperrors.Wrap(err, apperrors.ErrorTypeMetadataFetch, "failed to decode OData item")
		}
		items = append(items, v)
	}
	return items, page, nil
}
