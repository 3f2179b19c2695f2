package metadata

import (
	"encoding/json"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// unmarshalInto decodes a single OData entity response (not a paged
// collection envelope) into v.
func unmarshalInto(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeMetadataFetch, "failed to decode metadata response")
	}
	return nil
}
