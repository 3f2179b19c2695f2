package labels

import "encoding/json"

func unmarshalJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
