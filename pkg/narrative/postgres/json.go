package postgres

import (
	"encoding/json"
	"fmt"
)

// JSONB values cross the storage boundary as marshalled bytes; everywhere else
// the engine works with typed Go values. The helpers below keep that boundary
// in one place and normalise NULL/absent payloads to empty (non-nil) values.

// marshalJSONB marshals v for a JSONB column. A nil slice or map is stored as
// its empty JSON form rather than SQL NULL.
func marshalJSONB(what string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", what, err)
	}
	return b, nil
}

// unmarshalJSONB unmarshals a JSONB column value into v. NULL columns arrive
// as nil bytes and leave v untouched.
func unmarshalJSONB(what string, b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return nil
}

// emptyStrings normalises a nil string slice to an empty one.
func emptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
