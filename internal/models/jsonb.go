package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB maps a Postgres jsonb object column onto map[string]any.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("JSONB: unsupported scan type %T", value)
	}
	if len(b) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(b, j)
}

// MergeInto copies every key of j into dst without overwriting keys dst already has.
func (j JSONB) MergeInto(dst map[string]any) {
	for k, v := range j {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}
