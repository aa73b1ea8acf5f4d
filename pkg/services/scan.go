package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// encodeJSON marshals v for a TEXT/JSONB column, mapping nil to SQL NULL.
func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(data), nil
}

// decodeJSON unmarshals a nullable JSON column into v; NULL is a no-op.
func decodeJSON(col sql.NullString, v any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// stringOr returns the column value or "" for NULL.
func stringOr(col sql.NullString) string {
	if !col.Valid {
		return ""
	}
	return col.String
}
