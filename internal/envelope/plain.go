package envelope

import (
	"encoding/json"
	"fmt"
)

// Marshal returns the plain form of v.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

// Unmarshal decodes the plain form in data into v.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}
