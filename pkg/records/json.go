// Package records persists feature records as an indented JSON list or in a
// SQLite catalogue.
package records

import (
	"encoding/json"
	"fmt"
	"os"

	"synapseqc/pkg/features"
)

// SaveJSON writes records to path as an indented JSON list.
func SaveJSON(path string, recs []*features.Record) error {
	if recs == nil {
		recs = []*features.Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write records file: %v", err)
	}
	return nil
}

// LoadJSON reads a record list written by SaveJSON.
func LoadJSON(path string) ([]*features.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	var recs []*features.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to parse records file %s: %v", path, err)
	}
	return recs, nil
}

// SaveValue writes any JSON-marshalable value to path, indented.
func SaveValue(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
