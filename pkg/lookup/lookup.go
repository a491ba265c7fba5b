// Package lookup holds the static identity tables of the dataset: which
// external synapse ID each annotated synapse carries, and which
// neurotransmitter each synapse ID releases.
package lookup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Neurotransmitter types known to the dataset
const (
	GABA          = "gaba"
	Glutamate     = "glutamate"
	Acetylcholine = "acetylcholine"
)

// ErrUnknownSynapse is returned for identities missing from the tables.
var ErrUnknownSynapse = errors.New("unknown synapse")

// fileToIDsSchema describes file_to_ids.json: "<annotator>_<chunk>" -> list of IDs
const fileToIDsSchema = `
{ "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Synapse IDs of every annotated chunk",
  "type": "object",
  "propertyNames": { "pattern": "^[A-Za-z0-9]+_[0-9]+$" },
  "additionalProperties": {
    "type": "array",
    "items": { "type": "integer", "minimum": 0 }
  }
}
`

// idsToNTSchema describes ids_to_nt.json: "<synapse id>" -> neurotransmitter
const idsToNTSchema = `
{ "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Neurotransmitter of every synapse ID",
  "type": "object",
  "propertyNames": { "pattern": "^[0-9]+$" },
  "additionalProperties": {
    "enum": [ "gaba", "glutamate", "acetylcholine" ]
  }
}
`

var (
	fileToIDsValidator = jsonschema.MustCompileString("file_to_ids.json", fileToIDsSchema)
	idsToNTValidator   = jsonschema.MustCompileString("ids_to_nt.json", idsToNTSchema)
)

// Tables maps annotated synapses to their external identity. It is built once
// at start-up and shared read-only.
type Tables struct {
	fileToIDs map[string][]int64
	idsToNT   map[int64]string
}

// Load reads and validates both lookup files.
func Load(fileToIDsPath, idsToNTPath string) (*Tables, error) {
	fileToIDs, err := os.ReadFile(fileToIDsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read synapse ID table: %w", err)
	}
	idsToNT, err := os.ReadFile(idsToNTPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read neurotransmitter table: %w", err)
	}
	return Parse(fileToIDs, idsToNT)
}

// Parse validates and decodes the JSON contents of both lookup files.
func Parse(fileToIDs, idsToNT []byte) (*Tables, error) {
	if err := validate(fileToIDsValidator, fileToIDs); err != nil {
		return nil, fmt.Errorf("invalid synapse ID table: %w", err)
	}
	if err := validate(idsToNTValidator, idsToNT); err != nil {
		return nil, fmt.Errorf("invalid neurotransmitter table: %w", err)
	}

	t := &Tables{}
	if err := json.Unmarshal(fileToIDs, &t.fileToIDs); err != nil {
		return nil, fmt.Errorf("failed to decode synapse ID table: %w", err)
	}

	var byString map[string]string
	if err := json.Unmarshal(idsToNT, &byString); err != nil {
		return nil, fmt.Errorf("failed to decode neurotransmitter table: %w", err)
	}
	// JSON object keys are strings; the IDs are integers
	t.idsToNT = make(map[int64]string, len(byString))
	for k, v := range byString {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid synapse ID %q: %w", k, err)
		}
		t.idsToNT[id] = v
	}
	return t, nil
}

// New builds tables from in-memory maps. The maps are copied.
func New(fileToIDs map[string][]int64, idsToNT map[int64]string) *Tables {
	t := &Tables{
		fileToIDs: make(map[string][]int64, len(fileToIDs)),
		idsToNT:   make(map[int64]string, len(idsToNT)),
	}
	for k, v := range fileToIDs {
		t.fileToIDs[k] = append([]int64(nil), v...)
	}
	for k, v := range idsToNT {
		t.idsToNT[k] = v
	}
	return t
}

func validate(schema *jsonschema.Schema, doc []byte) error {
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// Tag returns the table key of a chunk, e.g. "c0_3".
func Tag(annotator string, chunk int) string {
	return fmt.Sprintf("%s_%d", annotator, chunk)
}

// SynapseID returns the external ID of the given annotated synapse.
func (t *Tables) SynapseID(annotator string, chunk, number int) (int64, error) {
	ids, ok := t.fileToIDs[Tag(annotator, chunk)]
	if !ok {
		return 0, fmt.Errorf("chunk %s: %w", Tag(annotator, chunk), ErrUnknownSynapse)
	}
	if number < 0 || number >= len(ids) {
		return 0, fmt.Errorf("synapse %d of chunk %s: %w", number, Tag(annotator, chunk), ErrUnknownSynapse)
	}
	return ids[number], nil
}

// Neurotransmitter returns the neurotransmitter released at synapse id.
func (t *Tables) Neurotransmitter(id int64) (string, error) {
	nt, ok := t.idsToNT[id]
	if !ok {
		return "", fmt.Errorf("synapse ID %d: %w", id, ErrUnknownSynapse)
	}
	return nt, nil
}
