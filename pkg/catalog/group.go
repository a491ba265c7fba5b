package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"synapseqc/pkg/features"
)

// KeyKind selects the record field a grouping key is read from
type KeyKind string

const (
	ByAnnotators KeyKind = "by_annotators"
	ByNTTypes    KeyKind = "by_nt_types"
)

// ParseKeyKind validates a grouping key name.
func ParseKeyKind(name string) (KeyKind, error) {
	switch k := KeyKind(name); k {
	case ByAnnotators, ByNTTypes:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

func (k KeyKind) value(r *features.Record) (string, error) {
	switch k {
	case ByAnnotators:
		return r.Annotator, nil
	case ByNTTypes:
		return r.Neurotransmitter, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, string(k))
}

// Policy decides which duplicate annotations take part in a grouping
type Policy string

const (
	// Unique keeps one record per physical synapse
	Unique Policy = "unique"
	// Same keeps the synapses annotated more than once, every annotation
	Same Policy = "same"
	// All keeps every record
	All Policy = "all"
)

// ParsePolicy validates a duplicate policy name.
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(name); p {
	case Unique, Same, All:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// Apply returns the records the policy keeps, in input order.
func (p Policy) Apply(records []*features.Record) ([]*features.Record, error) {
	var kept []*features.Record
	switch p {
	case Unique:
		for _, r := range records {
			if r.DuplicateNumber == 1 {
				kept = append(kept, r)
			}
		}
	case Same:
		counts := DuplicateCounts(records)
		for _, r := range records {
			if counts[r.SynapseID] >= 2 {
				kept = append(kept, r)
			}
		}
	case All:
		kept = append(kept, records...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, string(p))
	}
	return kept, nil
}

// Grouping maps key tuples to feature values. Keys keep the order in which
// they were first seen.
type Grouping struct {
	keys   [][]string
	values map[string][]float64
}

func newGrouping() *Grouping {
	return &Grouping{values: make(map[string][]float64)}
}

func joinKey(parts []string) string {
	return strings.Join(parts, ",")
}

func (g *Grouping) add(parts []string, values ...float64) {
	k := joinKey(parts)
	if _, ok := g.values[k]; !ok {
		g.keys = append(g.keys, parts)
		g.values[k] = []float64{}
	}
	g.values[k] = append(g.values[k], values...)
}

// Get returns the values grouped under the key tuple, or nil.
func (g *Grouping) Get(parts ...string) []float64 {
	return g.values[joinKey(parts)]
}

// Keys returns the key tuples in first-seen order.
func (g *Grouping) Keys() [][]string {
	keys := make([][]string, len(g.keys))
	for i, k := range g.keys {
		keys[i] = append([]string(nil), k...)
	}
	return keys
}

// Len returns the number of key tuples.
func (g *Grouping) Len() int {
	return len(g.keys)
}

// MarshalJSON writes the grouping as an object with comma-joined keys, in
// first-seen order.
func (g *Grouping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, parts := range g.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k := joinKey(parts)
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		values, err := json.Marshal(g.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(values)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Group filters records by policy, drops the records lacking feature and maps
// each tuple of key values to the feature values of its records. Vesicle list
// features contribute one value per vesicle.
func Group(records []*features.Record, feature Feature, keys []KeyKind, policy Policy) (*Grouping, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no grouping key given", ErrUnknownKey)
	}
	for _, k := range keys {
		if _, err := ParseKeyKind(string(k)); err != nil {
			return nil, err
		}
	}

	kept, err := policy.Apply(records)
	if err != nil {
		return nil, err
	}
	kept, err = FilterSynapses(kept, feature)
	if err != nil {
		return nil, err
	}

	g := newGrouping()
	for _, r := range kept {
		parts := make([]string, len(keys))
		for i, k := range keys {
			if parts[i], err = k.value(r); err != nil {
				return nil, err
			}
		}
		g.add(parts, feature.Values(r)...)
	}
	return g, nil
}

// Condition names one grouping of a sweep
func Condition(key KeyKind, feature Feature) string {
	return fmt.Sprintf("('%s', '%s')", key, feature)
}

// Conditions is the result of GroupAll. It marshals to a JSON object in
// sweep order.
type Conditions struct {
	names  []string
	groups map[string]*Grouping
}

// Get returns the grouping of a condition, or nil.
func (c *Conditions) Get(key KeyKind, feature Feature) *Grouping {
	return c.groups[Condition(key, feature)]
}

// Names returns the condition names in sweep order.
func (c *Conditions) Names() []string {
	return append([]string(nil), c.names...)
}

// MarshalJSON writes the conditions as an object in sweep order.
func (c *Conditions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := c.groups[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// GroupAll groups every feature by neurotransmitter type and then by
// annotator. A nil feature list sweeps DefaultFeatures.
func GroupAll(records []*features.Record, feats []Feature, policy Policy) (*Conditions, error) {
	if feats == nil {
		feats = DefaultFeatures
	}
	c := &Conditions{groups: make(map[string]*Grouping)}
	for _, key := range []KeyKind{ByNTTypes, ByAnnotators} {
		for _, f := range feats {
			g, err := Group(records, f, []KeyKind{key}, policy)
			if err != nil {
				return nil, fmt.Errorf("grouping %s %s: %w", key, f, err)
			}
			name := Condition(key, f)
			c.names = append(c.names, name)
			c.groups[name] = g
		}
	}
	return c, nil
}
