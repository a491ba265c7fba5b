// Package store gives random access to named 3D volumes addressed by
// '/'-delimited hierarchical paths such as "synapses_c0_3/7/vesicles".
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"synapseqc/internal/models"
)

// ErrNotFound is returned when a path does not name an array.
var ErrNotFound = errors.New("array not found")

// Store is a read-only labeled volume store.
type Store interface {
	// Has reports whether path names an array or a group of arrays.
	Has(path string) bool

	// Get reads the array at path.
	Get(path string) (*models.Volume, error)
}

// LayerPath returns the path of one layer of a synapse.
func LayerPath(key models.SynapseKey, layer models.LayerName) string {
	return fmt.Sprintf("%s/%s", key.String(), layer)
}

// SourceRawPath returns the path of the full-chunk raw volume a synapse was
// cut from, relative to the source data directory.
func SourceRawPath(key models.SynapseKey) string {
	return fmt.Sprintf("%s.zarr/%s", key.ChunkGroup(), models.Raw)
}

// LoadSynapse reads all seven layers of a synapse and validates their shapes.
// A missing layer yields an error wrapping ErrNotFound.
func LoadSynapse(s Store, key models.SynapseKey) (*models.Synapse, error) {
	syn := &models.Synapse{
		Key:    key,
		Layers: make(map[models.LayerName]*models.Volume, len(models.AllLayers)),
	}
	for _, layer := range models.AllLayers {
		vol, err := s.Get(LayerPath(key, layer))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", LayerPath(key, layer), err)
		}
		syn.Layers[layer] = vol
	}
	if err := syn.Validate(); err != nil {
		return nil, err
	}
	return syn, nil
}

// Memory is an in-process store, safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	arrays map[string]*models.Volume
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{arrays: make(map[string]*models.Volume)}
}

// Put stores vol under path, replacing any previous array.
func (m *Memory) Put(path string, vol *models.Volume) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrays[strings.Trim(path, "/")] = vol
}

// PutSynapse stores every layer of syn under its synapse group.
func (m *Memory) PutSynapse(syn *models.Synapse) {
	for layer, vol := range syn.Layers {
		m.Put(LayerPath(syn.Key, layer), vol)
	}
}

// Has reports whether path is an array or a prefix group of one.
func (m *Memory) Has(path string) bool {
	path = strings.Trim(path, "/")
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.arrays[path]; ok {
		return true
	}
	prefix := path + "/"
	for p := range m.arrays {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Get returns the array stored under path.
func (m *Memory) Get(path string) (*models.Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vol, ok := m.arrays[strings.Trim(path, "/")]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return vol, nil
}
