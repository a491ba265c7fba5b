package models

import (
	"fmt"
)

// LayerName identifies one of the co-registered volumes of a synapse
type LayerName string

const (
	Raw           LayerName = "raw"
	Vesicles      LayerName = "vesicles"
	Cleft         LayerName = "cleft"
	CleftMembrane LayerName = "cleft_membrane"
	Cytosol       LayerName = "cytosol"
	Posts         LayerName = "posts"
	TBars         LayerName = "t-bars"
)

// AllLayers lists every layer stored for a synapse, raw intensities first.
var AllLayers = []LayerName{Raw, Vesicles, Cleft, CleftMembrane, Cytosol, Posts, TBars}

// LabelLayers lists the six annotated label layers.
var LabelLayers = []LayerName{Vesicles, Cleft, CleftMembrane, Cytosol, Posts, TBars}

// SynapseKey identifies one annotated synapse sub-volume
type SynapseKey struct {
	// Annotator is the short annotator tag, e.g. "c0"
	Annotator string

	// Chunk is the number of the chunk the synapse was annotated in
	Chunk int

	// Number is the position of the synapse inside its chunk, in [0, 10)
	Number int
}

// ChunkGroup returns the group name of the chunk, e.g. "synapses_c0_3".
func (k SynapseKey) ChunkGroup() string {
	return fmt.Sprintf("synapses_%s_%d", k.Annotator, k.Chunk)
}

// String returns the hierarchical synapse group, e.g. "synapses_c0_3/7".
func (k SynapseKey) String() string {
	return fmt.Sprintf("%s/%d", k.ChunkGroup(), k.Number)
}

// Synapse is the unit of analysis: seven co-registered volumes of identical shape.
type Synapse struct {
	Key    SynapseKey
	Layers map[LayerName]*Volume
}

// Layer returns the named volume, or nil if the synapse does not carry it.
func (s *Synapse) Layer(name LayerName) *Volume {
	return s.Layers[name]
}

// Shape returns the common shape of the synapse volumes.
func (s *Synapse) Shape() Shape {
	if raw := s.Layers[Raw]; raw != nil {
		return raw.Shape()
	}
	return Shape{}
}

// Validate checks that all seven layers are present and share one shape.
func (s *Synapse) Validate() error {
	var shape Shape
	for i, name := range AllLayers {
		layer := s.Layers[name]
		if layer == nil {
			return fmt.Errorf("%s: missing layer %s", s.Key, name)
		}
		if i == 0 {
			shape = layer.Shape()
			continue
		}
		if layer.Shape() != shape {
			return fmt.Errorf("%s: layer %s has shape %s, expected %s", s.Key, name, layer.Shape(), shape)
		}
	}
	return nil
}
