package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVolumeRejectsSizeMismatch(t *testing.T) {
	_, err := NewVolume(make([]uint64, 5), Shape{Z: 1, Y: 2, X: 3})
	require.Error(t, err)
}

func TestFromNested(t *testing.T) {
	v := FromNested([][][]uint64{{{1, 1, 0}, {0, 2, 0}, {0, 0, 0}}})

	assert.Equal(t, Shape{Z: 1, Y: 3, X: 3}, v.Shape())
	assert.Equal(t, uint64(2), v.At(0, 1, 1))
	assert.Equal(t, []uint64{0, 1, 2}, v.Unique())
	assert.Equal(t, []uint64{1, 2}, v.Labels())
	assert.Equal(t, map[uint64]int{0: 6, 1: 2, 2: 1}, v.Histogram())
	assert.Equal(t, uint64(4), v.Sum())
	assert.False(t, v.IsBackground())
}

func TestLabelsWithoutBackground(t *testing.T) {
	v := FromNested([][][]uint64{{{3, 4}}})
	assert.Equal(t, []uint64{3, 4}, v.Labels())
}

func TestZPlane(t *testing.T) {
	v := FromNested([][][]uint64{
		{{1, 2}, {3, 4}},
		{{5, 6}, {7, 8}},
	})

	plane, err := v.ZPlane(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7, 8}, plane)

	_, err = v.ZPlane(2)
	assert.Error(t, err)
}

func TestCropX(t *testing.T) {
	v := FromNested([][][]uint64{
		{{1, 2, 3, 4}, {5, 6, 7, 8}},
	})

	crop, err := v.CropX(1, 3)
	require.NoError(t, err)
	assert.Equal(t, Shape{Z: 1, Y: 2, X: 2}, crop.Shape())
	assert.True(t, crop.Equal(FromNested([][][]uint64{{{2, 3}, {6, 7}}})))

	_, err = v.CropX(2, 5)
	assert.Error(t, err)
}

func TestSynapseValidate(t *testing.T) {
	layers := make(map[LayerName]*Volume)
	for _, name := range AllLayers {
		layers[name] = MustVolume(make([]uint64, 8), Shape{Z: 2, Y: 2, X: 2})
	}
	syn := &Synapse{Key: SynapseKey{Annotator: "c0", Chunk: 1, Number: 2}, Layers: layers}
	require.NoError(t, syn.Validate())
	assert.Equal(t, "synapses_c0_1/2", syn.Key.String())

	layers[Cleft] = MustVolume(make([]uint64, 4), Shape{Z: 1, Y: 2, X: 2})
	assert.Error(t, syn.Validate())

	delete(layers, Cleft)
	assert.Error(t, syn.Validate())
}
