package components

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapseqc/internal/models"
)

func maskOf(v *models.Volume) []bool {
	return v.Mask(func(val uint64) bool { return val != 0 })
}

func TestLabel3DSingleBlob(t *testing.T) {
	// an L shaped blob that is only connected through the z axis
	vol := models.FromNested([][][]uint64{
		{{1, 0, 0}, {0, 0, 0}},
		{{1, 1, 1}, {0, 0, 1}},
	})

	labels, n, err := Label3D(maskOf(vol), vol.Shape())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), labels[0])
	assert.Equal(t, int32(1), labels[vol.Index(1, 1, 2)])
	assert.Equal(t, int32(0), labels[vol.Index(0, 1, 1)])
}

func TestLabel3DIgnoresDiagonalNeighbours(t *testing.T) {
	vol := models.FromNested([][][]uint64{
		{{1, 0}, {0, 1}},
		{{0, 0}, {0, 0}},
	})
	n, err := CountComponents(maskOf(vol), vol.Shape())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	corner := models.FromNested([][][]uint64{
		{{1, 0}, {0, 0}},
		{{0, 0}, {0, 1}},
	})
	n, err = CountComponents(maskOf(corner), corner.Shape())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLabel3DDisjointBlobs(t *testing.T) {
	shape := models.Shape{Z: 3, Y: 5, X: 7}
	for k := 0; k <= 4; k++ {
		mask := make([]bool, shape.Len())
		// blobs along x separated by one background column
		for b := 0; b < k; b++ {
			x := b * 2
			for z := 0; z < shape.Z; z++ {
				for y := 0; y < shape.Y; y++ {
					mask[z*shape.Y*shape.X+y*shape.X+x] = true
				}
			}
		}
		labels, n, err := Label3D(mask, shape)
		require.NoError(t, err)
		assert.Equal(t, k, n, "blobs=%d", k)

		distinct := make(map[int32]bool)
		for _, l := range labels {
			if l != 0 {
				distinct[l] = true
			}
		}
		assert.Len(t, distinct, k)
	}
}

func TestLabel3DRasterOrder(t *testing.T) {
	labels, n, err := Label2D([]bool{
		false, true, false, true,
		true, true, false, false,
	}, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int32{0, 1, 0, 2, 1, 1, 0, 0}, labels)
}

func TestLabel3DShapeMismatch(t *testing.T) {
	_, _, err := Label3D(make([]bool, 3), models.Shape{Z: 1, Y: 2, X: 2})
	assert.Error(t, err)
}

func TestCountLabelComponents(t *testing.T) {
	vol := models.FromNested([][][]uint64{{{5, 0, 5}, {5, 0, 7}}})
	assert.Equal(t, 2, CountLabelComponents(vol, 5))
	assert.Equal(t, 1, CountLabelComponents(vol, 7))
	assert.Equal(t, 0, CountLabelComponents(vol, 9))
}

func TestPropertiesSquare(t *testing.T) {
	mask := []bool{
		true, true, false, false,
		true, true, false, false,
		false, false, false, false,
		false, false, false, false,
	}
	region, err := Properties(mask, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, region.Area)
	assert.InDelta(t, 4.0, region.Perimeter, 1e-9)
	assert.InDelta(t, 0.0, region.Eccentricity, 1e-9)
	// 4*pi*4/4^2
	assert.InDelta(t, math.Pi, region.Circularity, 1e-9)
}

func TestPropertiesSquareWithInterior(t *testing.T) {
	const size = 5
	mask := make([]bool, size*size)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			mask[y*size+x] = true
		}
	}
	region, err := Properties(mask, size, size)
	require.NoError(t, err)
	assert.Equal(t, 9, region.Area)
	// the centre pixel is interior; the 8 border pixels weigh 1 each
	assert.InDelta(t, 8.0, region.Perimeter, 1e-9)
	assert.InDelta(t, 9*math.Pi/16, region.Circularity, 1e-9)
	assert.InDelta(t, 0.0, region.Eccentricity, 1e-9)
}

func TestPropertiesLine(t *testing.T) {
	region, err := Properties([]bool{true, true, true}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, region.Area)
	assert.InDelta(t, 1.0, region.Eccentricity, 1e-9)
}

func TestPropertiesDiscIsNearlyCircular(t *testing.T) {
	const size, r = 21, 8.0
	mask := make([]bool, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dy, dx := float64(y-size/2), float64(x-size/2)
			mask[y*size+x] = dy*dy+dx*dx <= r*r
		}
	}
	region, err := Properties(mask, size, size)
	require.NoError(t, err)
	assert.Equal(t, 197, region.Area)
	// 8 straight runs, 4 diagonal steps and 32 mixed corners
	perim := 8 + 4*math.Sqrt2 + 32*(1+math.Sqrt2)/2
	assert.InDelta(t, perim, region.Perimeter, 1e-9)
	assert.InDelta(t, 4*math.Pi*197/(perim*perim), region.Circularity, 1e-9)
	assert.Less(t, region.Eccentricity, 0.05)
}

func TestPropertiesSinglePixel(t *testing.T) {
	region, err := Properties([]bool{false, true, false, false}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, region.Area)
	assert.Equal(t, 0.0, region.Perimeter)
	assert.Equal(t, 0.0, region.Circularity)
	assert.Equal(t, 0.0, region.Eccentricity)
}

func TestPropertiesEmpty(t *testing.T) {
	region, err := Properties(make([]bool, 4), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Region{}, region)
}

func TestPlaneRegions(t *testing.T) {
	plane := []uint64{
		4, 4, 0, 2,
		4, 4, 0, 2,
	}
	regions, err := PlaneRegions(plane, 2, 4)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, uint64(2), regions[0].Label)
	assert.Equal(t, 2, regions[0].Area)
	assert.InDelta(t, 1.0, regions[0].Eccentricity, 1e-9)
	assert.Equal(t, uint64(4), regions[1].Label)
	assert.Equal(t, 4, regions[1].Area)
}
