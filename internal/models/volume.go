package models

import (
	"fmt"
	"sort"
)

// Shape holds the dimensions of a volume in voxels, in Z, Y, X order.
type Shape struct {
	Z, Y, X int
}

// Len returns the number of voxels covered by the shape
func (s Shape) Len() int {
	return s.Z * s.Y * s.X
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Z, s.Y, s.X)
}

// Volume is an immutable 3D array of nonnegative integers. For label layers a
// voxel value of 0 is background and any other value is a label ID. For the raw
// layer the values are intensities.
type Volume struct {
	// data holds the voxels as a 1D array in row-major order (z, y, x)
	data []uint64

	shape Shape
}

// NewVolume wraps data as a volume of the given shape. The volume takes
// ownership of data; callers must not modify it afterwards.
func NewVolume(data []uint64, shape Shape) (*Volume, error) {
	if shape.Z < 0 || shape.Y < 0 || shape.X < 0 {
		return nil, fmt.Errorf("invalid volume shape %s", shape)
	}
	if len(data) != shape.Len() {
		return nil, fmt.Errorf("volume data has %d voxels, shape %s needs %d", len(data), shape, shape.Len())
	}
	return &Volume{data: data, shape: shape}, nil
}

// MustVolume is like NewVolume but panics on a size mismatch.
// It is meant for fixtures and literals.
func MustVolume(data []uint64, shape Shape) *Volume {
	v, err := NewVolume(data, shape)
	if err != nil {
		panic(err)
	}
	return v
}

// FromNested builds a volume from a [z][y][x] literal.
func FromNested(nested [][][]uint64) *Volume {
	shape := Shape{Z: len(nested)}
	if shape.Z > 0 {
		shape.Y = len(nested[0])
		if shape.Y > 0 {
			shape.X = len(nested[0][0])
		}
	}
	data := make([]uint64, 0, shape.Len())
	for _, plane := range nested {
		for _, row := range plane {
			data = append(data, row...)
		}
	}
	return MustVolume(data, shape)
}

// Shape returns the dimensions of the volume.
func (v *Volume) Shape() Shape {
	return v.shape
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return len(v.data)
}

// Index converts a (z, y, x) coordinate into an offset in the flat buffer.
func (v *Volume) Index(z, y, x int) int {
	return z*v.shape.Y*v.shape.X + y*v.shape.X + x
}

// At returns the voxel at (z, y, x).
func (v *Volume) At(z, y, x int) uint64 {
	return v.data[v.Index(z, y, x)]
}

// Value returns the voxel at a flat offset.
func (v *Volume) Value(i int) uint64 {
	return v.data[i]
}

// Data returns a copy of the voxel buffer.
func (v *Volume) Data() []uint64 {
	out := make([]uint64, len(v.data))
	copy(out, v.data)
	return out
}

// Equal reports whether both volumes have the same shape and voxel values.
func (v *Volume) Equal(other *Volume) bool {
	if other == nil || v.shape != other.shape {
		return false
	}
	for i, val := range v.data {
		if other.data[i] != val {
			return false
		}
	}
	return true
}

// Histogram counts the voxels of every distinct value.
func (v *Volume) Histogram() map[uint64]int {
	counts := make(map[uint64]int)
	for _, val := range v.data {
		counts[val]++
	}
	return counts
}

// Unique returns the distinct values of the volume in ascending order.
func (v *Volume) Unique() []uint64 {
	counts := v.Histogram()
	values := make([]uint64, 0, len(counts))
	for val := range counts {
		values = append(values, val)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}

// Labels returns the distinct nonzero values in ascending order.
func (v *Volume) Labels() []uint64 {
	unique := v.Unique()
	if len(unique) > 0 && unique[0] == 0 {
		return unique[1:]
	}
	return unique
}

// Sum adds up all voxel values.
func (v *Volume) Sum() uint64 {
	var total uint64
	for _, val := range v.data {
		total += val
	}
	return total
}

// IsBackground reports whether every voxel is 0.
func (v *Volume) IsBackground() bool {
	for _, val := range v.data {
		if val != 0 {
			return false
		}
	}
	return true
}

// Mask returns a boolean mask of the voxels for which keep returns true.
func (v *Volume) Mask(keep func(val uint64) bool) []bool {
	mask := make([]bool, len(v.data))
	for i, val := range v.data {
		mask[i] = keep(val)
	}
	return mask
}

// ZPlane returns a copy of the z-th XY plane as a Y*X buffer.
func (v *Volume) ZPlane(z int) ([]uint64, error) {
	if z < 0 || z >= v.shape.Z {
		return nil, fmt.Errorf("plane %d outside volume depth %d", z, v.shape.Z)
	}
	size := v.shape.Y * v.shape.X
	plane := make([]uint64, size)
	copy(plane, v.data[z*size:(z+1)*size])
	return plane, nil
}

// CropX returns the sub-volume covering the X range [start, end) and every
// Z and Y position.
func (v *Volume) CropX(start, end int) (*Volume, error) {
	if start < 0 || end > v.shape.X || start > end {
		return nil, fmt.Errorf("x range [%d:%d] outside volume width %d", start, end, v.shape.X)
	}
	width := end - start
	out := make([]uint64, 0, v.shape.Z*v.shape.Y*width)
	for z := 0; z < v.shape.Z; z++ {
		for y := 0; y < v.shape.Y; y++ {
			offset := v.Index(z, y, start)
			out = append(out, v.data[offset:offset+width]...)
		}
	}
	return &Volume{data: out, shape: Shape{Z: v.shape.Z, Y: v.shape.Y, X: width}}, nil
}
