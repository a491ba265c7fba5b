// Package visualization renders planes of synapse volumes as images so that
// flagged annotations can be inspected by eye.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"synapseqc/internal/models"
)

// Viewer extracts planes and regions from one volume. Voxel values are
// scaled against the largest value of the volume, so label layers render
// with background black and the highest label white.
type Viewer struct {
	// volume is the layer being rendered
	volume *models.Volume

	// maxValue is the largest voxel value, used for intensity scaling
	maxValue uint64
}

// NewViewer creates a viewer for vol
func NewViewer(vol *models.Volume) *Viewer {
	var maxValue uint64
	for i := 0; i < vol.Len(); i++ {
		if v := vol.Value(i); v > maxValue {
			maxValue = v
		}
	}
	return &Viewer{volume: vol, maxValue: maxValue}
}

func (v *Viewer) gray(value uint64) color.Gray16 {
	if v.maxValue == 0 {
		return color.Gray16{}
	}
	return color.Gray16{Y: uint16(float64(value) / float64(v.maxValue) * 65535)}
}

// ExtractSlice extracts a 2D plane from the volume along the specified axis.
// "z" planes are Y x X images, "y" planes Z x X and "x" planes Y x Z.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	shape := v.volume.Shape()

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= shape.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, shape.X)
		}
		img = image.NewGray16(image.Rect(0, 0, shape.Z, shape.Y))
		for y := 0; y < shape.Y; y++ {
			for z := 0; z < shape.Z; z++ {
				img.SetGray16(z, y, v.gray(v.volume.At(z, y, position)))
			}
		}

	case "y", "Y":
		if position >= shape.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, shape.Y)
		}
		img = image.NewGray16(image.Rect(0, 0, shape.X, shape.Z))
		for z := 0; z < shape.Z; z++ {
			for x := 0; x < shape.X; x++ {
				img.SetGray16(x, z, v.gray(v.volume.At(z, position, x)))
			}
		}

	case "z", "Z":
		if position >= shape.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, shape.Z)
		}
		img = image.NewGray16(image.Rect(0, 0, shape.X, shape.Y))
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				img.SetGray16(x, y, v.gray(v.volume.At(position, y, x)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume
func (v *Viewer) ExtractRegion(start, size models.Shape) (*models.Volume, error) {
	if start.X < 0 || start.Y < 0 || start.Z < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	shape := v.volume.Shape()
	if start.X+size.X > shape.X || start.Y+size.Y > shape.Y || start.Z+size.Z > shape.Z {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]uint64, size.Len())
	for z := 0; z < size.Z; z++ {
		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				region[z*size.X*size.Y+y*size.X+x] = v.volume.At(start.Z+z, start.Y+y, start.X+x)
			}
		}
	}
	return models.NewVolume(region, size)
}

// SaveSlice saves an extracted slice as a lossless PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every plane along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	shape := v.volume.Shape()
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = shape.X
	case "y", "Y":
		maxPos = shape.Y
	case "z", "Z":
		maxPos = shape.Z
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// labelBounds returns the bounding box of the non-background voxels of vol.
// ok is false for an all-background volume.
func labelBounds(vol *models.Volume) (start, size models.Shape, ok bool) {
	shape := vol.Shape()
	lo := models.Shape{Z: shape.Z, Y: shape.Y, X: shape.X}
	hi := models.Shape{Z: -1, Y: -1, X: -1}
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				if vol.At(z, y, x) == 0 {
					continue
				}
				lo.Z, hi.Z = min(lo.Z, z), max(hi.Z, z)
				lo.Y, hi.Y = min(lo.Y, y), max(hi.Y, y)
				lo.X, hi.X = min(lo.X, x), max(hi.X, x)
			}
		}
	}
	if hi.Z < 0 {
		return models.Shape{}, models.Shape{}, false
	}
	return lo, models.Shape{Z: hi.Z - lo.Z + 1, Y: hi.Y - lo.Y + 1, X: hi.X - lo.X + 1}, true
}

// SaveLayerSnapshots writes the planes along axis of the given layers of syn
// below dir, one directory per synapse and layer:
//
//	dir/synapses_c0_3/7/vesicles/slice_z_000.png
//
// Each layer is cropped to the bounding box of its labelled voxels; an
// all-background layer is written whole.
func SaveLayerSnapshots(syn *models.Synapse, layers []models.LayerName, dir, axis string) error {
	for _, name := range layers {
		vol := syn.Layer(name)
		if vol == nil {
			return fmt.Errorf("%s: no layer %s", syn.Key, name)
		}
		viewer := NewViewer(vol)
		if start, size, ok := labelBounds(vol); ok {
			region, err := viewer.ExtractRegion(start, size)
			if err != nil {
				return fmt.Errorf("failed to crop %s: %v", name, err)
			}
			viewer = NewViewer(region)
		}
		out := filepath.Join(dir, filepath.FromSlash(syn.Key.String()), string(name))
		if err := viewer.SaveSliceSequence(axis, out); err != nil {
			return fmt.Errorf("failed to save %s snapshots: %v", name, err)
		}
	}
	return nil
}
