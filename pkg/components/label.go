// Package components partitions binary masks into connected components and
// measures the shape of 2D regions.
//
// Volumes are flat row-major buffers: a 3D mask of shape (Z, Y, X) stores voxel
// (z, y, x) at z*Y*X + y*X + x, a 2D mask of height H and width W stores pixel
// (y, x) at y*W + x.
package components

import (
	"fmt"

	"synapseqc/internal/models"
)

// Label3D assigns a positive label to every maximal 6-connected region of true
// voxels (face neighbours only, no edges or corners) and 0 to the background.
// Labels are numbered from 1 in raster order of each region's first voxel.
// It returns the label buffer and the number of regions found.
func Label3D(mask []bool, shape models.Shape) ([]int32, int, error) {
	if len(mask) != shape.Len() {
		return nil, 0, fmt.Errorf("mask has %d voxels, shape %s needs %d", len(mask), shape, shape.Len())
	}

	labels := make([]int32, len(mask))
	planeSize := shape.Y * shape.X
	var next int32

	stack := make([]int, 0, 64)
	for start, set := range mask {
		if !set || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			z := idx / planeSize
			y := (idx % planeSize) / shape.X
			x := idx % shape.X

			visit := func(n int) {
				if mask[n] && labels[n] == 0 {
					labels[n] = next
					stack = append(stack, n)
				}
			}
			if x > 0 {
				visit(idx - 1)
			}
			if x < shape.X-1 {
				visit(idx + 1)
			}
			if y > 0 {
				visit(idx - shape.X)
			}
			if y < shape.Y-1 {
				visit(idx + shape.X)
			}
			if z > 0 {
				visit(idx - planeSize)
			}
			if z < shape.Z-1 {
				visit(idx + planeSize)
			}
		}
	}

	return labels, int(next), nil
}

// Label2D is the planar analogue of Label3D using 4-connectivity.
func Label2D(mask []bool, height, width int) ([]int32, int, error) {
	return Label3D(mask, models.Shape{Z: 1, Y: height, X: width})
}

// CountComponents returns the number of 6-connected regions in a 3D mask.
func CountComponents(mask []bool, shape models.Shape) (int, error) {
	_, n, err := Label3D(mask, shape)
	return n, err
}

// CountLabelComponents counts the connected regions formed by the voxels of
// vol equal to label.
func CountLabelComponents(vol *models.Volume, label uint64) int {
	mask := vol.Mask(func(v uint64) bool { return v == label })
	// the mask always matches the volume shape
	n, _ := CountComponents(mask, vol.Shape())
	return n
}
