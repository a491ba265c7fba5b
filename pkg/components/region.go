package components

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Region holds the shape descriptors of one 2D region
type Region struct {
	// Area is the number of pixels in the region
	Area int

	// Perimeter is the estimated boundary length in pixels
	Perimeter float64

	// Eccentricity of the ellipse with the same second central moments.
	// 0 is a circle, values approach 1 for elongated regions.
	Eccentricity float64

	// Circularity is 4*pi*area/perimeter^2; 0 when the perimeter is 0
	Circularity float64
}

// LabeledRegion pairs a label with the descriptors of its pixels
type LabeledRegion struct {
	Label uint64
	Region
}

// Boundary configuration weights, indexed by the response of the border image
// to the kernel [[10,2,10],[2,1,2],[10,2,10]].
var perimeterWeights = func() [50]float64 {
	var w [50]float64
	for _, code := range []int{5, 7, 15, 17, 25, 27} {
		w[code] = 1
	}
	w[21] = math.Sqrt2
	w[33] = math.Sqrt2
	w[13] = (1 + math.Sqrt2) / 2
	w[23] = (1 + math.Sqrt2) / 2
	return w
}()

// Properties measures the single region given by mask, a height*width plane.
// All true pixels are treated as one region regardless of connectivity.
func Properties(mask []bool, height, width int) (Region, error) {
	if len(mask) != height*width {
		return Region{}, fmt.Errorf("mask has %d pixels, plane %dx%d needs %d", len(mask), height, width, height*width)
	}

	var region Region
	for _, set := range mask {
		if set {
			region.Area++
		}
	}
	if region.Area == 0 {
		return region, nil
	}

	region.Perimeter = perimeter(mask, height, width)
	region.Eccentricity = eccentricity(mask, height, width, region.Area)
	if region.Perimeter > 0 {
		region.Circularity = 4 * math.Pi * float64(region.Area) / (region.Perimeter * region.Perimeter)
	}
	return region, nil
}

// PlaneRegions measures every distinct nonzero label in a height*width plane,
// in ascending label order.
func PlaneRegions(plane []uint64, height, width int) ([]LabeledRegion, error) {
	if len(plane) != height*width {
		return nil, fmt.Errorf("plane has %d pixels, expected %dx%d", len(plane), height, width)
	}

	seen := make(map[uint64]bool)
	var labels []uint64
	for _, v := range plane {
		if v != 0 && !seen[v] {
			seen[v] = true
			labels = append(labels, v)
		}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	regions := make([]LabeledRegion, 0, len(labels))
	mask := make([]bool, len(plane))
	for _, label := range labels {
		for i, v := range plane {
			mask[i] = v == label
		}
		region, err := Properties(mask, height, width)
		if err != nil {
			return nil, err
		}
		regions = append(regions, LabeledRegion{Label: label, Region: region})
	}
	return regions, nil
}

// perimeter estimates the boundary length from the border pixels of the
// region, i.e. the pixels removed by an erosion with the 4-neighbourhood cross.
// Pixels outside the plane count as background.
func perimeter(mask []bool, height, width int) float64 {
	at := func(y, x int) bool {
		if y < 0 || y >= height || x < 0 || x >= width {
			return false
		}
		return mask[y*width+x]
	}

	border := make([]bool, len(mask))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !at(y, x) {
				continue
			}
			interior := at(y-1, x) && at(y+1, x) && at(y, x-1) && at(y, x+1)
			border[y*width+x] = !interior
		}
	}

	isBorder := func(y, x int) int {
		if y < 0 || y >= height || x < 0 || x >= width || !border[y*width+x] {
			return 0
		}
		return 1
	}

	// The kernel response is evaluated on every pixel of the plane; pixels
	// outside the plane respond 0 and carry no weight.
	var total float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			code := isBorder(y, x) +
				2*(isBorder(y-1, x)+isBorder(y+1, x)+isBorder(y, x-1)+isBorder(y, x+1)) +
				10*(isBorder(y-1, x-1)+isBorder(y-1, x+1)+isBorder(y+1, x-1)+isBorder(y+1, x+1))
			total += perimeterWeights[code]
		}
	}
	return total
}

// eccentricity fits an ellipse through the second central moments of the
// region and returns sqrt(1 - l2/l1) for its eigenvalues l1 >= l2.
func eccentricity(mask []bool, height, width, area int) float64 {
	n := float64(area)
	var sumY, sumX float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y*width+x] {
				sumY += float64(y)
				sumX += float64(x)
			}
		}
	}
	meanY, meanX := sumY/n, sumX/n

	var muYY, muXX, muYX float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y*width+x] {
				dy, dx := float64(y)-meanY, float64(x)-meanX
				muYY += dy * dy
				muXX += dx * dx
				muYX += dy * dx
			}
		}
	}

	cov := mat.NewSymDense(2, []float64{
		muYY / n, muYX / n,
		muYX / n, muXX / n,
	})
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		return 0
	}
	// ascending order
	values := eig.Values(nil)
	l2, l1 := math.Max(values[0], 0), math.Max(values[1], 0)
	if l1 == 0 {
		return 0
	}
	return math.Sqrt(1 - l2/l1)
}
