// Package features computes per-synapse quantitative features: layer
// intensities, vesicle morphology and counts.
package features

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"synapseqc/internal/models"
	"synapseqc/pkg/components"
	"synapseqc/pkg/lookup"
)

// Extractor turns synapses into feature records. It only reads its lookup
// tables and may be shared between goroutines.
type Extractor struct {
	tables *lookup.Tables
}

// NewExtractor creates an extractor resolving identities through tables.
func NewExtractor(tables *lookup.Tables) *Extractor {
	return &Extractor{tables: tables}
}

// Extract computes the feature record of syn. Problems that do not prevent
// extraction, such as a zero normalization range, are returned as warnings.
// Identity lookup failures and malformed synapses are errors.
func (e *Extractor) Extract(syn *models.Synapse) (*Record, []string, error) {
	if err := syn.Validate(); err != nil {
		return nil, nil, err
	}

	id, err := e.tables.SynapseID(syn.Key.Annotator, syn.Key.Chunk, syn.Key.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", syn.Key, err)
	}
	nt, err := e.tables.Neurotransmitter(id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", syn.Key, err)
	}

	rec := &Record{
		Annotator:             syn.Key.Annotator,
		ChunkNumber:           syn.Key.Chunk,
		SynapseNumber:         syn.Key.Number,
		SynapseID:             id,
		Neurotransmitter:      nt,
		VesicleSizes:          []int{},
		VesicleEccentricities: []float64{},
		VesicleCircularities:  []float64{},
	}

	if isUnannotated(syn) {
		return rec, nil, nil
	}

	var warnings []string
	extractIntensities(syn, rec)
	warnings = append(warnings, normalizeIntensities(syn.Key, rec)...)

	if err := extractVesicles(syn.Layer(models.Vesicles), rec); err != nil {
		return nil, warnings, fmt.Errorf("%s: %w", syn.Key, err)
	}
	rec.PostCount = len(syn.Layer(models.Posts).Labels())

	return rec, warnings, nil
}

// isUnannotated reports whether every label layer sums to 0
func isUnannotated(syn *models.Synapse) bool {
	for _, name := range models.LabelLayers {
		if syn.Layer(name).Sum() != 0 {
			return false
		}
	}
	return true
}

func extractIntensities(syn *models.Synapse, rec *Record) {
	raw := syn.Layer(models.Raw)

	type target struct {
		layer        models.LayerName
		mean, median **float64
	}
	targets := []target{
		{models.Cleft, &rec.CleftMeanIntensity, &rec.CleftMedianIntensity},
		{models.CleftMembrane, &rec.CleftMembraneMeanIntensity, &rec.CleftMembraneMedianIntensity},
		{models.Cytosol, &rec.CytosolMeanIntensity, &rec.CytosolMedianIntensity},
		{models.TBars, &rec.TBarsMeanIntensity, &rec.TBarsMedianIntensity},
	}
	for _, t := range targets {
		layer := syn.Layer(t.layer)
		if layer.IsBackground() {
			continue
		}
		values := intensitiesWhere(raw, func(i int) bool { return layer.Value(i) != 0 })
		*t.mean, *t.median = meanAndMedian(values)
	}

	// The cleft overlaps part of the cleft membrane; only the shell outside
	// the cleft carries the membrane signal.
	cleft := syn.Layer(models.Cleft)
	membrane := syn.Layer(models.CleftMembrane)
	if !cleft.IsBackground() && !membrane.IsBackground() {
		values := intensitiesWhere(raw, func(i int) bool {
			return membrane.Value(i) != 0 && cleft.Value(i) == 0
		})
		rec.CleftMembraneMeanIntensity, rec.CleftMembraneMedianIntensity = meanAndMedian(values)
	}
}

func intensitiesWhere(raw *models.Volume, keep func(i int) bool) []float64 {
	var values []float64
	for i := 0; i < raw.Len(); i++ {
		if keep(i) {
			values = append(values, float64(raw.Value(i)))
		}
	}
	return values
}

// meanAndMedian returns nil for both when values is empty
func meanAndMedian(values []float64) (*float64, *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	mean := stat.Mean(values, nil)
	med := median(values)
	return &mean, &med
}

// median calculates the median value of a slice of float64 values,
// averaging the two middle values for even counts
func median(values []float64) float64 {
	valuesCopy := make([]float64, len(values))
	copy(valuesCopy, values)
	sort.Float64s(valuesCopy)

	n := len(valuesCopy)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (valuesCopy[n/2-1] + valuesCopy[n/2]) / 2
	}
	return valuesCopy[n/2]
}

// normalizeIntensities rescales the cleft and t-bar intensities between the
// cleft membrane (low anchor) and the cytosol (high anchor).
func normalizeIntensities(key models.SynapseKey, rec *Record) []string {
	var warnings []string
	normalize := func(name string, value, low, high *float64) *float64 {
		if value == nil || low == nil || high == nil {
			return nil
		}
		n := (*value - *low) / (*high - *low)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			warnings = append(warnings, fmt.Sprintf("%s: %s not normalized, cytosol and cleft_membrane intensities are both %g", key, name, *low))
			return nil
		}
		return &n
	}

	rec.CleftNormalizedMeanIntensity = normalize("cleft_mean_intensity",
		rec.CleftMeanIntensity, rec.CleftMembraneMeanIntensity, rec.CytosolMeanIntensity)
	rec.CleftNormalizedMedianIntensity = normalize("cleft_median_intensity",
		rec.CleftMedianIntensity, rec.CleftMembraneMedianIntensity, rec.CytosolMedianIntensity)
	rec.TBarsNormalizedMeanIntensity = normalize("t-bars_mean_intensity",
		rec.TBarsMeanIntensity, rec.CleftMembraneMeanIntensity, rec.CytosolMeanIntensity)
	rec.TBarsNormalizedMedianIntensity = normalize("t-bars_median_intensity",
		rec.TBarsMedianIntensity, rec.CleftMembraneMedianIntensity, rec.CytosolMedianIntensity)
	return warnings
}

func extractVesicles(vesicles *models.Volume, rec *Record) error {
	hist := vesicles.Histogram()
	labels := vesicles.Labels()
	rec.NumVesicles = len(labels)
	for _, label := range labels {
		rec.VesicleSizes = append(rec.VesicleSizes, hist[label])
	}

	// Vesicles are annotated on a single plane: measure the first one with
	// any annotation.
	shape := vesicles.Shape()
	for z := 0; z < shape.Z; z++ {
		plane, err := vesicles.ZPlane(z)
		if err != nil {
			return err
		}
		if !hasLabel(plane) {
			continue
		}
		regions, err := components.PlaneRegions(plane, shape.Y, shape.X)
		if err != nil {
			return err
		}
		for _, r := range regions {
			rec.VesicleEccentricities = append(rec.VesicleEccentricities, r.Eccentricity)
			rec.VesicleCircularities = append(rec.VesicleCircularities, r.Circularity)
		}
		break
	}
	return nil
}

func hasLabel(plane []uint64) bool {
	for _, v := range plane {
		if v != 0 {
			return true
		}
	}
	return false
}
