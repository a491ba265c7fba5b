// Package catalog resolves repeated annotations of the same synapse and groups
// extracted features by annotator or neurotransmitter type.
package catalog

import (
	"errors"
	"fmt"

	"synapseqc/pkg/features"
)

var (
	// ErrUnknownFeature is returned for feature names not in Features
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrUnknownKey is returned for grouping keys other than by_annotators and by_nt_types
	ErrUnknownKey = errors.New("unknown grouping key")

	// ErrUnknownPolicy is returned for duplicate policies other than unique, same and all
	ErrUnknownPolicy = errors.New("unknown duplicate policy")
)

// Feature names a field of a feature record that can be grouped
type Feature string

const (
	CleftMeanIntensity             Feature = "cleft_mean_intensity"
	CleftMedianIntensity           Feature = "cleft_median_intensity"
	CleftMembraneMeanIntensity     Feature = "cleft_membrane_mean_intensity"
	CleftMembraneMedianIntensity   Feature = "cleft_membrane_median_intensity"
	CytosolMeanIntensity           Feature = "cytosol_mean_intensity"
	CytosolMedianIntensity         Feature = "cytosol_median_intensity"
	TBarsMeanIntensity             Feature = "t-bars_mean_intensity"
	TBarsMedianIntensity           Feature = "t-bars_median_intensity"
	CleftNormalizedMeanIntensity   Feature = "cleft_normalized_mean_intensity"
	CleftNormalizedMedianIntensity Feature = "cleft_normalized_median_intensity"
	TBarsNormalizedMeanIntensity   Feature = "t-bars_normalized_mean_intensity"
	TBarsNormalizedMedianIntensity Feature = "t-bars_normalized_median_intensity"
	PostCount                      Feature = "post_count"
	NumVesicles                    Feature = "num_vesicles"
	VesicleSizes                   Feature = "vesicle_sizes"
	VesicleEccentricities          Feature = "vesicle_eccentricities"
	VesicleCircularities           Feature = "vesicle_circularities"
)

// featureKind tells how a feature is read from a record and when a record
// lacks it
type featureKind int

const (
	scalarFeature featureKind = iota
	normalizedFeature
	countFeature
	listFeature
)

type featureDef struct {
	kind featureKind
	// values returns the feature values of a record; a nil result means
	// the record lacks the feature
	values func(r *features.Record) []float64
	// anchors must be present for normalized features
	anchors func(r *features.Record) []*float64
}

func scalar(get func(r *features.Record) *float64) featureDef {
	return featureDef{kind: scalarFeature, values: func(r *features.Record) []float64 {
		if v := get(r); v != nil {
			return []float64{*v}
		}
		return nil
	}}
}

func normalized(get func(r *features.Record) *float64, mean bool) featureDef {
	def := scalar(get)
	def.kind = normalizedFeature
	def.anchors = func(r *features.Record) []*float64 {
		if mean {
			return []*float64{r.CleftMembraneMeanIntensity, r.CytosolMeanIntensity}
		}
		return []*float64{r.CleftMembraneMedianIntensity, r.CytosolMedianIntensity}
	}
	return def
}

func count(get func(r *features.Record) int) featureDef {
	return featureDef{kind: countFeature, values: func(r *features.Record) []float64 {
		return []float64{float64(get(r))}
	}}
}

func floatList(get func(r *features.Record) []float64) featureDef {
	return featureDef{kind: listFeature, values: func(r *features.Record) []float64 {
		return append([]float64(nil), get(r)...)
	}}
}

var featureDefs = map[Feature]featureDef{
	CleftMeanIntensity:             scalar(func(r *features.Record) *float64 { return r.CleftMeanIntensity }),
	CleftMedianIntensity:           scalar(func(r *features.Record) *float64 { return r.CleftMedianIntensity }),
	CleftMembraneMeanIntensity:     scalar(func(r *features.Record) *float64 { return r.CleftMembraneMeanIntensity }),
	CleftMembraneMedianIntensity:   scalar(func(r *features.Record) *float64 { return r.CleftMembraneMedianIntensity }),
	CytosolMeanIntensity:           scalar(func(r *features.Record) *float64 { return r.CytosolMeanIntensity }),
	CytosolMedianIntensity:         scalar(func(r *features.Record) *float64 { return r.CytosolMedianIntensity }),
	TBarsMeanIntensity:             scalar(func(r *features.Record) *float64 { return r.TBarsMeanIntensity }),
	TBarsMedianIntensity:           scalar(func(r *features.Record) *float64 { return r.TBarsMedianIntensity }),
	CleftNormalizedMeanIntensity:   normalized(func(r *features.Record) *float64 { return r.CleftNormalizedMeanIntensity }, true),
	CleftNormalizedMedianIntensity: normalized(func(r *features.Record) *float64 { return r.CleftNormalizedMedianIntensity }, false),
	TBarsNormalizedMeanIntensity:   normalized(func(r *features.Record) *float64 { return r.TBarsNormalizedMeanIntensity }, true),
	TBarsNormalizedMedianIntensity: normalized(func(r *features.Record) *float64 { return r.TBarsNormalizedMedianIntensity }, false),
	PostCount:                      count(func(r *features.Record) int { return r.PostCount }),
	NumVesicles:                    count(func(r *features.Record) int { return r.NumVesicles }),
	VesicleSizes: {kind: listFeature, values: func(r *features.Record) []float64 {
		out := make([]float64, len(r.VesicleSizes))
		for i, s := range r.VesicleSizes {
			out[i] = float64(s)
		}
		return out
	}},
	VesicleEccentricities: floatList(func(r *features.Record) []float64 { return r.VesicleEccentricities }),
	VesicleCircularities:  floatList(func(r *features.Record) []float64 { return r.VesicleCircularities }),
}

// DefaultFeatures lists the features swept by GroupAll
var DefaultFeatures = []Feature{
	CleftNormalizedMeanIntensity,
	TBarsNormalizedMeanIntensity,
	CleftNormalizedMedianIntensity,
	TBarsNormalizedMedianIntensity,
	PostCount,
	NumVesicles,
	VesicleSizes,
	VesicleEccentricities,
	VesicleCircularities,
}

// ParseFeature validates a feature name.
func ParseFeature(name string) (Feature, error) {
	f := Feature(name)
	if _, ok := featureDefs[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	return f, nil
}

// Has reports whether rec carries a usable value for the feature: skipped
// synapses carry no counts, null intensities and empty vesicle lists carry
// nothing, and normalized intensities also need both of their anchors.
func (f Feature) Has(rec *features.Record) bool {
	def, ok := featureDefs[f]
	if !ok {
		return false
	}
	switch def.kind {
	case countFeature:
		return !rec.Skipped()
	case normalizedFeature:
		for _, a := range def.anchors(rec) {
			if a == nil {
				return false
			}
		}
	}
	return len(def.values(rec)) > 0
}

// Values returns the values the record contributes for the feature: one for
// scalar features, one per vesicle for list features.
func (f Feature) Values(rec *features.Record) []float64 {
	def, ok := featureDefs[f]
	if !ok {
		return nil
	}
	return def.values(rec)
}

// FilterSynapses keeps the records that carry the feature.
func FilterSynapses(records []*features.Record, feature Feature) ([]*features.Record, error) {
	if _, ok := featureDefs[feature]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	var kept []*features.Record
	for _, r := range records {
		if feature.Has(r) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}
