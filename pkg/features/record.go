package features

// Record holds the features extracted from one annotated synapse. Intensity
// fields are nil when the corresponding layer carries no annotation.
//
// The JSON field order is part of the persisted format.
type Record struct {
	Annotator        string `json:"annotator"`
	ChunkNumber      int    `json:"chunk_number"`
	SynapseNumber    int    `json:"synapse_number"`
	SynapseID        int64  `json:"synapse_id"`
	Neurotransmitter string `json:"neurotransmitter"`

	CleftMeanIntensity           *float64 `json:"cleft_mean_intensity"`
	CleftMedianIntensity         *float64 `json:"cleft_median_intensity"`
	CleftMembraneMeanIntensity   *float64 `json:"cleft_membrane_mean_intensity"`
	CleftMembraneMedianIntensity *float64 `json:"cleft_membrane_median_intensity"`
	CytosolMeanIntensity         *float64 `json:"cytosol_mean_intensity"`
	CytosolMedianIntensity       *float64 `json:"cytosol_median_intensity"`
	TBarsMeanIntensity           *float64 `json:"t-bars_mean_intensity"`
	TBarsMedianIntensity         *float64 `json:"t-bars_median_intensity"`

	// Intensities rescaled so that cleft_membrane maps to 0 and cytosol to 1
	CleftNormalizedMeanIntensity   *float64 `json:"cleft_normalized_mean_intensity"`
	CleftNormalizedMedianIntensity *float64 `json:"cleft_normalized_median_intensity"`
	TBarsNormalizedMeanIntensity   *float64 `json:"t-bars_normalized_mean_intensity"`
	TBarsNormalizedMedianIntensity *float64 `json:"t-bars_normalized_median_intensity"`

	PostCount             int       `json:"post_count"`
	NumVesicles           int       `json:"num_vesicles"`
	VesicleSizes          []int     `json:"vesicle_sizes"`
	VesicleEccentricities []float64 `json:"vesicle_eccentricities"`
	VesicleCircularities  []float64 `json:"vesicle_circularities"`

	// DuplicateNumber is assigned once the full record set is known
	DuplicateNumber int `json:"duplicate_number"`
}

// Skipped reports whether the record belongs to a synapse without any
// annotation: every intensity is nil, every count zero and every list empty.
func (r *Record) Skipped() bool {
	for _, v := range r.intensities() {
		if v != nil {
			return false
		}
	}
	return r.PostCount == 0 && r.NumVesicles == 0 &&
		len(r.VesicleSizes) == 0 &&
		len(r.VesicleEccentricities) == 0 &&
		len(r.VesicleCircularities) == 0
}

func (r *Record) intensities() []*float64 {
	return []*float64{
		r.CleftMeanIntensity, r.CleftMedianIntensity,
		r.CleftMembraneMeanIntensity, r.CleftMembraneMedianIntensity,
		r.CytosolMeanIntensity, r.CytosolMedianIntensity,
		r.TBarsMeanIntensity, r.TBarsMedianIntensity,
		r.CleftNormalizedMeanIntensity, r.CleftNormalizedMedianIntensity,
		r.TBarsNormalizedMeanIntensity, r.TBarsNormalizedMedianIntensity,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	for _, p := range []**float64{
		&c.CleftMeanIntensity, &c.CleftMedianIntensity,
		&c.CleftMembraneMeanIntensity, &c.CleftMembraneMedianIntensity,
		&c.CytosolMeanIntensity, &c.CytosolMedianIntensity,
		&c.TBarsMeanIntensity, &c.TBarsMedianIntensity,
		&c.CleftNormalizedMeanIntensity, &c.CleftNormalizedMedianIntensity,
		&c.TBarsNormalizedMeanIntensity, &c.TBarsNormalizedMedianIntensity,
	} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	c.VesicleSizes = append([]int{}, r.VesicleSizes...)
	c.VesicleEccentricities = append([]float64{}, r.VesicleEccentricities...)
	c.VesicleCircularities = append([]float64{}, r.VesicleCircularities...)
	return &c
}

// Float returns a pointer to v, for building records by hand.
func Float(v float64) *float64 {
	return &v
}
