package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapseqc/pkg/features"
)

func record(annotator string, id int64, nt string, vesicles int, dup int) *features.Record {
	return &features.Record{
		Annotator:             annotator,
		SynapseID:             id,
		Neurotransmitter:      nt,
		CleftMeanIntensity:    features.Float(100),
		NumVesicles:           vesicles,
		VesicleSizes:          []int{},
		VesicleEccentricities: []float64{},
		VesicleCircularities:  []float64{},
		DuplicateNumber:       dup,
	}
}

func skipped(annotator string, id int64) *features.Record {
	return &features.Record{
		Annotator:             annotator,
		SynapseID:             id,
		Neurotransmitter:      "gaba",
		VesicleSizes:          []int{},
		VesicleEccentricities: []float64{},
		VesicleCircularities:  []float64{},
		DuplicateNumber:       1,
	}
}

func TestGroupByAnnotatorUnique(t *testing.T) {
	records := []*features.Record{
		record("c0", 1, "gaba", 3, 1),
		record("c0", 2, "gaba", 5, 1),
		record("c1", 3, "glutamate", 7, 1),
		record("c1", 3, "glutamate", 9, 2),
	}

	g, err := Group(records, NumVesicles, []KeyKind{ByAnnotators}, Unique)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c0"}, {"c1"}}, g.Keys())
	assert.Equal(t, []float64{3, 5}, g.Get("c0"))
	assert.Equal(t, []float64{7}, g.Get("c1"))

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"c0":[3,5],"c1":[7]}`, string(data))
}

func TestGroupPolicies(t *testing.T) {
	records := []*features.Record{
		record("c0", 1, "gaba", 3, 1),
		record("c1", 2, "gaba", 4, 2),
		record("c2", 2, "gaba", 6, 1),
	}

	g, err := Group(records, NumVesicles, []KeyKind{ByNTTypes}, Same)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6}, g.Get("gaba"))

	g, err = Group(records, NumVesicles, []KeyKind{ByNTTypes}, All)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 6}, g.Get("gaba"))

	g, err = Group(records, NumVesicles, []KeyKind{ByNTTypes}, Unique)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, g.Get("gaba"))
}

func TestGroupByTwoKeys(t *testing.T) {
	records := []*features.Record{
		record("c0", 1, "gaba", 1, 1),
		record("c0", 2, "glutamate", 2, 1),
		record("c1", 3, "gaba", 3, 1),
		record("c0", 4, "gaba", 4, 1),
	}

	g, err := Group(records, NumVesicles, []KeyKind{ByAnnotators, ByNTTypes}, All)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c0", "gaba"}, {"c0", "glutamate"}, {"c1", "gaba"}}, g.Keys())
	assert.Equal(t, []float64{1, 4}, g.Get("c0", "gaba"))
	assert.Nil(t, g.Get("c1", "glutamate"))
}

func TestGroupVesicleListsContributeEachElement(t *testing.T) {
	a := record("c0", 1, "gaba", 2, 1)
	a.VesicleSizes = []int{12, 30}
	b := record("c0", 2, "gaba", 1, 1)
	b.VesicleSizes = []int{7}
	c := record("c0", 3, "gaba", 0, 1)

	g, err := Group([]*features.Record{a, b, c}, VesicleSizes, []KeyKind{ByAnnotators}, Unique)
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 30, 7}, g.Get("c0"))
}

func TestFilterExcludesSkippedForEveryFeature(t *testing.T) {
	records := []*features.Record{skipped("c0", 1)}
	for f := range featureDefs {
		kept, err := FilterSynapses(records, f)
		require.NoError(t, err)
		assert.Empty(t, kept, "feature %s", f)
	}
}

func TestFilterNormalizedNeedsAnchors(t *testing.T) {
	withAnchors := record("c0", 1, "gaba", 1, 1)
	withAnchors.CleftNormalizedMeanIntensity = features.Float(0.5)
	withAnchors.CleftMembraneMeanIntensity = features.Float(10)
	withAnchors.CytosolMeanIntensity = features.Float(50)

	noCytosol := record("c0", 2, "gaba", 1, 1)
	noCytosol.CleftNormalizedMeanIntensity = features.Float(0.5)
	noCytosol.CleftMembraneMeanIntensity = features.Float(10)

	kept, err := FilterSynapses([]*features.Record{withAnchors, noCytosol}, CleftNormalizedMeanIntensity)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(1), kept[0].SynapseID)

	kept, err = FilterSynapses([]*features.Record{withAnchors, noCytosol}, CleftMeanIntensity)
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestUnknownNamesAreErrors(t *testing.T) {
	_, err := ParseFeature("synapse_volume")
	assert.True(t, errors.Is(err, ErrUnknownFeature))
	assert.Contains(t, err.Error(), "synapse_volume")

	_, err = ParseKeyKind("by_chunk")
	assert.True(t, errors.Is(err, ErrUnknownKey))

	_, err = ParsePolicy("first")
	assert.True(t, errors.Is(err, ErrUnknownPolicy))

	records := []*features.Record{record("c0", 1, "gaba", 1, 1)}
	_, err = Group(records, Feature("nope"), []KeyKind{ByAnnotators}, All)
	assert.True(t, errors.Is(err, ErrUnknownFeature))
	_, err = Group(records, NumVesicles, []KeyKind{"by_chunk"}, All)
	assert.True(t, errors.Is(err, ErrUnknownKey))
	_, err = Group(records, NumVesicles, []KeyKind{ByAnnotators}, Policy("first"))
	assert.True(t, errors.Is(err, ErrUnknownPolicy))
}

func TestParseValidNames(t *testing.T) {
	f, err := ParseFeature("t-bars_normalized_mean_intensity")
	require.NoError(t, err)
	assert.Equal(t, TBarsNormalizedMeanIntensity, f)

	k, err := ParseKeyKind("by_nt_types")
	require.NoError(t, err)
	assert.Equal(t, ByNTTypes, k)

	p, err := ParsePolicy("same")
	require.NoError(t, err)
	assert.Equal(t, Same, p)
}

func TestDuplicateNumbersArePermutations(t *testing.T) {
	build := func() []*features.Record {
		return []*features.Record{
			record("c0", 7, "gaba", 1, 0),
			record("c0", 8, "gaba", 1, 0),
			record("c1", 7, "gaba", 1, 0),
			record("c2", 7, "gaba", 1, 0),
		}
	}

	first := build()
	AssignDuplicateNumbers(first, DefaultSeed)
	got := []int{first[0].DuplicateNumber, first[2].DuplicateNumber, first[3].DuplicateNumber}
	assert.ElementsMatch(t, []int{1, 2, 3}, got)
	assert.Equal(t, 1, first[1].DuplicateNumber)

	second := build()
	AssignDuplicateNumbers(second, DefaultSeed)
	for i := range first {
		assert.Equal(t, first[i].DuplicateNumber, second[i].DuplicateNumber)
	}
}

func TestExtractDuplicates(t *testing.T) {
	a := record("c0", 7, "gaba", 1, 1)
	b := record("c0", 8, "gaba", 1, 1)
	c := record("c1", 7, "gaba", 1, 2)
	d := record("c2", 7, "gaba", 1, 3)

	pairs := ExtractDuplicates([]*features.Record{a, b, c, d})
	assert.Equal(t, []*features.Record{a, c, a, d, c, d}, pairs)
	assert.Empty(t, ExtractDuplicates([]*features.Record{a, b}))
}

func TestGroupAll(t *testing.T) {
	a := record("c0", 1, "gaba", 2, 1)
	a.VesicleSizes = []int{5, 6}
	b := record("c1", 2, "glutamate", 1, 1)
	b.VesicleSizes = []int{4}

	c, err := GroupAll([]*features.Record{a, b}, []Feature{NumVesicles, VesicleSizes}, Unique)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"('by_nt_types', 'num_vesicles')",
		"('by_nt_types', 'vesicle_sizes')",
		"('by_annotators', 'num_vesicles')",
		"('by_annotators', 'vesicle_sizes')",
	}, c.Names())
	assert.Equal(t, []float64{5, 6}, c.Get(ByNTTypes, VesicleSizes).Get("gaba"))
	assert.Equal(t, []float64{1}, c.Get(ByAnnotators, NumVesicles).Get("c1"))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"('by_annotators', 'num_vesicles')":{"c0":[2],"c1":[1]}`)
}
