package records

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapseqc/pkg/features"
)

func sampleRecords() []*features.Record {
	return []*features.Record{
		{
			Annotator:                  "c0",
			ChunkNumber:                3,
			SynapseNumber:              1,
			SynapseID:                  1001,
			Neurotransmitter:           "gaba",
			CleftMeanIntensity:         features.Float(120.5),
			CleftMedianIntensity:       features.Float(118),
			CleftMembraneMeanIntensity: features.Float(90),
			CytosolMeanIntensity:       features.Float(150),
			PostCount:                  2,
			NumVesicles:                2,
			VesicleSizes:               []int{14, 22},
			VesicleEccentricities:      []float64{0.25, 0.5},
			VesicleCircularities:       []float64{0.9, 0.75},
			DuplicateNumber:            1,
		},
		{
			Annotator:             "c1",
			ChunkNumber:           0,
			SynapseNumber:         9,
			SynapseID:             1001,
			Neurotransmitter:      "gaba",
			VesicleSizes:          []int{},
			VesicleEccentricities: []float64{},
			VesicleCircularities:  []float64{},
			DuplicateNumber:       2,
		},
	}
}

func TestJSONFieldOrderAndNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, SaveJSON(path, sampleRecords()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	order := []string{`"annotator"`, `"synapse_id"`, `"cleft_mean_intensity"`, `"t-bars_median_intensity"`,
		`"cleft_normalized_mean_intensity"`, `"post_count"`, `"vesicle_sizes"`, `"duplicate_number"`}
	last := -1
	for _, field := range order {
		i := strings.Index(text, field)
		require.True(t, i > last, "field %s out of order", field)
		last = i
	}
	assert.Contains(t, text, `"t-bars_mean_intensity": null`)
	assert.NotContains(t, text, `"skip"`)

	loaded, err := LoadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), loaded)
}

func TestSaveJSONEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, SaveJSON(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var list []interface{}
	require.NoError(t, json.Unmarshal(data, &list))
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestLoadJSONMissingFile(t *testing.T) {
	_, err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Save(ctx, sampleRecords()))
	loaded, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), loaded)

	dups, err := db.BySynapseID(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, dups, 2)
	assert.Equal(t, "c1", dups[1].Annotator)

	// saving again replaces the catalogue
	require.NoError(t, db.Save(ctx, sampleRecords()[:1]))
	loaded, err = db.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}
