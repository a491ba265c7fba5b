package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapseqc/internal/models"
	"synapseqc/pkg/integrity"
	"synapseqc/pkg/lookup"
	"synapseqc/pkg/store"
)

var shape = models.Shape{Z: 2, Y: 4, X: 4}

// annotated builds a synapse whose label layers hold one large object each
func annotated(key models.SynapseKey) *models.Synapse {
	syn := &models.Synapse{Key: key, Layers: make(map[models.LayerName]*models.Volume)}
	for _, name := range models.AllLayers {
		data := make([]uint64, shape.Len())
		for i := 0; i < shape.Len()/2; i++ {
			if name == models.Raw {
				data[i] = uint64(10 + i)
			} else {
				data[i] = 1
			}
		}
		syn.Layers[name] = models.MustVolume(data, shape)
	}
	return syn
}

func key(annotator string, chunk, number int) models.SynapseKey {
	return models.SynapseKey{Annotator: annotator, Chunk: chunk, Number: number}
}

func testParams() *Params {
	dataset := store.NewMemory()
	dataset.PutSynapse(annotated(key("c0", 0, 0)))
	dataset.PutSynapse(annotated(key("c0", 0, 2)))
	dataset.PutSynapse(annotated(key("c1", 0, 0)))

	// only one layer present
	incomplete := annotated(key("c0", 1, 0))
	dataset.Put(store.LayerPath(incomplete.Key, models.Vesicles), incomplete.Layer(models.Vesicles))

	tables := lookup.New(
		map[string][]int64{"c0_0": {11, 12, 13}, "c0_1": {20}, "c1_0": {11}},
		map[int64]string{11: lookup.GABA, 12: lookup.GABA, 13: lookup.Glutamate, 20: lookup.GABA},
	)

	return &Params{
		Dataset:          dataset,
		Tables:           tables,
		Annotators:       []string{"c0", "c1", "c2"},
		MaxChunks:        3,
		SynapsesPerChunk: 10,
		NumCores:         4,
		Checks:           integrity.DefaultOptions(),
		DuplicateSeed:    42,
	}
}

func TestExtractOrderAndDuplicates(t *testing.T) {
	runner := NewRunner(testParams())
	recs, err := runner.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)

	got := make([]models.SynapseKey, len(recs))
	for i, r := range recs {
		got[i] = key(r.Annotator, r.ChunkNumber, r.SynapseNumber)
	}
	assert.Equal(t, []models.SynapseKey{key("c0", 0, 0), key("c0", 0, 2), key("c1", 0, 0)}, got)

	assert.Equal(t, int64(13), recs[1].SynapseID)
	assert.Equal(t, lookup.Glutamate, recs[1].Neurotransmitter)
	assert.Equal(t, 1, recs[1].DuplicateNumber)
	assert.ElementsMatch(t, []int{1, 2}, []int{recs[0].DuplicateNumber, recs[2].DuplicateNumber})

	summary := runner.Summary()
	assert.Equal(t, 3, summary.Chunks)
	assert.Equal(t, 3, summary.Synapses)
}

func TestExtractIsDeterministic(t *testing.T) {
	first, err := NewRunner(testParams()).Extract(context.Background())
	require.NoError(t, err)
	second, err := NewRunner(testParams()).Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractSkipsSynapsesMissingFromTables(t *testing.T) {
	full := NewRunner(testParams())
	_, err := full.Extract(context.Background())
	require.NoError(t, err)

	params := testParams()
	params.Tables = lookup.New(
		map[string][]int64{"c0_0": {11, 12, 13}, "c0_1": {20}},
		map[int64]string{11: lookup.GABA, 12: lookup.GABA, 13: lookup.Glutamate, 20: lookup.GABA},
	)
	runner := NewRunner(params)
	recs, err := runner.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c0", recs[0].Annotator)
	assert.Equal(t, "c0", recs[1].Annotator)
	assert.Equal(t, 1, recs[0].DuplicateNumber)

	assert.Equal(t, 2, runner.Summary().Synapses)
	assert.Equal(t, full.Summary().Missing+1, runner.Summary().Missing)
}

func TestExtractNeedsTables(t *testing.T) {
	params := testParams()
	params.Tables = nil
	_, err := NewRunner(params).Extract(context.Background())
	assert.Error(t, err)
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(testParams()).Extract(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckReportsAndSnapshots(t *testing.T) {
	params := testParams()
	params.SnapshotDir = t.TempDir()

	// label 5 split into two objects
	broken := annotated(key("c0", 0, 2))
	vesicles := make([]uint64, shape.Len())
	vesicles[0], vesicles[shape.Len()-1] = 5, 5
	broken.Layers[models.Vesicles] = models.MustVolume(vesicles, shape)
	params.Dataset.(*store.Memory).PutSynapse(broken)

	reports, err := NewRunner(params).Check(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.True(t, reports[0].OK(), "unexpected findings: %+v", reports[0].Findings)
	assert.Equal(t, "synapses_c0_0/2", reports[1].Synapse)
	assert.True(t, reports[1].Has(integrity.NonUnique, models.Vesicles))
	assert.True(t, reports[2].OK())

	snapshot := filepath.Join(params.SnapshotDir, "synapses_c0_0", "2", "vesicles", "slice_z_000.png")
	_, err = os.Stat(snapshot)
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(params.SnapshotDir, "synapses_c0_0", "0"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckComparesSourceData(t *testing.T) {
	params := testParams()
	params.Checks.BackgroundWidth = 1
	source := store.NewMemory()
	params.Source = source

	// a source chunk with 10 synapses of width 4 separated by width 1
	width := 10*4 + 11
	data := make([]uint64, shape.Z*shape.Y*width)
	src := annotated(key("c0", 0, 0)).Layer(models.Raw)
	start, _ := integrity.SourceRange(width, 1, 10, 0)
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				data[z*shape.Y*width+y*width+start+x] = src.At(z, y, x)
			}
		}
	}
	source.Put(store.SourceRawPath(key("c0", 0, 0)), models.MustVolume(data, models.Shape{Z: shape.Z, Y: shape.Y, X: width}))

	reports, err := NewRunner(params).Check(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)
	// synapse 0 matches its slot, synapse 2 does not
	assert.False(t, reports[0].Has(integrity.RawMismatch, models.Raw))
	assert.True(t, reports[1].Has(integrity.RawMismatch, models.Raw))
	// no source chunk for c1
	assert.False(t, reports[2].Has(integrity.RawMismatch, models.Raw))
}
