// Package pipeline drives the annotation checks and the feature extraction
// over every annotator, chunk and synapse of a dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"synapseqc/internal/logging"
	"synapseqc/internal/models"
	"synapseqc/pkg/catalog"
	"synapseqc/pkg/config"
	"synapseqc/pkg/features"
	"synapseqc/pkg/integrity"
	"synapseqc/pkg/lookup"
	"synapseqc/pkg/store"
	"synapseqc/pkg/visualization"
)

// Params holds the inputs and settings of a run
type Params struct {
	// Dataset holds the annotated synapses
	Dataset store.Store

	// Source holds the full-chunk raw volumes. nil disables the raw comparison.
	Source store.Store

	// Tables resolves synapse IDs and neurotransmitters. Only Extract needs it.
	Tables *lookup.Tables

	// Annotators lists the annotator tags to scan
	Annotators []string

	// MaxChunks is the number of chunk numbers scanned per annotator
	MaxChunks int

	// SynapsesPerChunk is the number of synapse slots scanned per chunk
	SynapsesPerChunk int

	// NumCores bounds how many synapses of a chunk are processed at once
	NumCores int

	// Checks configures the annotation checks
	Checks integrity.Options

	// SnapshotDir receives PNG planes of flagged layers when set
	SnapshotDir string

	// SnapshotAxis is the axis snapshot planes are cut along
	SnapshotAxis string

	// DuplicateSeed seeds the duplicate number assignment
	DuplicateSeed int64
}

// ParamsFromConfig opens the stores and lookup tables named by cfg. A
// missing source directory disables the raw comparison with a warning.
func ParamsFromConfig(cfg *config.Config, withTables bool) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dataset, err := store.Open(cfg.Dataset.Path)
	if err != nil {
		return nil, err
	}

	params := &Params{
		Dataset:          dataset,
		Annotators:       cfg.Dataset.Annotators,
		MaxChunks:        cfg.Dataset.MaxChunks,
		SynapsesPerChunk: cfg.Dataset.SynapsesPerChunk,
		NumCores:         cfg.Processing.NumCores,
		Checks: integrity.Options{
			DustThreshold:    cfg.Checks.DustThreshold,
			ExemptBackground: cfg.Checks.ExemptBackground,
			BackgroundWidth:  cfg.Checks.BackgroundWidth,
			SynapsesPerChunk: cfg.Dataset.SynapsesPerChunk,
		},
		SnapshotDir:   cfg.Checks.SnapshotDir,
		SnapshotAxis:  cfg.Checks.SnapshotAxis,
		DuplicateSeed: cfg.Processing.DuplicateSeed,
	}

	if cfg.Dataset.SourcePath != "" {
		source, err := store.Open(cfg.Dataset.SourcePath)
		if err != nil {
			logging.Warningf("source data unavailable, raw comparison disabled: %v", err)
		} else {
			params.Source = source
		}
	}

	if withTables {
		tables, err := lookup.Load(cfg.Lookup.FileToIDs, cfg.Lookup.IDsToNT)
		if err != nil {
			return nil, err
		}
		params.Tables = tables
	}
	return params, nil
}

// Summary counts what a run visited
type Summary struct {
	Chunks   int
	Synapses int
	Missing  int
}

// Runner runs the checks and the extraction
type Runner struct {
	params    *Params
	checker   *integrity.Checker
	extractor *features.Extractor
	summary   Summary
}

// NewRunner creates a runner for params
func NewRunner(params *Params) *Runner {
	if params.NumCores < 1 {
		params.NumCores = 1
	}
	if params.SynapsesPerChunk < 1 {
		params.SynapsesPerChunk = 10
	}
	if params.SnapshotAxis == "" {
		params.SnapshotAxis = "z"
	}
	return &Runner{
		params:    params,
		checker:   integrity.NewChecker(params.Checks, params.Source),
		extractor: features.NewExtractor(params.Tables),
	}
}

// Summary returns the counts of the last run
func (r *Runner) Summary() Summary {
	return r.summary
}

// chunks lists, per annotator and chunk in order, the synapse keys present in
// the dataset. Chunks and synapse slots absent from the store are skipped.
func (r *Runner) chunks() [][]models.SynapseKey {
	r.summary = Summary{}
	var chunks [][]models.SynapseKey
	for _, annotator := range r.params.Annotators {
		for chunk := 0; chunk < r.params.MaxChunks; chunk++ {
			group := models.SynapseKey{Annotator: annotator, Chunk: chunk}.ChunkGroup()
			if !r.params.Dataset.Has(group) {
				logging.Debugf("%s not in dataset, skipping", group)
				continue
			}
			r.summary.Chunks++

			var keys []models.SynapseKey
			for n := 0; n < r.params.SynapsesPerChunk; n++ {
				key := models.SynapseKey{Annotator: annotator, Chunk: chunk, Number: n}
				if !r.params.Dataset.Has(key.String()) {
					logging.Debugf("%s not in dataset, skipping", key)
					r.summary.Missing++
					continue
				}
				keys = append(keys, key)
			}
			chunks = append(chunks, keys)
		}
	}
	return chunks
}

// load reads a synapse. A missing layer skips the synapse: it returns nil
// without error.
func (r *Runner) load(key models.SynapseKey) (*models.Synapse, error) {
	syn, err := store.LoadSynapse(r.params.Dataset, key)
	if errors.Is(err, store.ErrNotFound) {
		logging.Warningf("%s: incomplete synapse, skipping: %v", key, err)
		return nil, nil
	}
	return syn, err
}

// forEach runs fn on the synapses of one chunk in parallel. Results are
// stored by index so the output keeps synapse order.
func forEach[T any](ctx context.Context, numCores int, keys []models.SynapseKey, fn func(models.SynapseKey) (T, error)) ([]T, error) {
	results := make([]T, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numCores)
	for i, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := fn(key)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Check runs the annotation checks on every synapse and logs the findings.
func (r *Runner) Check(ctx context.Context) ([]*integrity.Report, error) {
	if r.params.SnapshotDir != "" {
		if err := os.MkdirAll(r.params.SnapshotDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %v", err)
		}
	}

	var reports []*integrity.Report
	for _, keys := range r.chunks() {
		if len(keys) == 0 {
			continue
		}
		fmt.Printf("Checking %s: %d synapses\n", keys[0].ChunkGroup(), len(keys))

		chunkReports, err := forEach(ctx, r.params.NumCores, keys, func(key models.SynapseKey) (*integrity.Report, error) {
			syn, err := r.load(key)
			if err != nil || syn == nil {
				return nil, err
			}
			report, err := r.checker.Check(syn)
			if err != nil {
				return nil, err
			}
			if !report.OK() && r.params.SnapshotDir != "" {
				if err := visualization.SaveLayerSnapshots(syn, flaggedLayers(report), r.params.SnapshotDir, r.params.SnapshotAxis); err != nil {
					fmt.Printf("Warning: Failed to save snapshots of %s: %v\n", key, err)
				}
			}
			return report, nil
		})
		if err != nil {
			return nil, err
		}

		for _, report := range chunkReports {
			if report == nil {
				continue
			}
			r.summary.Synapses++
			report.Log()
			reports = append(reports, report)
		}
	}
	return reports, nil
}

// flaggedLayers lists each layer named by a finding once
func flaggedLayers(report *integrity.Report) []models.LayerName {
	seen := make(map[models.LayerName]bool)
	var layers []models.LayerName
	for _, f := range report.Findings {
		if !seen[f.Layer] {
			seen[f.Layer] = true
			layers = append(layers, f.Layer)
		}
	}
	return layers
}

// Extract computes the feature record of every synapse, in annotator, chunk
// and synapse order, then numbers the duplicate annotations. Synapses missing
// from the lookup tables are skipped with a warning and counted as missing.
func (r *Runner) Extract(ctx context.Context) ([]*features.Record, error) {
	if r.params.Tables == nil {
		return nil, fmt.Errorf("feature extraction needs lookup tables")
	}

	type result struct {
		key      models.SynapseKey
		record   *features.Record
		warnings []string
		unknown  error
	}

	var recs []*features.Record
	for _, keys := range r.chunks() {
		if len(keys) == 0 {
			continue
		}
		fmt.Printf("Extracting %s: %d synapses\n", keys[0].ChunkGroup(), len(keys))

		results, err := forEach(ctx, r.params.NumCores, keys, func(key models.SynapseKey) (result, error) {
			syn, err := r.load(key)
			if err != nil || syn == nil {
				return result{}, err
			}
			rec, warnings, err := r.extractor.Extract(syn)
			if errors.Is(err, lookup.ErrUnknownSynapse) {
				return result{key: key, unknown: err}, nil
			}
			if err != nil {
				return result{}, err
			}
			return result{key: key, record: rec, warnings: warnings}, nil
		})
		if err != nil {
			return nil, err
		}

		for _, res := range results {
			if res.unknown != nil {
				logging.Warningf("%s: not in lookup tables, skipping: %v", res.key, res.unknown)
				r.summary.Missing++
				continue
			}
			for _, w := range res.warnings {
				logging.Warningf("%s", w)
			}
			if res.record == nil {
				continue
			}
			if res.record.Skipped() {
				logging.Infof("%s: no annotations, recorded as skipped", res.key)
			}
			r.summary.Synapses++
			recs = append(recs, res.record)
		}
	}

	catalog.AssignDuplicateNumbers(recs, r.params.DuplicateSeed)
	return recs, nil
}
