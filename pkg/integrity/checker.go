// Package integrity runs structural quality checks on annotated synapses.
// Checks never abort: every problem becomes a Finding in the synapse's Report.
package integrity

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"synapseqc/internal/logging"
	"synapseqc/internal/models"
	"synapseqc/pkg/components"
	"synapseqc/pkg/store"
)

// Kind names a class of finding
type Kind string

const (
	Empty             Kind = "empty"
	NonUnique         Kind = "non-unique"
	Dust              Kind = "dust"
	ExcessLabels      Kind = "excess-labels"
	MissingBackground Kind = "missing-background"
	RawMismatch       Kind = "raw-mismatch"
)

// Layers checked by the individual checks
var (
	uniqueLayers      = []models.LayerName{models.Vesicles, models.Posts}
	singleLabelLayers = []models.LayerName{models.Cleft, models.CleftMembrane, models.Cytosol, models.TBars}
)

// Finding is one problem found in one layer of a synapse
type Finding struct {
	Kind   Kind             `json:"kind"`
	Layer  models.LayerName `json:"layer"`
	Detail string           `json:"detail,omitempty"`

	// Count carries the size of the problem where one applies: extra
	// components for non-unique layers, distinct nonzero labels for layers
	// with excess labels, dust labels for dusty layers.
	Count int `json:"count,omitempty"`
}

// Report collects the findings of one synapse
type Report struct {
	Key      models.SynapseKey `json:"-"`
	Synapse  string            `json:"synapse"`
	Findings []Finding         `json:"findings"`
}

// OK reports whether no check found a problem.
func (r *Report) OK() bool {
	return len(r.Findings) == 0
}

// Has reports whether a finding of the given kind was raised for layer.
func (r *Report) Has(kind Kind, layer models.LayerName) bool {
	return r.Find(kind, layer) != nil
}

// Find returns the finding of the given kind for layer, or nil.
func (r *Report) Find(kind Kind, layer models.LayerName) *Finding {
	for i := range r.Findings {
		if r.Findings[i].Kind == kind && r.Findings[i].Layer == layer {
			return &r.Findings[i]
		}
	}
	return nil
}

// Layers returns the layers flagged with the given kind, in check order.
func (r *Report) Layers(kind Kind) []models.LayerName {
	var layers []models.LayerName
	for _, f := range r.Findings {
		if f.Kind == kind {
			layers = append(layers, f.Layer)
		}
	}
	return layers
}

// Log writes the findings as warnings, one line per kind.
func (r *Report) Log() {
	messages := []struct {
		kind   Kind
		format string
	}{
		{Empty, "%s: no annotations in layers %v"},
		{NonUnique, "%s: non-unique IDs in layers %v"},
		{Dust, "%s: dust in layers %v"},
		{ExcessLabels, "%s: more than one label in layers %v"},
	}
	for _, m := range messages {
		if layers := r.Layers(m.kind); len(layers) > 0 {
			logging.Warningf(m.format, r.Synapse, layers)
		}
	}
	for _, f := range r.Findings {
		switch f.Kind {
		case NonUnique:
			logging.Warningf("%s: %s %s", r.Synapse, f.Layer, f.Detail)
		case MissingBackground:
			logging.Warningf("%s: no 0 label in layer %s!", r.Synapse, f.Layer)
		case RawMismatch:
			logging.Warningf("%s: raw data does not match source data (%s)", r.Synapse, f.Detail)
		}
	}
}

// Options configures a Checker
type Options struct {
	// DustThreshold is the largest voxel count of a label considered dust
	DustThreshold int

	// ExemptBackground skips label 0 in the dust scan
	ExemptBackground bool

	// BackgroundWidth is the spacing between synapses in the source chunks
	BackgroundWidth int

	// SynapsesPerChunk is the number of synapses tiled along X in a source chunk
	SynapsesPerChunk int
}

// DefaultOptions returns the options used for the published dataset
func DefaultOptions() Options {
	return Options{
		DustThreshold:    10,
		ExemptBackground: false,
		BackgroundWidth:  50,
		SynapsesPerChunk: 10,
	}
}

// Checker runs the annotation checks. It keeps no state between synapses and
// may be shared between goroutines.
type Checker struct {
	opts   Options
	source store.Store
}

// NewChecker creates a checker. source holds the full-chunk raw volumes used
// by the cross-consistency check; nil disables that check.
func NewChecker(opts Options, source store.Store) *Checker {
	if opts.SynapsesPerChunk <= 0 {
		opts.SynapsesPerChunk = 10
	}
	return &Checker{opts: opts, source: source}
}

// Check runs every check on syn. A synapse with a missing or mis-shaped
// layer is an error.
func (c *Checker) Check(syn *models.Synapse) (*Report, error) {
	if err := syn.Validate(); err != nil {
		return nil, err
	}
	report := &Report{Key: syn.Key, Synapse: syn.Key.String()}

	report.Findings = append(report.Findings, FindEmptyLayers(syn)...)
	report.Findings = append(report.Findings, FindNonUniqueLayers(syn)...)
	report.Findings = append(report.Findings, FindDust(syn, c.opts.DustThreshold, c.opts.ExemptBackground)...)
	report.Findings = append(report.Findings, FindExcessLabels(syn)...)
	if c.source != nil {
		if f := c.compareIntensities(syn); f != nil {
			report.Findings = append(report.Findings, *f)
		}
	}
	return report, nil
}

// FindEmptyLayers flags label layers holding a single distinct value.
func FindEmptyLayers(syn *models.Synapse) []Finding {
	var findings []Finding
	for _, name := range models.LabelLayers {
		if len(syn.Layer(name).Unique()) <= 1 {
			findings = append(findings, Finding{Kind: Empty, Layer: name})
		}
	}
	return findings
}

// FindNonUniqueLayers flags vesicle and post layers in which one label ID
// covers more than one connected object.
func FindNonUniqueLayers(syn *models.Synapse) []Finding {
	var findings []Finding
	for _, name := range uniqueLayers {
		layer := syn.Layer(name)
		extra := 0
		var labels []string
		for _, label := range layer.Labels() {
			if n := components.CountLabelComponents(layer, label); n > 1 {
				extra += n - 1
				labels = append(labels, fmt.Sprint(label))
			}
		}
		if extra > 0 {
			findings = append(findings, Finding{
				Kind:   NonUnique,
				Layer:  name,
				Count:  extra,
				Detail: fmt.Sprintf("found %d extra %s for labels [%s]", extra, plural(extra, "component"), strings.Join(labels, " ")),
			})
		}
	}
	return findings
}

// FindDust flags label layers in which some value covers at most maxSize
// voxels. Background is scanned too unless exemptBackground is set.
func FindDust(syn *models.Synapse, maxSize int, exemptBackground bool) []Finding {
	var findings []Finding
	for _, name := range models.LabelLayers {
		hist := syn.Layer(name).Histogram()
		var dusty []uint64
		for value, count := range hist {
			if value == 0 && exemptBackground {
				continue
			}
			if count <= maxSize {
				dusty = append(dusty, value)
			}
		}
		if len(dusty) == 0 {
			continue
		}
		sort.Slice(dusty, func(i, j int) bool { return dusty[i] < dusty[j] })
		findings = append(findings, Finding{
			Kind:   Dust,
			Layer:  name,
			Count:  len(dusty),
			Detail: fmt.Sprintf("labels %v have at most %d voxels", dusty, maxSize),
		})
	}
	return findings
}

// FindExcessLabels flags single-object layers carrying more than one nonzero
// label. A layer without background gets a missing-background finding
// instead and is not counted.
func FindExcessLabels(syn *models.Synapse) []Finding {
	var findings []Finding
	for _, name := range singleLabelLayers {
		unique := syn.Layer(name).Unique()
		if len(unique) == 0 || unique[0] != 0 {
			findings = append(findings, Finding{
				Kind:   MissingBackground,
				Layer:  name,
				Detail: fmt.Sprintf("array %v does not contain 0", unique),
			})
			continue
		}
		if n := len(unique) - 1; n > 1 {
			findings = append(findings, Finding{
				Kind:   ExcessLabels,
				Layer:  name,
				Count:  n,
				Detail: fmt.Sprintf("%d labels", n),
			})
		}
	}
	return findings
}

// SourceRange returns the X range [start, end) a synapse occupies in a source
// chunk of the given width. Synapses are tiled left to right, separated and
// framed by background strips of backgroundWidth.
func SourceRange(sourceWidth, backgroundWidth, synapsesPerChunk, number int) (int, int) {
	synapseWidth := (sourceWidth - (synapsesPerChunk+1)*backgroundWidth) / synapsesPerChunk
	start := backgroundWidth + number*(synapseWidth+backgroundWidth)
	return start, start + synapseWidth
}

// compareIntensities checks the stored raw layer against the region of the
// source chunk the synapse was cut from. Missing source data skips the check.
func (c *Checker) compareIntensities(syn *models.Synapse) *Finding {
	path := store.SourceRawPath(syn.Key)
	source, err := c.source.Get(path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logging.Warningf("%s: no source data at %s, skipping raw comparison", syn.Key, path)
		} else {
			logging.Errorf("%s: failed to read source data: %v", syn.Key, err)
		}
		return nil
	}

	start, end := SourceRange(source.Shape().X, c.opts.BackgroundWidth, c.opts.SynapsesPerChunk, syn.Key.Number)
	region, err := source.CropX(start, end)
	if err != nil {
		return &Finding{Kind: RawMismatch, Layer: models.Raw, Detail: err.Error()}
	}

	raw := syn.Layer(models.Raw)
	if region.Shape() != raw.Shape() {
		return &Finding{
			Kind:   RawMismatch,
			Layer:  models.Raw,
			Detail: fmt.Sprintf("shape %s differs from source region %s", raw.Shape(), region.Shape()),
		}
	}
	if !raw.Equal(region) {
		differing := 0
		for i := 0; i < raw.Len(); i++ {
			if raw.Value(i) != region.Value(i) {
				differing++
			}
		}
		return &Finding{
			Kind:   RawMismatch,
			Layer:  models.Raw,
			Count:  differing,
			Detail: fmt.Sprintf("%d voxels differ from source x range [%d:%d]", differing, start, end),
		}
	}
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
