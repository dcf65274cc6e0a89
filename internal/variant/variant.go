// Package variant turns one solver configuration into a concrete variant:
// the selected features, the components they need, and (unless only
// statistics are requested) an installation tree on disk.
package variant

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"varforge/internal/catalog"
	"varforge/internal/depgraph"
	"varforge/internal/logger"
	"varforge/internal/solver"
	"varforge/internal/workspace"
)

// Mode selects how much of a variant is written to disk.
type Mode int

const (
	// ModeFull copies the installation and fixes its bundle list.
	ModeFull Mode = iota
	// ModeMetadata copies the installation and keeps only descriptor files.
	ModeMetadata
	// ModeStatistics writes nothing; only counts and timings are produced.
	ModeStatistics
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeMetadata:
		return "metadata"
	case ModeStatistics:
		return "statistics"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFor maps the run flags to a mode. Statistics-only wins over
// keep-only-metadata.
func ModeFor(keepOnlyMetadata, onlyStatistics bool) Mode {
	switch {
	case onlyStatistics:
		return ModeStatistics
	case keepOnlyMetadata:
		return ModeMetadata
	default:
		return ModeFull
	}
}

// DefaultMetadataPatterns are the files kept by ModeMetadata.
var DefaultMetadataPatterns = []string{"**/*.MF", "**/*.properties", "**/*.xml"}

// Variant is one product of the line.
type Variant struct {
	Index      int
	Name       string
	Features   []*catalog.Feature
	Components []*catalog.Component
	// Dir is empty in ModeStatistics.
	Dir string
}

// Result is the outcome of materializing one variant. Errors holds local
// failures that did not stop the variant.
type Result struct {
	Variant Variant
	Mode    Mode
	Elapsed time.Duration
	Errors  []error
}

// ReportLine renders the result as a report row:
// index;"Variant_index";features;plugins;millis.
func (r Result) ReportLine() string {
	return fmt.Sprintf("%d;\"%s\";%d;%d;%d",
		r.Variant.Index, r.Variant.Name,
		len(r.Variant.Features), len(r.Variant.Components),
		r.Elapsed.Milliseconds())
}

// ReportHeader is the header row matching ReportLine.
const ReportHeader = `"Variant";"Name";"Selectedfeatures";"Plugins";"Milliseconds"`

// Materializer builds variants for one run. It is safe for concurrent use
// as long as different indices are materialized.
type Materializer struct {
	Analyzer  *depgraph.Analyzer
	Features  *catalog.FeatureCatalog
	Files     []catalog.Element
	Workspace *workspace.Workspace
	Mode      Mode
	// MetadataPatterns override DefaultMetadataPatterns in ModeMetadata.
	MetadataPatterns []string
}

// Resolve computes the features and components of variant index.
//
// Selected features come first in catalog order, then mandatory features not
// already selected. Components follow feature order, deduplicated by id,
// then every component no feature depends on.
func (m *Materializer) Resolve(index int, cfg solver.Configuration) Variant {
	v := Variant{Index: index, Name: workspace.VariantName(index)}

	chosen := make(map[string]bool)
	for _, i := range cfg.SelectedIndices(m.Features.Len()) {
		f, _ := m.Features.At(i)
		chosen[f.ID] = true
		v.Features = append(v.Features, f)
	}
	for _, f := range m.Analyzer.MandatoryFeatures() {
		if !chosen[f.ID] {
			chosen[f.ID] = true
			v.Features = append(v.Features, f)
		}
	}

	seen := make(map[string]bool)
	add := func(cs []*catalog.Component) {
		for _, c := range cs {
			if !seen[c.ID] {
				seen[c.ID] = true
				v.Components = append(v.Components, c)
			}
		}
	}
	for _, f := range v.Features {
		add(m.Analyzer.ComponentsFor(f))
	}
	add(m.Analyzer.ComponentsWithoutFeatureDependency())
	return v
}

// Materialize resolves variant index and writes it according to the mode.
// Copy failures are collected in Result.Errors.
func (m *Materializer) Materialize(ctx context.Context, index int, cfg solver.Configuration) Result {
	start := time.Now()
	res := Result{Variant: m.Resolve(index, cfg), Mode: m.Mode}
	if m.Mode != ModeStatistics {
		res.Errors = m.write(ctx, &res.Variant)
	}
	res.Elapsed = time.Since(start)

	log := logger.ForComponent("variant")
	for _, err := range res.Errors {
		log.Warn("variant error", "variant", res.Variant.Name, "err", err)
	}
	log.Debug("variant done",
		"variant", res.Variant.Name,
		"features", len(res.Variant.Features),
		"components", len(res.Variant.Components),
		"elapsed", res.Elapsed)
	return res
}

func (m *Materializer) write(ctx context.Context, v *Variant) []error {
	dir, err := m.Workspace.ResetVariant(v.Index)
	if err != nil {
		return []error{err}
	}
	v.Dir = dir

	var errs []error
	copyInto := func(dst, src string) bool {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name, err))
			return false
		}
		if err := workspace.CopyInto(dst, src); err != nil {
			errs = append(errs, fmt.Errorf("%s: copy %s: %w", v.Name, src, err))
		}
		return true
	}

	for _, e := range m.Files {
		if !copyInto(dir, e.Path) {
			return errs
		}
	}
	featuresDir := filepath.Join(dir, catalog.FeaturesDir)
	for _, f := range v.Features {
		if !copyInto(featuresDir, m.Analyzer.PathForFeature(f)) {
			return errs
		}
	}
	pluginsDir := filepath.Join(dir, catalog.PluginsDir)
	for _, c := range v.Components {
		if !copyInto(pluginsDir, c.Path) {
			return errs
		}
	}

	switch m.Mode {
	case ModeFull:
		if err := RewriteBundlesInfo(dir, v.Components); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name, err))
		}
	case ModeMetadata:
		patterns := m.MetadataPatterns
		if len(patterns) == 0 {
			patterns = DefaultMetadataPatterns
		}
		errs = append(errs, KeepOnlyMetadata(dir, patterns)...)
	}
	return errs
}

// FeatureIDs lists the ids of v's features.
func (v Variant) FeatureIDs() []string {
	ids := make([]string, len(v.Features))
	for i, f := range v.Features {
		ids[i] = f.ID
	}
	return ids
}

// ComponentIDs lists the ids of v's components.
func (v Variant) ComponentIDs() []string {
	ids := make([]string, len(v.Components))
	for i, c := range v.Components {
		ids[i] = c.ID
	}
	return ids
}

// ErrorStrings renders r.Errors for serialisation.
func (r Result) ErrorStrings() []string {
	var out []string
	for _, err := range r.Errors {
		out = append(out, strings.TrimSpace(err.Error()))
	}
	return out
}
