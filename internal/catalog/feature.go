package catalog

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"varforge/internal/logger"
	"varforge/internal/semver"
)

const (
	featureDescriptor = "feature.xml"
	featureProperties = "feature.properties"
)

// DefaultExcludedFeaturePrefixes filters packaging-only aggregator features.
var DefaultExcludedFeaturePrefixes = []string{"org.eclipse.epp.package."}

// Inclusion is a feature nested inside another feature.
type Inclusion struct {
	ID       string `yaml:"id"`
	Optional bool   `yaml:"optional,omitempty"`
}

// Feature is one selectable unit of the product line.
type Feature struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
	Label   string `yaml:"label,omitempty"`
	// Path is the absolute feature directory or jar file.
	Path    string `yaml:"path"`
	Archive bool   `yaml:"archive,omitempty"`
	// Plugins lists the bundle ids this feature packages.
	Plugins  []string    `yaml:"plugins,omitempty"`
	Includes []Inclusion `yaml:"includes,omitempty"`
	// RequiresFeatures and RequiresPlugins come from <requires><import/>.
	RequiresFeatures []string `yaml:"requires_features,omitempty"`
	RequiresPlugins  []string `yaml:"requires_plugins,omitempty"`
}

// FeatureCatalog is the active, ordered feature list of one installation.
// Its order is the export order of the feature model.
type FeatureCatalog struct {
	Features []*Feature
	Skipped  []Skip
	// Excluded lists ids dropped by prefix.
	Excluded []string
	byID     map[string]*Feature
	index    map[string]int
}

// NewFeatureCatalog indexes features in the given order. Of several
// features sharing an id the newest version wins and takes the position of
// the first one seen.
func NewFeatureCatalog(features []*Feature) *FeatureCatalog {
	fc := &FeatureCatalog{
		byID:  make(map[string]*Feature, len(features)),
		index: make(map[string]int, len(features)),
	}
	for _, f := range features {
		existing, dup := fc.byID[f.ID]
		if !dup {
			fc.byID[f.ID] = f
			fc.index[f.ID] = len(fc.Features)
			fc.Features = append(fc.Features, f)
			continue
		}
		loser := f
		if semver.Newer(f.Version, existing.Version) {
			loser = existing
			fc.byID[f.ID] = f
			fc.Features[fc.index[f.ID]] = f
		}
		fc.Skipped = append(fc.Skipped, Skip{
			Path:   loser.Path,
			Reason: fmt.Sprintf("duplicate feature id %s (keeping newest version)", f.ID),
		})
	}
	return fc
}

// Lookup returns the feature with the given id.
func (fc *FeatureCatalog) Lookup(id string) (*Feature, bool) {
	f, ok := fc.byID[id]
	return f, ok
}

// IndexOf returns the zero-based position of id in export order.
func (fc *FeatureCatalog) IndexOf(id string) (int, bool) {
	i, ok := fc.index[id]
	return i, ok
}

// At returns the feature at a zero-based export position.
func (fc *FeatureCatalog) At(i int) (*Feature, bool) {
	if i < 0 || i >= len(fc.Features) {
		return nil, false
	}
	return fc.Features[i], true
}

// Len returns the number of active features.
func (fc *FeatureCatalog) Len() int { return len(fc.Features) }

// FeatureOptions tunes LoadFeatures.
type FeatureOptions struct {
	// ExcludePrefixes drops features whose id starts with any prefix.
	ExcludePrefixes []string
	// Exclude holds doublestar patterns matched against feature ids.
	Exclude []string
}

func (o FeatureOptions) excluded(id string) bool {
	for _, p := range o.ExcludePrefixes {
		if p != "" && strings.HasPrefix(id, p) {
			return true
		}
	}
	for _, pattern := range o.Exclude {
		if match, _ := doublestar.Match(pattern, id); match {
			return true
		}
	}
	return false
}

// LoadFeatures reads every feature under <root>/features and filters excluded
// ids once. Unreadable descriptors are logged and skipped.
func LoadFeatures(root string, opts FeatureOptions) (*FeatureCatalog, error) {
	log := logger.ForComponent("catalog")

	dir := filepath.Join(root, FeaturesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}

	var features []*Feature
	var skipped []Skip
	var excluded []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		var f *Feature
		switch {
		case e.IsDir():
			f, err = FeatureFromDir(path)
		case strings.EqualFold(filepath.Ext(e.Name()), ".jar"):
			f, err = FeatureFromArchive(path)
		default:
			continue
		}
		if err != nil {
			log.Warn("skipping feature", "path", path, "err", err)
			skipped = append(skipped, Skip{Path: path, Reason: err.Error()})
			continue
		}
		if opts.excluded(f.ID) {
			excluded = append(excluded, f.ID)
			continue
		}
		features = append(features, f)
	}

	fc := NewFeatureCatalog(features)
	fc.Skipped = append(skipped, fc.Skipped...)
	fc.Excluded = excluded
	log.Info("feature catalog built", "features", fc.Len(), "excluded", len(excluded), "skipped", len(fc.Skipped))
	return fc, nil
}

// FeatureFromDir reads <dir>/feature.xml. A %key label is resolved from
// feature.properties when present.
func FeatureFromDir(dir string) (*Feature, error) {
	fd, err := os.Open(filepath.Join(dir, featureDescriptor))
	if err != nil {
		return nil, fmt.Errorf("open descriptor: %w", err)
	}
	defer fd.Close()

	f, err := decodeFeature(fd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if key, ok := strings.CutPrefix(f.Label, "%"); ok {
		if props, err := os.Open(filepath.Join(dir, featureProperties)); err == nil {
			if v, ok := readProperties(props)[key]; ok {
				f.Label = v
			}
			props.Close()
		}
	}
	if f.Path, err = filepath.Abs(dir); err != nil {
		return nil, err
	}
	return f, nil
}

// FeatureFromArchive reads feature.xml from a packaged feature.
func FeatureFromArchive(jarFile string) (*Feature, error) {
	zr, err := zip.OpenReader(jarFile)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	rc, err := openEntry(&zr.Reader, featureDescriptor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", jarFile, err)
	}
	defer rc.Close()

	f, err := decodeFeature(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", jarFile, err)
	}
	f.Archive = true
	if f.Path, err = filepath.Abs(jarFile); err != nil {
		return nil, err
	}
	return f, nil
}

type xmlFeature struct {
	XMLName  xml.Name `xml:"feature"`
	ID       string   `xml:"id,attr"`
	Version  string   `xml:"version,attr"`
	Label    string   `xml:"label,attr"`
	Includes []struct {
		ID       string `xml:"id,attr"`
		Optional bool   `xml:"optional,attr"`
	} `xml:"includes"`
	Requires struct {
		Imports []struct {
			Feature string `xml:"feature,attr"`
			Plugin  string `xml:"plugin,attr"`
		} `xml:"import"`
	} `xml:"requires"`
	Plugins []struct {
		ID string `xml:"id,attr"`
	} `xml:"plugin"`
}

func decodeFeature(r io.Reader) (*Feature, error) {
	var x xmlFeature
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, fmt.Errorf("decode %s: %w", featureDescriptor, err)
	}
	if strings.TrimSpace(x.ID) == "" {
		return nil, fmt.Errorf("%s: missing feature id", featureDescriptor)
	}
	f := &Feature{
		ID:      strings.TrimSpace(x.ID),
		Version: strings.TrimSpace(x.Version),
		Label:   strings.TrimSpace(x.Label),
	}
	for _, inc := range x.Includes {
		if id := strings.TrimSpace(inc.ID); id != "" {
			f.Includes = append(f.Includes, Inclusion{ID: id, Optional: inc.Optional})
		}
	}
	for _, imp := range x.Requires.Imports {
		if id := strings.TrimSpace(imp.Feature); id != "" {
			f.RequiresFeatures = append(f.RequiresFeatures, id)
		}
		if id := strings.TrimSpace(imp.Plugin); id != "" {
			f.RequiresPlugins = append(f.RequiresPlugins, id)
		}
	}
	for _, p := range x.Plugins {
		if id := strings.TrimSpace(p.ID); id != "" {
			f.Plugins = append(f.Plugins, id)
		}
	}
	return f, nil
}

// readProperties parses the key=value subset of Java properties used by
// feature.properties (no escapes, no multi-line values).
func readProperties(r io.Reader) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			k, v, ok = strings.Cut(line, ":")
		}
		if ok {
			props[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return props
}
