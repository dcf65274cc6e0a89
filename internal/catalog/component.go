// Package catalog scans an installation root and builds the catalogs of
// components (bundles under plugins/) and features (under features/).
//
// Installation layout:
//
//	<root>/
//	    features/<id>_<version>/feature.xml   # exploded feature
//	    features/<id>_<version>.jar           # packaged feature
//	    plugins/<id>_<version>/META-INF/MANIFEST.MF
//	    plugins/<id>_<version>.jar
//	    ...                                   # anything else is opaque
package catalog

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"varforge/internal/logger"
	"varforge/internal/manifest"
	"varforge/internal/semver"
)

// Reserved top-level entries of an installation root.
const (
	FeaturesDir = "features"
	PluginsDir  = "plugins"
)

// manifestPath is the manifest location inside a bundle, relative to the
// bundle root (directory form) or archive root (jar form).
const manifestPath = "META-INF/MANIFEST.MF"

var ErrRootInaccessible = errors.New("catalog: installation root is not accessible")

// Component is one installable bundle.
type Component struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
	// Path is the absolute bundle directory or jar file.
	Path string `yaml:"path"`
	// Archive is true for bundles packaged as a jar.
	Archive bool `yaml:"archive"`
	// Requires lists hard Require-Bundle dependencies. Never nil.
	Requires []string `yaml:"requires,omitempty"`
}

// FileName returns the bundle's entry name inside plugins/.
func (c *Component) FileName() string { return filepath.Base(c.Path) }

// Skip records an entry that was not added to a catalog.
type Skip struct {
	Path   string `yaml:"path"`
	Reason string `yaml:"reason"`
}

// Catalog is the immutable set of components of one installation, in
// discovery order. Symbolic names are unique.
type Catalog struct {
	Components []*Component
	Skipped    []Skip
	byID       map[string]*Component
}

// NewCatalog indexes components, keeping the newest version when a symbolic
// name appears more than once.
func NewCatalog(components []*Component) *Catalog {
	c := &Catalog{byID: make(map[string]*Component, len(components))}
	for _, comp := range components {
		c.add(comp)
	}
	return c
}

// Lookup returns the component with the given symbolic name.
func (c *Catalog) Lookup(id string) (*Component, bool) {
	comp, ok := c.byID[id]
	return comp, ok
}

// Len returns the number of components.
func (c *Catalog) Len() int { return len(c.Components) }

func (c *Catalog) add(comp *Component) {
	existing, ok := c.byID[comp.ID]
	if !ok {
		c.byID[comp.ID] = comp
		c.Components = append(c.Components, comp)
		return
	}
	loser := comp
	if semver.Newer(comp.Version, existing.Version) {
		loser = existing
		c.byID[comp.ID] = comp
		for i, v := range c.Components {
			if v == existing {
				c.Components[i] = comp
				break
			}
		}
	}
	c.Skipped = append(c.Skipped, Skip{
		Path:   loser.Path,
		Reason: fmt.Sprintf("duplicate of %s (keeping newest version)", comp.ID),
	})
}

// ScanOptions tunes BuildComponents.
type ScanOptions struct {
	// Exclude holds doublestar patterns matched against entry names inside
	// plugins/ (e.g. "*.source_*").
	Exclude []string
}

func (o ScanOptions) excluded(name string) bool {
	for _, pattern := range o.Exclude {
		if match, _ := doublestar.Match(pattern, name); match {
			return true
		}
	}
	return false
}

// BuildComponents scans <root>/plugins. A malformed bundle is logged and
// recorded in Catalog.Skipped; it never aborts the scan. An unreadable root
// or plugins directory is fatal.
func BuildComponents(root string, opts ScanOptions) (*Catalog, error) {
	log := logger.ForComponent("catalog")

	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}
	dir := filepath.Join(root, PluginsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}

	var components []*Component
	var skipped []Skip
	for _, e := range entries {
		name := e.Name()
		if opts.excluded(name) {
			log.Debug("excluded plugin entry", "entry", name)
			continue
		}
		path := filepath.Join(dir, name)
		var comp *Component
		switch {
		case e.IsDir():
			comp, err = ComponentFromManifest(filepath.Join(path, filepath.FromSlash(manifestPath)))
		case strings.EqualFold(filepath.Ext(name), ".jar"):
			comp, err = ComponentFromArchive(path)
		default:
			continue
		}
		if err != nil {
			log.Warn("skipping plugin", "path", path, "err", err)
			skipped = append(skipped, Skip{Path: path, Reason: err.Error()})
			continue
		}
		components = append(components, comp)
	}

	cat := NewCatalog(components)
	cat.Skipped = append(skipped, cat.Skipped...)
	log.Info("component catalog built", "components", cat.Len(), "skipped", len(cat.Skipped))
	return cat, nil
}

// ComponentFromManifest builds a directory-form component from the manifest
// at manifestFile; the component root is two levels above it.
func ComponentFromManifest(manifestFile string) (*Component, error) {
	f, err := os.Open(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	md, err := manifest.ParseMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestFile, err)
	}
	root, err := filepath.Abs(filepath.Dir(filepath.Dir(manifestFile)))
	if err != nil {
		return nil, err
	}
	return fromMetadata(md, root, false), nil
}

// ComponentFromArchive builds a jar-form component from the manifest packed
// inside jarFile.
func ComponentFromArchive(jarFile string) (*Component, error) {
	zr, err := zip.OpenReader(jarFile)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	rc, err := openEntry(&zr.Reader, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", jarFile, err)
	}
	defer rc.Close()

	md, err := manifest.ParseMetadata(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", jarFile, err)
	}
	abs, err := filepath.Abs(jarFile)
	if err != nil {
		return nil, err
	}
	return fromMetadata(md, abs, true), nil
}

func fromMetadata(md manifest.Metadata, path string, archive bool) *Component {
	return &Component{
		ID:       md.SymbolicName,
		Version:  md.Version,
		Path:     path,
		Archive:  archive,
		Requires: md.Requires,
	}
}

// openEntry opens the archive entry whose name equals name, ignoring case.
func openEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("no %s entry", name)
}
