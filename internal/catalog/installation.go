package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsInstallation reports whether dir holds the reserved features/ and
// plugins/ directories.
func IsInstallation(dir string) bool {
	for _, name := range []string{FeaturesDir, PluginsDir} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// ResolveInstallationRoot returns the absolute installation root for dir.
// An archive extracted as <dir>/eclipse/ is descended into when eclipse is
// the only entry.
func ResolveInstallationRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}
	if len(entries) == 1 && entries[0].IsDir() && entries[0].Name() == "eclipse" {
		abs = filepath.Join(abs, "eclipse")
	}
	return abs, nil
}

// ElementKind discriminates the entries that make up an installation.
type ElementKind int

const (
	// KindComponent is a bundle under plugins/.
	KindComponent ElementKind = iota
	// KindFile is any other top-level entry of the root, copied verbatim.
	KindFile
)

func (k ElementKind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("ElementKind(%d)", int(k))
	}
}

// Element is one installation entry. Component is set only for
// KindComponent; Path is always the absolute source path.
type Element struct {
	Kind      ElementKind
	Path      string
	Component *Component
}

// Name returns the entry name as it appears in its parent directory.
func (e Element) Name() string { return filepath.Base(e.Path) }

// InstallationElements lists the opaque top-level entries of root (everything
// except features/ and plugins/) followed by one element per component.
// Top-level entries that are, or contain, one of the skip paths are left
// out, so an output directory inside root is never copied into variants.
func InstallationElements(root string, components *Catalog, skip ...string) ([]Element, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}
	var elems []Element
	for _, e := range entries {
		if e.Name() == FeaturesDir || e.Name() == PluginsDir {
			continue
		}
		path := filepath.Join(root, e.Name())
		if containsAny(path, skip) {
			continue
		}
		elems = append(elems, Element{Kind: KindFile, Path: path})
	}
	if components != nil {
		for _, c := range components.Components {
			elems = append(elems, Element{Kind: KindComponent, Path: c.Path, Component: c})
		}
	}
	return elems, nil
}

// FileElements filters elems down to KindFile entries.
func FileElements(elems []Element) []Element {
	var out []Element
	for _, e := range elems {
		if e.Kind == KindFile {
			out = append(out, e)
		}
	}
	return out
}

func containsAny(dir string, paths []string) bool {
	for _, p := range paths {
		if p == "" {
			continue
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}
