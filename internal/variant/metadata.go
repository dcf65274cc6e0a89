package variant

import (
	"archive/zip"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// KeepOnlyMetadata strips the tree under root down to files matching
// patterns (doublestar, matched against slash paths relative to root). Jar
// archives are rewritten to hold only matching entries. Empty archives and
// empty directories left behind are removed.
func KeepOnlyMetadata(root string, patterns []string) []error {
	var errs []error
	var dirs []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".jar") {
			if err := stripArchive(path, patterns); err != nil {
				errs = append(errs, fmt.Errorf("strip %s: %w", path, err))
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if !matchAny(patterns, filepath.ToSlash(rel)) {
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
			}
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	// Deepest first so parents empty out after their children.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}
	return errs
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// stripArchive rewrites jarFile in place keeping only matching entries. A
// jar left without entries is removed.
func stripArchive(jarFile string, patterns []string) error {
	zr, err := zip.OpenReader(jarFile)
	if err != nil {
		return err
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(filepath.Dir(jarFile), ".strip-*.jar")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	kept := 0
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || !matchAny(patterns, f.Name) {
			continue
		}
		if err := zw.Copy(f); err != nil {
			tmp.Close()
			return err
		}
		kept++
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	zr.Close()
	if kept == 0 {
		return os.Remove(jarFile)
	}
	return os.Rename(tmp.Name(), jarFile)
}
