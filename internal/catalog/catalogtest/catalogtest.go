// Package catalogtest writes small fake installations for tests.
package catalogtest

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Bundle describes one plugin to write under plugins/.
type Bundle struct {
	ID       string
	Version  string
	Requires string // raw Require-Bundle value; empty omits the attribute
	Jar      bool
	// Payload files are written next to the manifest (directory form) or as
	// archive entries (jar form), keyed by slash-separated relative path.
	Payload map[string]string
}

// EntryName is the bundle's file or directory name inside plugins/.
func (b Bundle) EntryName() string {
	name := b.ID + "_" + b.Version
	if b.Jar {
		name += ".jar"
	}
	return name
}

// Manifest renders the bundle's MANIFEST.MF.
func (b Bundle) Manifest() string {
	var sb strings.Builder
	sb.WriteString("Manifest-Version: 1.0\n")
	sb.WriteString("Bundle-SymbolicName: " + b.ID + ";singleton:=true\n")
	sb.WriteString("Bundle-Version: " + b.Version + "\n")
	if b.Requires != "" {
		sb.WriteString("Require-Bundle: " + b.Requires + "\n")
	}
	return sb.String()
}

// Feature describes one feature to write under features/.
type Feature struct {
	ID       string
	Version  string
	Plugins  []string
	Includes []string // ids; prefix with "?" for optional
	Requires []string // feature imports
}

// DirName is the feature's directory name inside features/.
func (f Feature) DirName() string { return f.ID + "_" + f.Version }

// XML renders the feature's feature.xml.
func (f Feature) XML() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<feature id=\"%s\" label=\"%s\" version=\"%s\">\n", f.ID, f.ID, f.Version)
	for _, inc := range f.Includes {
		id, optional := strings.CutPrefix(inc, "?")
		fmt.Fprintf(&sb, "  <includes id=\"%s\" version=\"0.0.0\" optional=\"%t\"/>\n", id, optional)
	}
	if len(f.Requires) > 0 {
		sb.WriteString("  <requires>\n")
		for _, r := range f.Requires {
			fmt.Fprintf(&sb, "    <import feature=\"%s\"/>\n", r)
		}
		sb.WriteString("  </requires>\n")
	}
	for _, p := range f.Plugins {
		fmt.Fprintf(&sb, "  <plugin id=\"%s\" version=\"0.0.0\" unpack=\"false\"/>\n", p)
	}
	sb.WriteString("</feature>\n")
	return sb.String()
}

// Installation is a complete fake installation.
type Installation struct {
	Bundles  []Bundle
	Features []Feature
	// Files are extra top-level files keyed by slash-separated relative path.
	Files map[string]string
}

// Write materializes inst under root and returns root.
func Write(t testing.TB, root string, inst Installation) string {
	t.Helper()
	for _, dir := range []string{"features", "plugins"} {
		mustMkdir(t, filepath.Join(root, dir))
	}
	for _, b := range inst.Bundles {
		WriteBundle(t, filepath.Join(root, "plugins"), b)
	}
	for _, f := range inst.Features {
		dir := filepath.Join(root, "features", f.DirName())
		writeFile(t, filepath.Join(dir, "feature.xml"), f.XML())
	}
	for rel, content := range inst.Files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(rel)), content)
	}
	return root
}

// WriteBundle writes one bundle into pluginsDir and returns its path.
func WriteBundle(t testing.TB, pluginsDir string, b Bundle) string {
	t.Helper()
	path := filepath.Join(pluginsDir, b.EntryName())
	if !b.Jar {
		writeFile(t, filepath.Join(path, "META-INF", "MANIFEST.MF"), b.Manifest())
		for rel, content := range b.Payload {
			writeFile(t, filepath.Join(path, filepath.FromSlash(rel)), content)
		}
		return path
	}
	entries := map[string]string{"META-INF/MANIFEST.MF": b.Manifest()}
	for rel, content := range b.Payload {
		entries[rel] = content
	}
	WriteJar(t, path, entries)
	return path
}

// WriteJar writes a zip archive with the given entries.
func WriteJar(t testing.TB, path string, entries map[string]string) {
	t.Helper()
	mustMkdir(t, filepath.Dir(path))
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// JarEntries lists the entry names of a zip archive.
func JarEntries(t testing.TB, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	mustMkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustMkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}
