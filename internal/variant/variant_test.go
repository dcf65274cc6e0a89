package variant

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varforge/internal/catalog"
	"varforge/internal/catalog/catalogtest"
	"varforge/internal/depgraph"
	"varforge/internal/solver"
	"varforge/internal/workspace"
)

const bundlesInfo = "#encoding=UTF-8\n" +
	"#version=1\n" +
	"core,1.0.0,plugins/core_1.0.0/,4,false\n" +
	"ui,1.0.0,plugins/ui_1.0.0/,4,false\n" +
	"gone,1.0.0,plugins/gone_1.0.0.jar,4,false\n"

// Feature export order: org.base (node 2), org.extra (node 3), org.tools (node 4).
var installation = catalogtest.Installation{
	Bundles: []catalogtest.Bundle{
		{ID: "core", Version: "1.0.0", Requires: "runtime", Payload: map[string]string{"plugin.xml": "<plugin/>"}},
		{ID: "runtime", Version: "1.0.0", Jar: true, Payload: map[string]string{
			"org/Runtime.class": "bytes",
			"plugin.properties": "name=Runtime",
		}},
		{ID: "ui", Version: "1.0.0", Requires: "core", Payload: map[string]string{"lib/ui.class": "bytes"}},
		{ID: "launcher", Version: "1.0.0"},
	},
	Features: []catalogtest.Feature{
		{ID: "org.base", Version: "1", Plugins: []string{"core"}},
		{ID: "org.extra", Version: "1", Plugins: []string{"not.installed"}},
		{ID: "org.tools", Version: "1", Plugins: []string{"ui"}, Includes: []string{"org.base"}},
	},
	Files: map[string]string{
		"eclipse.ini": "-vmargs\n",
		"configuration/org.eclipse.equinox.simpleconfigurator/bundles.info": bundlesInfo,
	},
}

// onlyTools selects org.tools and nothing else.
var onlyTools = solver.Configuration{1, -2, -3, 4}

func newMaterializer(t *testing.T, mode Mode, mandatory ...string) *Materializer {
	t.Helper()
	root := catalogtest.Write(t, t.TempDir(), installation)

	components, err := catalog.BuildComponents(root, catalog.ScanOptions{})
	require.NoError(t, err)
	features, err := catalog.LoadFeatures(root, catalog.FeatureOptions{})
	require.NoError(t, err)
	elems, err := catalog.InstallationElements(root, components)
	require.NoError(t, err)
	analyzer, err := depgraph.New(features, components, root, depgraph.Options{Mandatory: mandatory})
	require.NoError(t, err)
	ws, err := workspace.Open(t.TempDir())
	require.NoError(t, err)

	return &Materializer{
		Analyzer:  analyzer,
		Features:  features,
		Files:     catalog.FileElements(elems),
		Workspace: ws,
		Mode:      mode,
	}
}

func TestResolve(t *testing.T) {
	m := newMaterializer(t, ModeStatistics)
	v := m.Resolve(1, onlyTools)

	assert.Equal(t, "Variant_1", v.Name)
	assert.Equal(t, []string{"org.tools"}, v.FeatureIDs())
	assert.Equal(t, []string{"ui", "core", "runtime", "launcher"}, v.ComponentIDs())
}

func TestResolveAddsMandatoryFeatures(t *testing.T) {
	m := newMaterializer(t, ModeStatistics, "org.base")

	v := m.Resolve(2, solver.Configuration{1, -2, 3, -4})
	assert.Equal(t, []string{"org.extra", "org.base"}, v.FeatureIDs())
	assert.Equal(t, []string{"core", "runtime", "launcher"}, v.ComponentIDs())

	// Already selected mandatory features are not duplicated.
	v = m.Resolve(3, solver.Configuration{1, 2, -3, 4})
	assert.Equal(t, []string{"org.base", "org.tools"}, v.FeatureIDs())
}

func TestResolveComponentsAreUnique(t *testing.T) {
	m := newMaterializer(t, ModeStatistics)
	v := m.Resolve(1, solver.Configuration{1, 2, 3, 4})

	ids := v.ComponentIDs()
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	// Every feature-free component is present.
	for _, c := range m.Analyzer.ComponentsWithoutFeatureDependency() {
		assert.True(t, seen[c.ID])
	}
}

func TestMaterializeStatisticsWritesNothing(t *testing.T) {
	m := newMaterializer(t, ModeStatistics)
	res := m.Materialize(context.Background(), 1, onlyTools)

	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Variant.Dir)
	_, err := os.Stat(m.Workspace.VariantDir(1))
	assert.True(t, os.IsNotExist(err))
}

func TestMaterializeFull(t *testing.T) {
	m := newMaterializer(t, ModeFull)
	res := m.Materialize(context.Background(), 1, onlyTools)
	require.Empty(t, res.Errors)

	dir := m.Workspace.VariantDir(1)
	assert.Equal(t, dir, res.Variant.Dir)
	for _, rel := range []string{
		"eclipse.ini",
		"features/org.tools_1/feature.xml",
		"plugins/ui_1.0.0/META-INF/MANIFEST.MF",
		"plugins/ui_1.0.0/lib/ui.class",
		"plugins/core_1.0.0/plugin.xml",
		"plugins/runtime_1.0.0.jar",
		"plugins/launcher_1.0.0/META-INF/MANIFEST.MF",
	} {
		assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(rel)))
	}
	assert.NoDirExists(t, filepath.Join(dir, "features", "org.base_1"))

	data, err := os.ReadFile(filepath.Join(dir, BundlesInfoPath))
	require.NoError(t, err)
	assert.Equal(t, "#encoding=UTF-8\n"+
		"#version=1\n"+
		"core,1.0.0,plugins/core_1.0.0/,4,false\n"+
		"ui,1.0.0,plugins/ui_1.0.0/,4,false\n"+
		"runtime,1.0.0,plugins/runtime_1.0.0.jar,4,false\n"+
		"launcher,1.0.0,plugins/launcher_1.0.0,4,false\n", string(data))
}

func TestMaterializeReplacesPreviousOutput(t *testing.T) {
	m := newMaterializer(t, ModeFull)
	require.Empty(t, m.Materialize(context.Background(), 1, solver.Configuration{1, 2, 3, 4}).Errors)
	require.Empty(t, m.Materialize(context.Background(), 1, onlyTools).Errors)

	assert.NoDirExists(t, filepath.Join(m.Workspace.VariantDir(1), "features", "org.base_1"))
}

func TestMaterializeMetadata(t *testing.T) {
	m := newMaterializer(t, ModeMetadata)
	res := m.Materialize(context.Background(), 1, onlyTools)
	require.Empty(t, res.Errors)

	dir := res.Variant.Dir
	assert.FileExists(t, filepath.Join(dir, "features", "org.tools_1", "feature.xml"))
	assert.FileExists(t, filepath.Join(dir, "plugins", "ui_1.0.0", "META-INF", "MANIFEST.MF"))
	assert.FileExists(t, filepath.Join(dir, "plugins", "core_1.0.0", "plugin.xml"))
	assert.NoFileExists(t, filepath.Join(dir, "eclipse.ini"))
	assert.NoDirExists(t, filepath.Join(dir, "plugins", "ui_1.0.0", "lib"))
	assert.NoDirExists(t, filepath.Join(dir, "configuration"))

	entries := catalogtest.JarEntries(t, filepath.Join(dir, "plugins", "runtime_1.0.0.jar"))
	sort.Strings(entries)
	assert.Equal(t, []string{"META-INF/MANIFEST.MF", "plugin.properties"}, entries)
}

func TestMaterializeIsIndependentOfOutputRoot(t *testing.T) {
	first := newMaterializer(t, ModeFull)
	ws, err := workspace.Open(t.TempDir())
	require.NoError(t, err)
	second := *first
	second.Workspace = ws

	cfg := solver.Configuration{1, 2, -3, 4}
	a := first.Materialize(context.Background(), 1, cfg)
	b := second.Materialize(context.Background(), 1, cfg)
	require.Empty(t, a.Errors)
	require.Empty(t, b.Errors)
	require.NotEqual(t, a.Variant.Dir, b.Variant.Dir)

	assert.Equal(t, a.Variant.FeatureIDs(), b.Variant.FeatureIDs())
	assert.Equal(t, a.Variant.ComponentIDs(), b.Variant.ComponentIDs())
	files := relFiles(t, a.Variant.Dir)
	assert.NotEmpty(t, files)
	assert.Equal(t, files, relFiles(t, b.Variant.Dir))
}

func relFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		files = append(files, filepath.ToSlash(rel))
		return err
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestKeepOnlyMetadataRemovesEmptiedJars(t *testing.T) {
	root := t.TempDir()
	plugin := filepath.Join(root, "plugins", "p_1")
	require.NoError(t, os.MkdirAll(filepath.Join(plugin, "META-INF"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plugin, "META-INF", "MANIFEST.MF"), []byte("Manifest-Version: 1.0\n"), 0o644))
	catalogtest.WriteJar(t, filepath.Join(plugin, "lib", "native.jar"), map[string]string{
		"org/Native.class": "bytes",
		"linux/native.so":  "bytes",
	})
	catalogtest.WriteJar(t, filepath.Join(root, "plugins", "q_1.jar"), map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\n",
		"org/Q.class":          "bytes",
	})

	errs := KeepOnlyMetadata(root, []string{"**/META-INF/MANIFEST.MF"})
	require.Empty(t, errs)

	assert.FileExists(t, filepath.Join(plugin, "META-INF", "MANIFEST.MF"))
	assert.NoFileExists(t, filepath.Join(plugin, "lib", "native.jar"))
	assert.NoDirExists(t, filepath.Join(plugin, "lib"))
	assert.Equal(t, []string{"META-INF/MANIFEST.MF"}, catalogtest.JarEntries(t, filepath.Join(root, "plugins", "q_1.jar")))

	leftovers, err := filepath.Glob(filepath.Join(plugin, "lib", ".strip-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestMaterializeRecordsCopyErrors(t *testing.T) {
	components := catalog.NewCatalog([]*catalog.Component{
		{ID: "ok", Path: t.TempDir(), Requires: []string{}},
		{ID: "ghost", Path: filepath.Join(t.TempDir(), "missing_1.0.0"), Requires: []string{}},
	})
	features := catalog.NewFeatureCatalog(nil)
	analyzer, err := depgraph.New(features, components, "/", depgraph.Options{})
	require.NoError(t, err)
	ws, err := workspace.Open(t.TempDir())
	require.NoError(t, err)

	m := &Materializer{Analyzer: analyzer, Features: features, Workspace: ws, Mode: ModeFull}
	res := m.Materialize(context.Background(), 1, nil)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "missing_1.0.0")
	assert.Equal(t, []string{"ok", "ghost"}, res.Variant.ComponentIDs())
}

func TestMaterializeStopsOnCancel(t *testing.T) {
	m := newMaterializer(t, ModeFull)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.Materialize(ctx, 1, onlyTools)
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], context.Canceled))
}

func TestReportLine(t *testing.T) {
	r := Result{
		Variant: Variant{
			Index:      7,
			Name:       "Variant_7",
			Features:   []*catalog.Feature{{ID: "a"}, {ID: "b"}},
			Components: []*catalog.Component{{ID: "x"}},
		},
		Elapsed: 1500 * time.Millisecond,
	}
	assert.Equal(t, `7;"Variant_7";2;1;1500`, r.ReportLine())
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, ModeFull, ModeFor(false, false))
	assert.Equal(t, ModeMetadata, ModeFor(true, false))
	assert.Equal(t, ModeStatistics, ModeFor(false, true))
	assert.Equal(t, ModeStatistics, ModeFor(true, true))
	assert.Equal(t, "metadata", ModeMetadata.String())
}

func TestWriteReport(t *testing.T) {
	r := Result{
		Variant: Variant{
			Index:      2,
			Name:       "Variant_2",
			Features:   []*catalog.Feature{{ID: "org.a", Version: "1.0"}},
			Components: []*catalog.Component{{ID: "core", Version: "2.0"}},
		},
		Mode:    ModeMetadata,
		Elapsed: 42 * time.Millisecond,
		Errors:  []error{errors.New("copy failed")},
	}
	path := filepath.Join(t.TempDir(), "reports", "Variant_2.md")
	require.NoError(t, WriteReport(path, r))

	meta, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, ReportMeta{
		Variant:      "Variant_2",
		Index:        2,
		Mode:         "metadata",
		Features:     1,
		Plugins:      1,
		Milliseconds: 42,
		Errors:       []string{"copy failed"},
	}, meta)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Plugins\n\n- core 2.0\n")
}
