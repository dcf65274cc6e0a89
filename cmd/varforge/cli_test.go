package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"varforge/internal/catalog/catalogtest"
	"varforge/internal/config"
	"varforge/internal/generator"
	"varforge/internal/stats"
	"varforge/internal/variant"
	"varforge/internal/workspace"
)

// helpText calls the help function and returns the output as a string.
func helpText() string {
	var sb strings.Builder
	printUsage(&sb)
	return sb.String()
}

// longHelpText returns the long help for a named command.
func longHelpText(name string) string {
	var sb strings.Builder
	printCommandHelp(&sb, name)
	return sb.String()
}

// isolate runs the test in an empty directory with no VARFORGE_* overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "VARFORGE_") {
			t.Setenv(name, "")
		}
	}
	return dir
}

var fixture = catalogtest.Installation{
	Bundles: []catalogtest.Bundle{
		{ID: "core", Version: "1.0.0"},
		{ID: "ui", Version: "1.0.0", Requires: "core,missing.bundle"},
		{ID: "launcher", Version: "1.0.0", Jar: true},
	},
	Features: []catalogtest.Feature{
		{ID: "org.base", Version: "1", Plugins: []string{"core"}},
		{ID: "org.tools", Version: "1", Plugins: []string{"ui"}, Includes: []string{"org.base"}},
	},
}

func TestHelpContainsAllCommands(t *testing.T) {
	help := helpText()
	for _, cmd := range commands {
		if !strings.Contains(help, cmd.name) {
			t.Errorf("help output missing command %q", cmd.name)
		}
		if !strings.Contains(help, cmd.short) {
			t.Errorf("help output missing short description for %q", cmd.short)
		}
	}
	if !strings.Contains(help, "Usage:") || !strings.Contains(help, "varforge") {
		t.Errorf("help output missing usage header: %s", help)
	}
}

func TestLongHelpForKnownCommands(t *testing.T) {
	for _, cmd := range commands {
		t.Run(cmd.name, func(t *testing.T) {
			out := longHelpText(cmd.name)
			if !strings.Contains(out, cmd.usage) {
				t.Errorf("long help for %q missing usage line %q\ngot: %s", cmd.name, cmd.usage, out)
			}
		})
	}
}

func TestLongHelpUnknownCommand(t *testing.T) {
	out := longHelpText("no-such-command")
	if !strings.Contains(out, "unknown") {
		t.Errorf("expected unknown-command message, got: %s", out)
	}
}

func TestDispatchHelp(t *testing.T) {
	for _, args := range [][]string{{}, {"--help"}, {"-h"}, {"help"}, {"help", "generate"}} {
		if err := dispatch(args); err != nil {
			t.Errorf("dispatch(%q) returned error: %v", args, err)
		}
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	err := dispatch([]string{"no-such-command-xyz-abc"})
	if err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestSubcommandBadArgsGivesError(t *testing.T) {
	for _, name := range []string{"generate", "catalog", "export", "history", "reports"} {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			err := dispatch([]string{name})
			if err == nil {
				t.Fatalf("dispatch(%q) without configuration should fail", name)
			}
			if strings.Contains(err.Error(), "unknown command") {
				t.Errorf("dispatch(%q) did not reach the subcommand: %v", name, err)
			}
		})
	}
}

func TestCommandsHaveRequiredFields(t *testing.T) {
	if len(commands) == 0 {
		t.Fatal("commands slice is empty")
	}
	for _, cmd := range commands {
		if cmd.name == "" || cmd.short == "" || cmd.usage == "" || cmd.run == nil {
			t.Errorf("command %+v is incomplete", cmd.name)
		}
	}
}

func TestGenerateFlagsOverrideOnlyWhenSet(t *testing.T) {
	f := newGenerateFlags()
	if err := f.fs.Parse([]string{"-variants", "7", "-onlyStatistics", "-stats", "runs.db"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Time = 30
	cfg.Generator = "from-file.jar"
	f.apply(cfg)

	if cfg.Variants != 7 || !cfg.OnlyStatistics || cfg.StatsDB != "runs.db" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Time != 30 || cfg.Generator != "from-file.jar" {
		t.Errorf("unset flags overrode configuration: %+v", cfg)
	}
}

func TestCatalogCommandOutput(t *testing.T) {
	dir := isolate(t)
	input := catalogtest.Write(t, filepath.Join(dir, "eclipse"), fixture)

	rc, err := generator.Inspect(config.Config{Input: input})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := writeCatalog(&buf, rc); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Root       string `yaml:"root"`
		Components []struct {
			ID string `yaml:"id"`
		} `yaml:"components"`
		Free     []string `yaml:"free_components"`
		Dangling []struct {
			From string `yaml:"from"`
			To   string `yaml:"to"`
		} `yaml:"dangling"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("catalog output is not YAML: %v\n%s", err, buf.String())
	}
	if doc.Root != input || len(doc.Components) != 3 {
		t.Errorf("unexpected catalog: %+v", doc)
	}
	if len(doc.Free) != 1 || doc.Free[0] != "launcher" {
		t.Errorf("free components = %v, want [launcher]", doc.Free)
	}
	if len(doc.Dangling) != 1 || doc.Dangling[0].To != "missing.bundle" {
		t.Errorf("dangling = %+v", doc.Dangling)
	}
}

func TestExportCommand(t *testing.T) {
	dir := isolate(t)
	input := catalogtest.Write(t, filepath.Join(dir, "install"), fixture)
	out := filepath.Join(dir, "model", "fm.xml")

	if err := dispatch([]string{"export", "-input", input, "-o", out}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<feature_model name=\"install\">", "org.base (_f2)", "c1: ~_f3 or _f2"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("feature model missing %q:\n%s", want, data)
		}
	}
}

func TestHistoryTables(t *testing.T) {
	ctx := context.Background()
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.BeginRun(ctx, generator.Summary{Started: time.Now(), Input: "/opt/eclipse", Mode: "full", State: "preparing"}); err != nil {
		t.Fatal(err)
	}
	if err := store.EndRun(ctx, generator.Summary{Mode: "full", State: "done", Features: 4, Plugins: 9}); err != nil {
		t.Fatal(err)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeRuns(&buf, runs); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "/opt/eclipse") {
		t.Errorf("unexpected history table:\n%s", buf.String())
	}

	buf.Reset()
	if err := writeVariants(&buf, []stats.VariantRow{{Index: 1, Name: "Variant_1", Features: 2, Plugins: 3, Milliseconds: 40}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Variant_1") {
		t.Errorf("unexpected variant table:\n%s", buf.String())
	}
}

func TestReportsTable(t *testing.T) {
	ws, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{2, 10} {
		if _, err := ws.ResetVariant(i); err != nil {
			t.Fatal(err)
		}
	}
	res := variant.Result{
		Variant: variant.Variant{Index: 2, Name: "Variant_2"},
		Mode:    variant.ModeFull,
		Elapsed: 15 * time.Millisecond,
	}
	if err := variant.WriteReport(ws.ReportPath(2), res); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeReports(&buf, ws); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "VARIANT") {
		t.Fatalf("unexpected reports table:\n%s", buf.String())
	}
	if f := strings.Fields(lines[1]); len(f) != 7 || f[1] != "Variant_2" || f[2] != "full" || f[5] != "15" {
		t.Errorf("report line = %q", lines[1])
	}
	if f := strings.Fields(lines[2]); len(f) != 7 || f[1] != "Variant_10" || f[2] != "-" {
		t.Errorf("line without report = %q", lines[2])
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
