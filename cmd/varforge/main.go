package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"varforge/internal/config"
	"varforge/internal/featuremodel"
	"varforge/internal/generator"
	"varforge/internal/logger"
	"varforge/internal/metrics"
	"varforge/internal/observer"
	"varforge/internal/publish"
	"varforge/internal/stats"
	"varforge/internal/tui"
	"varforge/internal/variant"
	"varforge/internal/workspace"
)

// command describes a CLI subcommand.
type command struct {
	name  string
	short string
	usage string
	long  string
	run   func(args []string) error
}

var commands = []command{
	{
		name:  "init",
		short: "Write a run configuration interactively",
		usage: "varforge init [config-file]",
		long: `Prompt for the installation, output directory, solver jar, number of
variants and solver time budget, then write them to config-file
(default varforge.yaml). Existing values are offered as defaults.
`,
		run: runInit,
	},
	{
		name:  "generate",
		short: "Generate product variants from an installation",
		usage: "varforge generate [-config file] [-input dir] [-output dir] [-generator jar] [-variants N] [-time S] [flags]",
		long: `Scan the installation, export its feature model, ask the solver for
N configurations within S seconds and materialize one variant per
configuration under <output>/Variant_<i>/.

Flags override the configuration file, which is overridden by .env and
VARFORGE_* environment variables. Use -plain when stdout is not a
terminal. Run 'varforge generate -h' for the full flag list.
`,
		run: runGenerate,
	},
	{
		name:  "catalog",
		short: "Print the components and features of an installation",
		usage: "varforge catalog [-config file] [-input dir]",
		long: `Build the component and feature catalogs and the dependency graph of
the installation and print them as YAML: components, features,
components no feature depends on, dangling references and skipped
entries.
`,
		run: runCatalog,
	},
	{
		name:  "export",
		short: "Write the feature model of an installation",
		usage: "varforge export [-config file] [-input dir] [-o file]",
		long: `Write the SPLOT feature model of the installation without running the
solver. Defaults to <output>/SPLOTFeatureModel.xml.
`,
		run: runExport,
	},
	{
		name:  "history",
		short: "List recorded generation runs",
		usage: "varforge history [-config file] [-db file] [-n N] [run-id]",
		long: `List the runs recorded in the statistics database, newest first. With
a run id, print that run's variant statistics instead.
`,
		run: runHistory,
	},
	{
		name:  "reports",
		short: "List the variants of an output directory",
		usage: "varforge reports [-config file] [-output dir]",
		long: `List the Variant_<i> directories found under the output directory with
the statistics of their markdown reports. Variants generated without
-reports show "-" in place of their statistics.
`,
		run: runReports,
	},
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "varforge: product line variant generation\n\n")
	fmt.Fprintf(w, "Usage:\n  varforge <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.short)
	}
	fmt.Fprintf(w, "\nRun 'varforge help <command>' for details on a specific command.\n")
}

func printCommandHelp(w io.Writer, name string) {
	for _, cmd := range commands {
		if cmd.name == name {
			fmt.Fprintf(w, "Usage: %s\n\n%s", cmd.usage, cmd.long)
			return
		}
	}
	fmt.Fprintf(w, "varforge: unknown command %q\n\nRun 'varforge help' for usage.\n", name)
}

func dispatch(args []string) error {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(os.Stdout)
		return nil
	}
	if args[0] == "help" {
		if len(args) >= 2 {
			printCommandHelp(os.Stdout, args[1])
		} else {
			printUsage(os.Stdout)
		}
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(args[1:])
		}
	}
	return fmt.Errorf("unknown command %q\n\nRun 'varforge help' for usage.", args[0])
}

// ---------------------------------------------------------------------------
// shared flags
// ---------------------------------------------------------------------------

// runFlags are the configuration overrides shared by every command that
// reads an installation.
type runFlags struct {
	configFile string
	input      string
	output     string
	logLevel   string
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configFile, "config", config.DefaultFile, "configuration file")
	fs.StringVar(&f.input, "input", "", "installation to read")
	fs.StringVar(&f.output, "output", "", "output directory")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
}

// load reads the configuration and applies the flags that were set.
func (f *runFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.input != "" {
		cfg.Input = f.input
	}
	if f.output != "" {
		cfg.Output = f.output
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	initLogger(cfg)
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	lc := logger.DefaultConfig()
	lc.Level = logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format != "" {
		lc.Format = cfg.Log.Format
	}
	logger.Init(lc)
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func runInit(args []string) error {
	path := config.DefaultFile
	if len(args) > 0 {
		path = args[0]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	questions := cfg.Questions()
	answers, err := tui.Prompt(questions)
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	for _, q := range questions {
		if err := cfg.Set(q.Key, answers[q.Key]); err != nil {
			return err
		}
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// ---------------------------------------------------------------------------
// generate
// ---------------------------------------------------------------------------

type generateFlags struct {
	runFlags
	fs *flag.FlagSet

	generator        string
	java             string
	variants         int
	time             int
	workers          int
	keepOnlyMetadata bool
	onlyStatistics   bool
	reports          bool
	statsDB          string
	metricsFile      string
	publish          bool
	plain            bool
}

func newGenerateFlags() *generateFlags {
	f := &generateFlags{fs: flag.NewFlagSet("generate", flag.ContinueOnError)}
	f.register(f.fs)
	f.fs.StringVar(&f.generator, "generator", "", "solver jar")
	f.fs.StringVar(&f.java, "java", "", "java executable")
	f.fs.IntVar(&f.variants, "variants", 0, "number of variants")
	f.fs.IntVar(&f.time, "time", 0, "solver time budget in seconds")
	f.fs.IntVar(&f.workers, "workers", 0, "variants materialized in parallel")
	f.fs.BoolVar(&f.keepOnlyMetadata, "keepOnlyMetadata", false, "keep only descriptor files in each variant")
	f.fs.BoolVar(&f.onlyStatistics, "onlyStatistics", false, "compute statistics without writing variants")
	f.fs.BoolVar(&f.reports, "reports", false, "write a markdown report per variant")
	f.fs.StringVar(&f.statsDB, "stats", "", "record the run in this SQLite database")
	f.fs.StringVar(&f.metricsFile, "metrics", "", "write Prometheus metrics to this file")
	f.fs.BoolVar(&f.publish, "publish", false, "upload variants to the configured bucket")
	f.fs.BoolVar(&f.plain, "plain", false, "print messages instead of the progress view")
	return f
}

// apply copies the flags that were given on the command line into cfg.
func (f *generateFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "generator":
			cfg.Generator = f.generator
		case "java":
			cfg.Java = f.java
		case "variants":
			cfg.Variants = f.variants
		case "time":
			cfg.Time = f.time
		case "workers":
			cfg.Workers = f.workers
		case "keepOnlyMetadata":
			cfg.KeepOnlyMetadata = f.keepOnlyMetadata
		case "onlyStatistics":
			cfg.OnlyStatistics = f.onlyStatistics
		case "reports":
			cfg.Reports = f.reports
		case "stats":
			cfg.StatsDB = f.statsDB
		case "metrics":
			cfg.MetricsFile = f.metricsFile
		case "publish":
			cfg.Publish.Enabled = f.publish
		}
	})
}

func runGenerate(args []string) error {
	f := newGenerateFlags()
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	cfg, err := f.load()
	if err != nil {
		return err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	g := generator.New(*cfg, nil)
	closers, err := addRecorders(g, cfg)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	if err != nil {
		return err
	}
	if cfg.Log.Level == "debug" {
		g.AddObserver(observer.Log{Logger: logger.ForComponent("generation")})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if f.plain {
		g.AddObserver(observer.NewWriter(os.Stdout))
		_, err := g.Run(ctx)
		return err
	}
	return tui.RunProgress(ctx, cfg.Variants, os.Stdout, func(ctx context.Context, o observer.Observer) error {
		g.AddObserver(o)
		_, err := g.Run(ctx)
		return err
	})
}

// addRecorders wires the optional sinks selected by cfg. The returned
// closers must run even when err is not nil.
func addRecorders(g *generator.Generator, cfg *config.Config) (closers []func(), err error) {
	if cfg.StatsDB != "" {
		store, err := stats.Open(cfg.StatsDB)
		if err != nil {
			return closers, err
		}
		closers = append(closers, func() { store.Close() })
		g.AddRecorder(store)
	}
	if cfg.MetricsFile != "" {
		g.AddRecorder(metrics.New(cfg.MetricsFile))
	}
	if cfg.Publish.Enabled {
		p, err := publish.New(cfg.Publish)
		if err != nil {
			return closers, err
		}
		g.AddRecorder(p)
	}
	return closers, nil
}

// ---------------------------------------------------------------------------
// catalog
// ---------------------------------------------------------------------------

// catalogDump is the YAML document printed by the catalog command.
type catalogDump struct {
	Root       string         `yaml:"root"`
	Components any            `yaml:"components"`
	Features   any            `yaml:"features"`
	Free       []string       `yaml:"free_components"`
	Mandatory  []string       `yaml:"mandatory_features,omitempty"`
	Dangling   any            `yaml:"dangling,omitempty"`
	Skipped    map[string]any `yaml:"skipped,omitempty"`
}

func inspect(name string, args []string, extra func(*flag.FlagSet)) (*generator.RunContext, *config.Config, error) {
	var rf runFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	rf.register(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := rf.load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateInput(); err != nil {
		return nil, nil, err
	}
	rc, err := generator.Inspect(*cfg)
	if err != nil {
		return nil, nil, err
	}
	return rc, cfg, nil
}

func runCatalog(args []string) error {
	rc, _, err := inspect("catalog", args, nil)
	if err != nil {
		return err
	}
	return writeCatalog(os.Stdout, rc)
}

func writeCatalog(w io.Writer, rc *generator.RunContext) error {
	dump := catalogDump{
		Root:       rc.Root,
		Components: rc.Components.Components,
		Features:   rc.Features.Features,
		Dangling:   rc.Analyzer.Dangling(),
		Skipped:    map[string]any{},
	}
	for _, c := range rc.Analyzer.ComponentsWithoutFeatureDependency() {
		dump.Free = append(dump.Free, c.ID)
	}
	for _, f := range rc.Analyzer.MandatoryFeatures() {
		dump.Mandatory = append(dump.Mandatory, f.ID)
	}
	if len(rc.Components.Skipped) > 0 {
		dump.Skipped["components"] = rc.Components.Skipped
	}
	if len(rc.Features.Skipped) > 0 {
		dump.Skipped["features"] = rc.Features.Skipped
	}
	if len(rc.Features.Excluded) > 0 {
		dump.Skipped["excluded_features"] = rc.Features.Excluded
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(dump); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return enc.Close()
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

func runExport(args []string) error {
	var out string
	rc, cfg, err := inspect("export", args, func(fs *flag.FlagSet) {
		fs.StringVar(&out, "o", "", "feature model file")
	})
	if err != nil {
		return err
	}
	if out == "" {
		if cfg.Output == "" {
			return errors.New("export: -o or output is required")
		}
		out = filepath.Join(cfg.Output, featuremodel.FileName)
	}
	if err := featuremodel.Write(rc.Model, out); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d features, %d constraints)\n", out, len(rc.Model.Nodes), len(rc.Model.Clauses))
	return nil
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func runHistory(args []string) error {
	var rf runFlags
	var db string
	var limit int
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	rf.register(fs)
	fs.StringVar(&db, "db", "", "statistics database")
	fs.IntVar(&limit, "n", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.load()
	if err != nil {
		return err
	}
	if db == "" {
		db = cfg.StatsDB
	}
	if db == "" {
		return errors.New("history: -db or stats_db is required")
	}

	store, err := stats.Open(db)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if fs.NArg() > 0 {
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			return fmt.Errorf("history: run id: %w", err)
		}
		rows, err := store.Variants(ctx, id)
		if err != nil {
			return err
		}
		return writeVariants(os.Stdout, rows)
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	return writeRuns(os.Stdout, runs)
}

func writeRuns(w io.Writer, runs []stats.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATE\tMODE\tVARIANTS\tFEATURES\tPLUGINS\tELAPSED\tINPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Started.Local().Format(time.DateTime), r.State, r.Mode,
			r.Variants, r.Features, r.Plugins, r.Elapsed, r.Input)
	}
	return tw.Flush()
}

func writeVariants(w io.Writer, rows []stats.VariantRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tNAME\tFEATURES\tPLUGINS\tMILLISECONDS\tERRORS")
	for _, v := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\n", v.Index, v.Name, v.Features, v.Plugins, v.Milliseconds, v.Errors)
	}
	return tw.Flush()
}

// ---------------------------------------------------------------------------
// reports
// ---------------------------------------------------------------------------

func runReports(args []string) error {
	var rf runFlags
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.load()
	if err != nil {
		return err
	}
	if cfg.Output == "" {
		return errors.New("reports: -output or output is required")
	}
	if _, err := os.Stat(cfg.Output); err != nil {
		return fmt.Errorf("reports: %w", err)
	}
	ws, err := workspace.Open(cfg.Output)
	if err != nil {
		return err
	}
	return writeReports(os.Stdout, ws)
}

// writeReports prints one line per variant directory of ws. Statistics come
// from the variant's report when one was written.
func writeReports(w io.Writer, ws *workspace.Workspace) error {
	ids, err := ws.ListVariants()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tNAME\tMODE\tFEATURES\tPLUGINS\tMILLISECONDS\tERRORS")
	for _, i := range ids {
		meta, err := variant.ReadReport(ws.ReportPath(i))
		if err != nil {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t-\t-\n", i, workspace.VariantName(i))
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\n",
			i, meta.Variant, meta.Mode, meta.Features, meta.Plugins, meta.Milliseconds, len(meta.Errors))
	}
	return tw.Flush()
}

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
