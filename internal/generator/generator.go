// Package generator runs the end-to-end variant generation pipeline:
// catalogs, feature model export, solver, then one materialized variant per
// configuration, reporting progress to observers.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"varforge/internal/catalog"
	"varforge/internal/config"
	"varforge/internal/featuremodel"
	"varforge/internal/logger"
	"varforge/internal/observer"
	"varforge/internal/solver"
	"varforge/internal/variant"
	"varforge/internal/workspace"
)

// Solver produces configurations for a feature model.
type Solver interface {
	Run(ctx context.Context, req solver.Request) error
}

// Recorder receives every variant result, in variant order.
type Recorder interface {
	Record(ctx context.Context, res variant.Result) error
}

// RunHook is implemented by recorders that also track whole runs.
type RunHook interface {
	BeginRun(ctx context.Context, s Summary) error
	EndRun(ctx context.Context, s Summary) error
}

// Generator drives runs for one configuration.
type Generator struct {
	cfg       config.Config
	solver    Solver
	observers []observer.Observer
	recorders []Recorder
}

// New returns a generator. A nil solver selects the subprocess client
// described by cfg.
func New(cfg config.Config, s Solver) *Generator {
	if s == nil {
		s = NewSolverClient(cfg)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Generator{cfg: cfg, solver: s}
}

// NewSolverClient builds the subprocess client for cfg.
func NewSolverClient(cfg config.Config) *solver.Client {
	if len(cfg.SolverCommand) > 0 {
		return &solver.Client{Command: cfg.SolverCommand, Mode: solver.DefaultMode}
	}
	return solver.NewJarClient(cfg.Java, cfg.Generator)
}

// AddObserver registers o for every subsequent message.
func (g *Generator) AddObserver(o observer.Observer) {
	g.observers = append(g.observers, o)
}

// AddRecorder registers r for every subsequent variant result.
func (g *Generator) AddRecorder(r Recorder) {
	g.recorders = append(g.recorders, r)
}

func (g *Generator) send(msg string) {
	if msg == "" {
		return
	}
	for _, o := range g.observers {
		o.Receive(msg)
	}
}

// Run executes one generation. Fatal conditions are reported to observers
// and returned; the returned context is never nil. Cancelling ctx stops
// the remaining variants, fails the run and returns ctx.Err().
// Recorders still see every delivered result and the final summary.
func (g *Generator) Run(ctx context.Context) (*RunContext, error) {
	log := logger.ForComponent("generator")
	rc := newRunContext(g.cfg)
	if err := rc.transition(Preparing); err != nil {
		return rc, err
	}
	g.banner()
	g.hooks(ctx, func(ctx context.Context, h RunHook) error { return h.BeginRun(ctx, rc.Summary()) })

	if err := rc.load(); err != nil {
		switch {
		case errors.Is(err, ErrInputMissing):
			g.send(g.cfg.Input + " not exists !")
		case errors.Is(err, ErrNotInstallation):
			g.send(rc.Root + " is not an eclipse !")
		default:
			g.send("Error in generator : " + err.Error())
		}
		return rc, g.fail(ctx, rc, err)
	}
	g.send("Total features number in the input = " + strconv.Itoa(rc.Features.Len()))
	g.send("Total plugins number in the input = " + strconv.Itoa(rc.Components.Len()) + "\n")

	ws, err := workspace.Open(g.cfg.Output)
	if err != nil {
		g.send("Error in generator : " + err.Error())
		return rc, g.fail(ctx, rc, err)
	}
	rc.Workspace = ws
	if err := featuremodel.Write(rc.Model, ws.FeatureModelPath()); err != nil {
		g.send("Error in generator : " + err.Error())
		return rc, g.fail(ctx, rc, err)
	}

	if err := rc.transition(AwaitingSolver); err != nil {
		return rc, err
	}
	err = g.solver.Run(ctx, solver.Request{
		FeatureModel: ws.FeatureModelPath(),
		Count:        g.cfg.Variants,
		TimeBudget:   time.Duration(g.cfg.Time) * time.Second,
		Output:       ws.ConfigurationsPath(),
	})
	if err == nil {
		rc.Configurations, err = solver.ReadConfigurations(ws.ConfigurationsPath(), g.cfg.Variants)
	}
	if err != nil {
		g.send("Error in solver : " + err.Error())
		return rc, g.fail(ctx, rc, err)
	}

	rc.Preparation = time.Since(rc.Started)
	g.send(fmt.Sprintf("Preparation time (milliseconds): %d\n", rc.Preparation.Milliseconds()))

	if err := rc.transition(MaterializingVariants); err != nil {
		return rc, err
	}
	g.send(variant.ReportHeader)
	g.materialize(ctx, rc)
	if err := ctx.Err(); err != nil {
		g.send("Error in generator : " + err.Error())
		return rc, g.fail(ctx, rc, err)
	}
	if err := rc.transition(Done); err != nil {
		return rc, err
	}

	rc.Elapsed = time.Since(rc.Started)
	g.send(fmt.Sprintf("\nGeneration finished ! Milliseconds: %d", rc.Elapsed.Milliseconds()))
	log.Info("generation finished", "variants", len(rc.Results), "elapsed", rc.Elapsed)
	g.hooks(ctx, func(ctx context.Context, h RunHook) error { return h.EndRun(ctx, rc.Summary()) })
	return rc, nil
}

func (g *Generator) banner() {
	c := g.cfg
	g.send("Starting generation with :")
	g.send("-input = " + c.Input)
	g.send("-output = " + c.Output)
	g.send("-generator = " + c.Generator)
	g.send("-variants number = " + strconv.Itoa(c.Variants))
	g.send("-time = " + strconv.Itoa(c.Time))
	g.send("-keepOnlyMetadata = " + strconv.FormatBool(c.KeepOnlyMetadata))
	g.send("-onlyStatistics = " + strconv.FormatBool(c.OnlyStatistics) + "\n")
	g.send("Please wait until Generation finished\n")
}

func (g *Generator) fail(ctx context.Context, rc *RunContext, err error) error {
	rc.Err = err
	rc.Elapsed = time.Since(rc.Started)
	if terr := rc.transition(Failed); terr != nil {
		return errors.Join(err, terr)
	}
	logger.ForComponent("generator").Error("generation failed", "state", rc.State(), "err", err)
	g.hooks(ctx, func(ctx context.Context, h RunHook) error { return h.EndRun(ctx, rc.Summary()) })
	return err
}

// hooks calls every RunHook. Bookkeeping outlives cancellation of ctx.
func (g *Generator) hooks(ctx context.Context, call func(context.Context, RunHook) error) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range g.recorders {
		if h, ok := r.(RunHook); ok {
			if err := call(ctx, h); err != nil {
				logger.ForComponent("generator").Warn("run hook failed", "err", err)
			}
		}
	}
}

// materialize builds every variant with up to cfg.Workers in parallel and
// delivers results strictly in variant order.
func (g *Generator) materialize(ctx context.Context, rc *RunContext) {
	m := &variant.Materializer{
		Analyzer:         rc.Analyzer,
		Features:         rc.Features,
		Files:            catalog.FileElements(rc.Elements),
		Workspace:        rc.Workspace,
		Mode:             rc.Mode(),
		MetadataPatterns: g.cfg.MetadataPatterns,
	}

	n := len(rc.Configurations)
	results := make([]variant.Result, n)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Workers)
	go func() {
		for i := 0; i < n; i++ {
			i := i
			eg.Go(func() error {
				defer close(done[i])
				results[i] = m.Materialize(ctx, i+1, rc.Configurations[i])
				return nil
			})
		}
	}()

	for i := 0; i < n; i++ {
		<-done[i]
		g.deliver(ctx, rc, results[i])
	}
	_ = eg.Wait()
	rc.Results = results
}

func (g *Generator) deliver(ctx context.Context, rc *RunContext, res variant.Result) {
	log := logger.ForComponent("generator")
	g.send(res.ReportLine())
	if g.cfg.Reports {
		if err := variant.WriteReport(rc.Workspace.ReportPath(res.Variant.Index), res); err != nil {
			log.Warn("write report", "variant", res.Variant.Name, "err", err)
		}
	}
	ctx = context.WithoutCancel(ctx)
	for _, r := range g.recorders {
		if err := r.Record(ctx, res); err != nil {
			log.Warn("recorder failed", "variant", res.Variant.Name, "err", err)
		}
	}
}
