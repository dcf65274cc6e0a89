package generator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"varforge/internal/catalog"
	"varforge/internal/config"
	"varforge/internal/depgraph"
	"varforge/internal/featuremodel"
	"varforge/internal/solver"
	"varforge/internal/variant"
	"varforge/internal/workspace"
)

var (
	ErrInputMissing      = errors.New("generator: input does not exist")
	ErrNotInstallation   = errors.New("generator: input is not an installation")
	ErrInvalidTransition = errors.New("generator: invalid state transition")
)

// RunContext holds everything one generation run derives. It is created per
// invocation and never shared between runs.
type RunContext struct {
	Config  config.Config
	Started time.Time

	Root       string
	Components *catalog.Catalog
	Features   *catalog.FeatureCatalog
	Elements   []catalog.Element
	Analyzer   *depgraph.Analyzer
	Model      *featuremodel.Model

	Workspace      *workspace.Workspace
	Configurations []solver.Configuration
	Results        []variant.Result

	Preparation time.Duration
	Elapsed     time.Duration
	Err         error

	mu    sync.Mutex
	state State
}

func newRunContext(cfg config.Config) *RunContext {
	return &RunContext{Config: cfg, Started: time.Now(), state: Idle}
}

// Inspect reads the installation named by cfg.Input and builds its catalogs,
// dependency graph and feature model without writing anything.
func Inspect(cfg config.Config) (*RunContext, error) {
	rc := newRunContext(cfg)
	if err := rc.transition(Preparing); err != nil {
		return nil, err
	}
	if err := rc.load(); err != nil {
		return rc, err
	}
	return rc, nil
}

// State returns the current state.
func (rc *RunContext) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

func (rc *RunContext) transition(to State) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !CanTransition(rc.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rc.state, to)
	}
	rc.state = to
	return nil
}

func (rc *RunContext) load() error {
	cfg := rc.Config
	if _, err := os.Stat(cfg.Input); err != nil {
		return fmt.Errorf("%w: %s", ErrInputMissing, cfg.Input)
	}
	root, err := catalog.ResolveInstallationRoot(cfg.Input)
	if err != nil {
		return err
	}
	rc.Root = root
	if !catalog.IsInstallation(root) {
		return fmt.Errorf("%w: %s", ErrNotInstallation, root)
	}

	rc.Features, err = catalog.LoadFeatures(root, catalog.FeatureOptions{
		ExcludePrefixes: cfg.ExcludeFeaturePrefixes,
		Exclude:         cfg.Scan.ExcludeFeatures,
	})
	if err != nil {
		return fmt.Errorf("generator: load features: %w", err)
	}
	rc.Components, err = catalog.BuildComponents(root, catalog.ScanOptions{Exclude: cfg.Scan.Exclude})
	if err != nil {
		return fmt.Errorf("generator: build components: %w", err)
	}
	var skip []string
	if cfg.Output != "" {
		output, err := filepath.Abs(cfg.Output)
		if err != nil {
			return fmt.Errorf("generator: output: %w", err)
		}
		skip = append(skip, output)
	}
	rc.Elements, err = catalog.InstallationElements(root, rc.Components, skip...)
	if err != nil {
		return fmt.Errorf("generator: list installation: %w", err)
	}
	rc.Analyzer, err = depgraph.New(rc.Features, rc.Components, root, depgraph.Options{Mandatory: cfg.MandatoryFeatures})
	if err != nil {
		return fmt.Errorf("generator: dependency graph: %w", err)
	}

	var mandatory []string
	for _, f := range rc.Analyzer.MandatoryFeatures() {
		mandatory = append(mandatory, f.ID)
	}
	rc.Model = featuremodel.Build(filepath.Base(root), rc.Features, mandatory)
	return nil
}

// Mode returns the materialization mode selected by the configuration.
func (rc *RunContext) Mode() variant.Mode {
	return variant.ModeFor(rc.Config.KeepOnlyMetadata, rc.Config.OnlyStatistics)
}

// Summary describes a run for history and metrics sinks.
type Summary struct {
	Started     time.Time
	Input       string
	Output      string
	Variants    int
	Mode        string
	Features    int
	Plugins     int
	Preparation time.Duration
	Elapsed     time.Duration
	State       string
	Err         string
}

// Summary snapshots rc.
func (rc *RunContext) Summary() Summary {
	s := Summary{
		Started:     rc.Started,
		Input:       rc.Config.Input,
		Output:      rc.Config.Output,
		Variants:    rc.Config.Variants,
		Mode:        rc.Mode().String(),
		Preparation: rc.Preparation,
		Elapsed:     rc.Elapsed,
		State:       rc.State().String(),
	}
	if rc.Features != nil {
		s.Features = rc.Features.Len()
	}
	if rc.Components != nil {
		s.Plugins = rc.Components.Len()
	}
	if rc.Err != nil {
		s.Err = rc.Err.Error()
	}
	return s
}
