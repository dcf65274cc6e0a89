// Package metrics exposes generation counters in the Prometheus text format.
// Runs are batch jobs, so the registry is written to a textfile at the end of
// each run rather than served.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"varforge/internal/generator"
	"varforge/internal/variant"
)

// Collector owns a private registry with the generation metrics.
type Collector struct {
	reg  *prometheus.Registry
	path string

	variantsTotal      *prometheus.CounterVec
	variantErrorsTotal prometheus.Counter
	variantDuration    prometheus.Histogram
	variantPlugins     prometheus.Histogram
	runsTotal          *prometheus.CounterVec
	preparationSeconds prometheus.Gauge
	runSeconds         prometheus.Gauge
	inputFeatures      prometheus.Gauge
	inputPlugins       prometheus.Gauge
}

var (
	_ generator.Recorder = (*Collector)(nil)
	_ generator.RunHook  = (*Collector)(nil)
)

// New returns a collector. When path is not empty EndRun writes the
// registry there.
func New(path string) *Collector {
	c := &Collector{
		reg:  prometheus.NewRegistry(),
		path: path,
		variantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varforge_variants_total",
				Help: "Number of variants produced, by materialization mode.",
			},
			[]string{"mode"},
		),
		variantErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "varforge_variant_errors_total",
				Help: "Number of copy or strip errors recorded while materializing variants.",
			},
		),
		variantDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "varforge_variant_duration_seconds",
				Help:    "Time taken to materialize one variant.",
				Buckets: prometheus.DefBuckets,
			},
		),
		variantPlugins: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "varforge_variant_plugins",
				Help:    "Number of plugins in each variant.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varforge_runs_total",
				Help: "Number of generation runs, by final state.",
			},
			[]string{"state"},
		),
		preparationSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "varforge_run_preparation_seconds",
				Help: "Preparation time of the last run, solver included.",
			},
		),
		runSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "varforge_run_duration_seconds",
				Help: "Total duration of the last run.",
			},
		),
		inputFeatures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "varforge_input_features",
				Help: "Active features in the last input installation.",
			},
		),
		inputPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "varforge_input_plugins",
				Help: "Components in the last input installation.",
			},
		),
	}
	c.reg.MustRegister(
		c.variantsTotal,
		c.variantErrorsTotal,
		c.variantDuration,
		c.variantPlugins,
		c.runsTotal,
		c.preparationSeconds,
		c.runSeconds,
		c.inputFeatures,
		c.inputPlugins,
	)
	return c
}

func (c *Collector) BeginRun(context.Context, generator.Summary) error { return nil }

// Record observes one variant.
func (c *Collector) Record(_ context.Context, r variant.Result) error {
	c.variantsTotal.WithLabelValues(r.Mode.String()).Inc()
	c.variantErrorsTotal.Add(float64(len(r.Errors)))
	c.variantDuration.Observe(r.Elapsed.Seconds())
	c.variantPlugins.Observe(float64(len(r.Variant.Components)))
	return nil
}

// EndRun records run totals and writes the textfile.
func (c *Collector) EndRun(_ context.Context, s generator.Summary) error {
	c.runsTotal.WithLabelValues(s.State).Inc()
	c.preparationSeconds.Set(s.Preparation.Seconds())
	c.runSeconds.Set(s.Elapsed.Seconds())
	c.inputFeatures.Set(float64(s.Features))
	c.inputPlugins.Set(float64(s.Plugins))
	if c.path == "" {
		return nil
	}
	return c.WriteFile(c.path)
}

// WriteFile writes the registry to path in the text exposition format.
func (c *Collector) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: mkdir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.reg); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
