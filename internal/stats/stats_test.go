package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varforge/internal/catalog"
	"varforge/internal/catalog/catalogtest"
	"varforge/internal/config"
	"varforge/internal/generator"
	"varforge/internal/solver"
	"varforge/internal/variant"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func result(index, features, plugins int, elapsed time.Duration, errs ...error) variant.Result {
	v := variant.Variant{Index: index, Name: "Variant_" + string(rune('0'+index))}
	for i := 0; i < features; i++ {
		v.Features = append(v.Features, &catalog.Feature{})
	}
	for i := 0; i < plugins; i++ {
		v.Components = append(v.Components, &catalog.Component{})
	}
	return variant.Result{Variant: v, Elapsed: elapsed, Errors: errs}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.BeginRun(ctx, generator.Summary{
		Started: started, Input: "/in", Output: "/out", Variants: 2, Mode: "full", State: "preparing",
	}))
	require.NoError(t, s.Record(ctx, result(1, 2, 5, 12*time.Millisecond)))
	require.NoError(t, s.Record(ctx, result(2, 1, 3, 7*time.Millisecond, errors.New("copy failed"))))
	require.NoError(t, s.EndRun(ctx, generator.Summary{
		Started: started, Input: "/in", Output: "/out", Variants: 2, Mode: "full",
		Features: 4, Plugins: 9, Preparation: 150 * time.Millisecond, Elapsed: 2 * time.Second, State: "done",
	}))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.True(t, started.Equal(r.Started))
	assert.Equal(t, "/in", r.Input)
	assert.Equal(t, 4, r.Features)
	assert.Equal(t, 9, r.Plugins)
	assert.Equal(t, 150*time.Millisecond, r.Preparation)
	assert.Equal(t, 2*time.Second, r.Elapsed)
	assert.Equal(t, "done", r.State)
	assert.Empty(t, r.Err)

	rows, err := s.Variants(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []VariantRow{
		{Index: 1, Name: "Variant_1", Features: 2, Plugins: 5, Milliseconds: 12},
		{Index: 2, Name: "Variant_2", Features: 1, Plugins: 3, Milliseconds: 7, Errors: 1},
	}, rows)
}

func TestRecordWithoutRun(t *testing.T) {
	s := openStore(t)
	assert.ErrorIs(t, s.Record(context.Background(), result(1, 0, 0, 0)), ErrNoActiveRun)
	assert.ErrorIs(t, s.EndRun(context.Background(), generator.Summary{}), ErrNoActiveRun)
}

func TestFailedRunKeepsError(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.BeginRun(ctx, generator.Summary{Started: time.Now(), Mode: "full", State: "preparing"}))
	require.NoError(t, s.EndRun(ctx, generator.Summary{Mode: "full", State: "failed", Err: "input missing"}))

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].State)
	assert.Equal(t, "input missing", runs[0].Err)
}

// interruptingSolver writes two configurations and cancels the run.
type interruptingSolver struct{ cancel context.CancelFunc }

func (s interruptingSolver) Run(_ context.Context, req solver.Request) error {
	defer s.cancel()
	return os.WriteFile(req.Output, []byte("1 -> _r\n1;2\n1;-2\n"), 0o644)
}

func TestInterruptedGenerationIsStored(t *testing.T) {
	input := catalogtest.Write(t, t.TempDir(), catalogtest.Installation{
		Bundles:  []catalogtest.Bundle{{ID: "core", Version: "1.0.0"}},
		Features: []catalogtest.Feature{{ID: "org.base", Version: "1", Plugins: []string{"core"}}},
		Files:    map[string]string{"eclipse.ini": "-vmargs\n"},
	})
	cfg := *config.Default()
	cfg.Input = input
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Variants = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := openStore(t)
	g := generator.New(cfg, interruptingSolver{cancel: cancel})
	g.AddRecorder(s)
	_, err := g.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	runs, err := s.ListRuns(bg, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].State)
	assert.Equal(t, context.Canceled.Error(), runs[0].Err)

	rows, err := s.Variants(bg, runs[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Variant_1", rows[0].Name)
	assert.Equal(t, 1, rows[0].Errors)
}

func TestListRunsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, in := range []string{"/a", "/b", "/c"} {
		require.NoError(t, s.BeginRun(ctx, generator.Summary{Started: time.Now(), Input: in, Mode: "full", State: "preparing"}))
		require.NoError(t, s.EndRun(ctx, generator.Summary{Mode: "full", State: "done"}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "/c", runs[0].Input)
	assert.Equal(t, "/b", runs[1].Input)
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.BeginRun(ctx, generator.Summary{Started: time.Now(), Input: "/in", Mode: "statistics", State: "preparing"}))
	require.NoError(t, s.EndRun(ctx, generator.Summary{Mode: "statistics", State: "done"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "statistics", runs[0].Mode)
}
