// Package workspace manages the output directory of a generation run.
//
// Directory layout:
//
//	<output>/
//	    SPLOTFeatureModel.xml     # exported feature model
//	    generatedConfigs.txt      # solver output
//	    Variant_<i>/              # one materialized installation per variant
//	    reports/Variant_<i>.md    # per-variant report (optional)
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"varforge/internal/featuremodel"
	"varforge/internal/solver"
)

// VariantPrefix prefixes every variant directory and report name.
const VariantPrefix = "Variant_"

// ReportsDir holds the per-variant reports.
const ReportsDir = "reports"

// Workspace is an output directory.
type Workspace struct {
	Dir string
}

// Open creates dir when missing and returns its workspace.
func Open(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", abs, err)
	}
	return &Workspace{Dir: abs}, nil
}

// FeatureModelPath is where the feature model is written.
func (w *Workspace) FeatureModelPath() string {
	return filepath.Join(w.Dir, featuremodel.FileName)
}

// ConfigurationsPath is where the solver writes its output.
func (w *Workspace) ConfigurationsPath() string {
	return filepath.Join(w.Dir, solver.OutputFileName)
}

// VariantName returns "Variant_<i>".
func VariantName(i int) string { return VariantPrefix + strconv.Itoa(i) }

// VariantDir returns the directory of variant i.
func (w *Workspace) VariantDir(i int) string {
	return filepath.Join(w.Dir, VariantName(i))
}

// ReportPath returns the report file of variant i.
func (w *Workspace) ReportPath(i int) string {
	return filepath.Join(w.Dir, ReportsDir, VariantName(i)+".md")
}

// ResetVariant removes any previous output of variant i and recreates its
// empty directory.
func (w *Workspace) ResetVariant(i int) (string, error) {
	dir := w.VariantDir(i)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("workspace: remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", dir, err)
	}
	return dir, nil
}

// ListVariants returns the indices of materialized variant directories,
// ascending.
func (w *Workspace) ListVariants() ([]int, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", w.Dir, err)
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, ok := strings.CutPrefix(e.Name(), VariantPrefix)
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(n); err == nil {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Copy helpers
// ---------------------------------------------------------------------------

// CopyInto copies src (file or directory) to dstDir/<base(src)>.
func CopyInto(dstDir, src string) error {
	return Copy(src, filepath.Join(dstDir, filepath.Base(src)))
}

// Copy copies src to dst. Directories are copied recursively.
func Copy(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return CopyDir(src, dst)
	}
	return CopyFile(src, dst)
}

// CopyDir recursively copies src to dst.
func CopyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return CopyFile(path, target)
	})
}

// CopyFile copies a single file from src to dst, preserving permissions and
// creating parent directories.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
