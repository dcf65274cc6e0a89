package variant

import (
	"fmt"
	"strings"

	"varforge/internal/frontmatter"
)

// ReportMeta is the YAML header of a variant report.
type ReportMeta struct {
	Variant      string   `yaml:"variant"`
	Index        int      `yaml:"index"`
	Mode         string   `yaml:"mode"`
	Features     int      `yaml:"features"`
	Plugins      int      `yaml:"plugins"`
	Milliseconds int64    `yaml:"milliseconds"`
	Errors       []string `yaml:"errors,omitempty"`
}

// Meta returns the report header for r.
func (r Result) Meta() ReportMeta {
	return ReportMeta{
		Variant:      r.Variant.Name,
		Index:        r.Variant.Index,
		Mode:         r.Mode.String(),
		Features:     len(r.Variant.Features),
		Plugins:      len(r.Variant.Components),
		Milliseconds: r.Elapsed.Milliseconds(),
		Errors:       r.ErrorStrings(),
	}
}

// WriteReport writes a markdown report of r to path.
func WriteReport(path string, r Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Variant.Name)

	b.WriteString("## Features\n\n")
	for _, f := range r.Variant.Features {
		fmt.Fprintf(&b, "- %s %s\n", f.ID, f.Version)
	}
	b.WriteString("\n## Plugins\n\n")
	for _, c := range r.Variant.Components {
		fmt.Fprintf(&b, "- %s %s\n", c.ID, c.Version)
	}
	if len(r.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range r.ErrorStrings() {
			b.WriteString("- " + e + "\n")
		}
	}
	return frontmatter.WriteFile(path, r.Meta(), b.String())
}

// ReadReport reads the header of a report written by WriteReport.
func ReadReport(path string) (ReportMeta, error) {
	var meta ReportMeta
	_, err := frontmatter.ReadFile(path, &meta)
	return meta, err
}
