package variant

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"varforge/internal/catalog"
)

// BundlesInfoPath is the simple-configurator bundle list, relative to an
// installation root.
var BundlesInfoPath = filepath.Join("configuration", "org.eclipse.equinox.simpleconfigurator", "bundles.info")

const (
	defaultStartLevel = "4"
	defaultAutoStart  = "false"
)

// RewriteBundlesInfo restricts the bundle list under root to components.
// Comment lines are preserved, entries for absent bundles are dropped, and
// components missing from the list are appended. A missing file is not an
// error.
func RewriteBundlesInfo(root string, components []*catalog.Component) error {
	path := filepath.Join(root, BundlesInfoPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read bundles.info: %w", err)
	}

	keep := make(map[string]bool, len(components))
	for _, c := range components {
		keep[c.ID] = true
	}

	var out bytes.Buffer
	listed := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out.WriteString(line + "\n")
			continue
		}
		id, _, _ := strings.Cut(trimmed, ",")
		if !keep[id] || listed[id] {
			continue
		}
		listed[id] = true
		out.WriteString(line + "\n")
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan bundles.info: %w", err)
	}
	for _, c := range components {
		if listed[c.ID] {
			continue
		}
		fmt.Fprintf(&out, "%s,%s,%s/%s,%s,%s\n",
			c.ID, c.Version, catalog.PluginsDir, c.FileName(), defaultStartLevel, defaultAutoStart)
	}

	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write bundles.info: %w", err)
	}
	return nil
}
