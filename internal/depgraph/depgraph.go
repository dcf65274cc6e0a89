// Package depgraph relates features to the components they pull in.
//
// The graph has two edge kinds: feature -> packaged plugin, and
// component -> required bundle (Require-Bundle). A feature's components are
// the breadth-first closure over both, in discovery order.
package depgraph

import (
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"varforge/internal/catalog"
	"varforge/internal/logger"
)

// DefaultCacheSize bounds the per-feature closure cache.
const DefaultCacheSize = 1024

// Options tunes New.
type Options struct {
	// Mandatory holds doublestar patterns over feature ids. Matching
	// features and their hard includes are part of every variant, in
	// addition to the features every root feature reaches.
	Mandatory []string
	// CacheSize bounds memoised closures; DefaultCacheSize when <= 0.
	CacheSize int
}

// Reference is an id a feature or component points at that is not in the
// catalog.
type Reference struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Analyzer answers dependency queries for one run. It is immutable after New
// and safe for concurrent use.
type Analyzer struct {
	features   *catalog.FeatureCatalog
	components *catalog.Catalog
	root       string

	mandatory []*catalog.Feature
	free      []*catalog.Component
	dangling  []Reference
	closures  *lru.Cache[string, []*catalog.Component]
}

// New builds the analyzer. Unknown plugin and bundle ids are logged once and
// dropped.
func New(features *catalog.FeatureCatalog, components *catalog.Catalog, root string, opts Options) (*Analyzer, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []*catalog.Component](size)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		features:   features,
		components: components,
		root:       root,
		closures:   cache,
	}
	a.mandatory = a.resolveMandatory(opts.Mandatory)
	a.scan()

	log := logger.ForComponent("depgraph")
	for _, ref := range a.dangling {
		log.Warn("dangling reference", "from", ref.From, "to", ref.To)
	}
	log.Info("dependency graph built",
		"features", features.Len(),
		"components", components.Len(),
		"mandatory", len(a.mandatory),
		"feature_free", len(a.free),
		"dangling", len(a.dangling))
	return a, nil
}

// MandatoryFeatures returns the features every variant contains, in catalog
// order.
func (a *Analyzer) MandatoryFeatures() []*catalog.Feature {
	return append([]*catalog.Feature(nil), a.mandatory...)
}

// ComponentsFor returns the components feature f pulls in, in breadth-first
// discovery order without duplicates. It returns nil when nothing resolves.
func (a *Analyzer) ComponentsFor(f *catalog.Feature) []*catalog.Component {
	if f == nil {
		return nil
	}
	if cached, ok := a.closures.Get(f.ID); ok {
		return clone(cached)
	}
	w := a.newWalker()
	for _, id := range f.Plugins {
		w.enqueue(id)
	}
	w.loop()
	if len(w.order) == 0 {
		a.closures.Add(f.ID, nil)
		return nil
	}
	a.closures.Add(f.ID, w.order)
	return clone(w.order)
}

// ComponentsWithoutFeatureDependency returns the components no feature
// reaches, in catalog order.
func (a *Analyzer) ComponentsWithoutFeatureDependency() []*catalog.Component {
	return clone(a.free)
}

// PathForFeature returns the absolute source path of f. Relative paths are
// resolved against the installation root.
func (a *Analyzer) PathForFeature(f *catalog.Feature) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(a.root, f.Path)
}

// Dangling returns the unresolved references found while building, sorted.
func (a *Analyzer) Dangling() []Reference {
	return append([]Reference(nil), a.dangling...)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// resolveMandatory seeds the mandatory set with the features matching
// patterns and the features shared by every root feature, then adds their
// hard includes.
func (a *Analyzer) resolveMandatory(patterns []string) []*catalog.Feature {
	selected := make(map[string]bool)
	var queue []string
	for _, id := range a.sharedByRoots() {
		selected[id] = true
		queue = append(queue, id)
	}
	for _, f := range a.features.Features {
		if selected[f.ID] {
			continue
		}
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, f.ID); ok {
				selected[f.ID] = true
				queue = append(queue, f.ID)
				break
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		f, ok := a.features.Lookup(id)
		if !ok {
			continue
		}
		for _, inc := range f.Includes {
			if inc.Optional || selected[inc.ID] {
				continue
			}
			if _, ok := a.features.Lookup(inc.ID); ok {
				selected[inc.ID] = true
				queue = append(queue, inc.ID)
			}
		}
	}
	var out []*catalog.Feature
	for _, f := range a.features.Features {
		if selected[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

// sharedByRoots returns, in catalog order, the features that every root
// feature reaches through hard includes and feature imports. A root is a
// feature no other feature includes. A single root shares nothing: its own
// selection is left to the solver.
func (a *Analyzer) sharedByRoots() []string {
	included := make(map[string]bool)
	for _, f := range a.features.Features {
		for _, inc := range f.Includes {
			if inc.ID != f.ID {
				included[inc.ID] = true
			}
		}
	}
	var roots []*catalog.Feature
	for _, f := range a.features.Features {
		if !included[f.ID] {
			roots = append(roots, f)
		}
	}
	if len(roots) < 2 {
		return nil
	}

	reached := make(map[string]int)
	for _, root := range roots {
		seen := map[string]bool{root.ID: true}
		queue := []*catalog.Feature{root}
		for len(queue) > 0 {
			f := queue[0]
			queue = queue[1:]
			next := append([]string(nil), f.RequiresFeatures...)
			for _, inc := range f.Includes {
				if !inc.Optional {
					next = append(next, inc.ID)
				}
			}
			for _, id := range next {
				if seen[id] {
					continue
				}
				seen[id] = true
				if g, ok := a.features.Lookup(id); ok {
					reached[id]++
					queue = append(queue, g)
				}
			}
		}
	}
	var out []string
	for _, f := range a.features.Features {
		if reached[f.ID] == len(roots) {
			out = append(out, f.ID)
		}
	}
	return out
}

// scan walks from every feature once to find feature-free components and
// dangling references.
func (a *Analyzer) scan() {
	w := a.newWalker()
	dangling := make(map[Reference]bool)
	w.onMissing = func(from, to string) { dangling[Reference{From: from, To: to}] = true }
	for _, f := range a.features.Features {
		w.from = f.ID
		for _, id := range f.Plugins {
			w.enqueue(id)
		}
		w.loop()
	}
	for _, c := range a.components.Components {
		if !w.visited[c.ID] {
			a.free = append(a.free, c)
		}
	}
	for ref := range dangling {
		a.dangling = append(a.dangling, ref)
	}
	sort.Slice(a.dangling, func(i, j int) bool {
		if a.dangling[i].From != a.dangling[j].From {
			return a.dangling[i].From < a.dangling[j].From
		}
		return a.dangling[i].To < a.dangling[j].To
	})
}

// ---------------------------------------------------------------------------
// Walker
// ---------------------------------------------------------------------------

type walker struct {
	components *catalog.Catalog
	queue      []*catalog.Component
	visited    map[string]bool
	order      []*catalog.Component
	// from names the referrer of ids passed to enqueue.
	from      string
	onMissing func(from, to string)
}

func (a *Analyzer) newWalker() *walker {
	return &walker{
		components: a.components,
		visited:    make(map[string]bool),
		onMissing:  func(string, string) {},
	}
}

func (w *walker) enqueue(id string) {
	if w.visited[id] {
		return
	}
	c, ok := w.components.Lookup(id)
	if !ok {
		w.onMissing(w.from, id)
		return
	}
	w.visited[id] = true
	w.queue = append(w.queue, c)
}

func (w *walker) loop() {
	for len(w.queue) > 0 {
		c := w.queue[0]
		w.queue = w.queue[1:]
		w.order = append(w.order, c)
		from := w.from
		w.from = c.ID
		for _, id := range c.Requires {
			w.enqueue(id)
		}
		w.from = from
	}
}

func clone(in []*catalog.Component) []*catalog.Component {
	if in == nil {
		return nil
	}
	return append([]*catalog.Component(nil), in...)
}
