package featuremodel

// featuremodel.go converts a feature catalog into a SPLOT feature model, the
// input format of the configuration solver.
//
// Node numbering is the contract with the solver output:
//
//	node 1      synthetic root (_r)
//	node i+2    feature at zero-based catalog index i
//
// Every feature is a direct child of the root, in catalog order. Mandatory
// features are tagged :m, the rest :o. Hard includes and required feature
// imports become cross-tree clauses "~A or B".

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"varforge/internal/catalog"
)

// FileName is the model file written into the output directory.
const FileName = "SPLOTFeatureModel.xml"

// RootNode is the solver value of the synthetic root.
const RootNode = 1

// Node is one feature of the exported tree.
type Node struct {
	Number    int
	FeatureID string
	Mandatory bool
}

// Code returns the SPLOT identifier of the node.
func (n Node) Code() string { return nodeCode(n.Number) }

// Clause is a binary cross-tree constraint: selecting From requires To.
type Clause struct {
	From, To int
}

// String renders the clause in SPLOT CNF syntax.
func (c Clause) String() string {
	return fmt.Sprintf("~%s or %s", nodeCode(c.From), nodeCode(c.To))
}

// Model is an in-memory feature model.
type Model struct {
	Name    string
	Nodes   []Node
	Clauses []Clause
}

// Build creates the model for features. mandatory holds the ids of features
// every variant must contain; ids outside the catalog are ignored. No files
// are written.
func Build(name string, features *catalog.FeatureCatalog, mandatory []string) *Model {
	isMandatory := make(map[string]bool, len(mandatory))
	for _, id := range mandatory {
		isMandatory[id] = true
	}

	m := &Model{Name: name}
	seen := make(map[Clause]bool)
	addClause := func(from, to int) {
		c := Clause{From: from, To: to}
		if from == to || seen[c] {
			return
		}
		seen[c] = true
		m.Clauses = append(m.Clauses, c)
	}

	for i, f := range features.Features {
		m.Nodes = append(m.Nodes, Node{Number: NodeNumber(i), FeatureID: f.ID, Mandatory: isMandatory[f.ID]})
	}
	for i, f := range features.Features {
		for _, inc := range f.Includes {
			if inc.Optional {
				continue
			}
			if j, ok := features.IndexOf(inc.ID); ok {
				addClause(NodeNumber(i), NodeNumber(j))
			}
		}
		for _, req := range f.RequiresFeatures {
			if j, ok := features.IndexOf(req); ok {
				addClause(NodeNumber(i), NodeNumber(j))
			}
		}
	}
	return m
}

// NodeNumber maps a zero-based catalog index to its solver node number.
func NodeNumber(index int) int { return index + 2 }

// NodeIndex maps a solver value back to a zero-based catalog index. ok is
// false for the root, deselected features (value <= 0) and values below the
// root.
func NodeIndex(value int) (index int, ok bool) {
	if value <= RootNode {
		return 0, false
	}
	return value - 2, true
}

// Render returns the SPLOT XML document for m.
func (m *Model) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<feature_model name=\"%s\">\n", xmlAttr(m.Name))
	b.WriteString("<feature_tree>\n")
	fmt.Fprintf(&b, ":r %s (%s)\n", xmlText(m.Name), nodeCode(RootNode))
	for _, n := range m.Nodes {
		tag := ":o"
		if n.Mandatory {
			tag = ":m"
		}
		fmt.Fprintf(&b, "\t%s %s (%s)\n", tag, xmlText(n.FeatureID), n.Code())
	}
	b.WriteString("</feature_tree>\n")
	b.WriteString("<constraints>\n")
	for i, c := range m.Clauses {
		fmt.Fprintf(&b, "c%d: %s\n", i+1, c)
	}
	b.WriteString("</constraints>\n")
	b.WriteString("</feature_model>\n")
	return b.String()
}

// Write renders m into path, creating parent directories.
func Write(m *Model, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("featuremodel: mkdir: %w", err)
	}
	if err := os.WriteFile(path, []byte(m.Render()), 0o644); err != nil {
		return fmt.Errorf("featuremodel: write %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func nodeCode(n int) string {
	if n == RootNode {
		return "_r"
	}
	return fmt.Sprintf("_f%d", n)
}

var (
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "(", "[", ")", "]")
)

func xmlAttr(s string) string { return attrEscaper.Replace(s) }

// xmlText also rewrites parentheses, which delimit node codes in tree lines.
func xmlText(s string) string { return textEscaper.Replace(s) }
