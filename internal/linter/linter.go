// Package linter runs static checks over JavaScript sources and turns the
// results into test modules, one per linted file.
package linter

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/tree"
)

// TestSuffix is appended to the path of every linted file.
const TestSuffix = ".lint-test.js"

type Diagnostic struct {
	Message string
	Line    uint32
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Line+1, d.Message)
}

// Lint checks the content for static analysis issues.
// Only JavaScript is supported; other languages yield no diagnostics.
func Lint(content []byte, lang string) ([]Diagnostic, error) {
	if lang != "js" && !strings.HasSuffix(lang, ".js") {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	t, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}

	var diags []Diagnostic
	walk(t.RootNode(), func(n *sitter.Node) bool {
		switch {
		case n.IsMissing():
			diags = append(diags, Diagnostic{
				Message: fmt.Sprintf("Missing %q.", n.Type()),
				Line:    n.StartPoint().Row,
			})
		case n.Type() == "ERROR":
			diags = append(diags, Diagnostic{
				Message: "Syntax error.",
				Line:    n.StartPoint().Row,
			})
			// The rest of an ERROR subtree is noise.
			return false
		case n.Type() == "debugger_statement":
			diags = append(diags, Diagnostic{
				Message: "Forgotten 'debugger' statement.",
				Line:    n.StartPoint().Row,
			})
		}
		return true
	})
	return diags, nil
}

func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		walk(n.Child(i), visit)
	}
}

// TestModule renders the QUnit module reporting the diagnostics for one file.
func TestModule(relativePath string, diags []Diagnostic) string {
	name := relativePath + " should pass lint"
	message := name + "."
	for _, d := range diags {
		message += "\n" + d.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "QUnit.module(%s);\n", oj.JSON("Lint | "+path.Dir(relativePath)))
	fmt.Fprintf(&b, "QUnit.test(%s, function(assert) {\n", oj.JSON(name))
	b.WriteString("  assert.expect(1);\n")
	fmt.Fprintf(&b, "  assert.ok(%t, %s);\n", len(diags) == 0, oj.JSON(message))
	b.WriteString("});\n")
	return b.String()
}

// Linter lints every .js file of a tree.
type Linter struct{}

func New() *Linter { return &Linter{} }

// LintTree emits one `<path>.lint-test.js` module per JavaScript file of t.
func (l *Linter) LintTree(typ string, t tree.Tree) tree.Tree {
	return tree.Transform(t, "Lint ("+typ+")", func(in *graph.MemoryStore) (*graph.MemoryStore, error) {
		out := graph.NewMemoryStore()
		for _, p := range in.Files() {
			if path.Ext(p) != ".js" {
				continue
			}
			content, err := in.ReadFile(p)
			if err != nil {
				return nil, err
			}
			diags, err := Lint(content, p)
			if err != nil {
				return nil, fmt.Errorf("lint %s: %w", p, err)
			}
			if err := out.PutFile(p+TestSuffix, []byte(TestModule(p, diags)), time.Time{}); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}
