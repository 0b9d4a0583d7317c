// Package es3safe rewrites JavaScript so reserved words are never used as bare
// property names: `a.default` becomes `a["default"]` and `{catch: 1}`
// becomes `{"catch": 1}`.
package es3safe

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/tree"
)

var reserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true,
	"do": true, "else": true, "enum": true, "export": true, "extends": true,
	"false": true, "finally": true, "for": true, "function": true, "if": true,
	"import": true, "in": true, "instanceof": true, "new": true, "null": true,
	"return": true, "super": true, "switch": true, "this": true, "throw": true,
	"true": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true,
}

type edit struct {
	start, end uint32
	text       string
}

// Rewrite returns src with reserved property names quoted. Sources that do not
// parse cleanly are returned unchanged.
func Rewrite(src []byte) ([]byte, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	t, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	root := t.RootNode()
	if root.HasError() {
		return src, nil
	}

	var edits []edit
	collect(root, src, &edits)
	if len(edits) == 0 {
		return src, nil
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := append([]byte(nil), src...)
	for _, e := range edits {
		out = append(out[:e.start], append([]byte(e.text), out[e.end:]...)...)
	}
	return out, nil
}

func collect(n *sitter.Node, src []byte, edits *[]edit) {
	switch n.Type() {
	case "member_expression":
		prop := n.ChildByFieldName("property")
		if prop != nil && prop.Type() == "property_identifier" && reserved[prop.Content(src)] {
			if dot := dotBefore(n, prop); dot != nil {
				*edits = append(*edits, edit{
					start: dot.StartByte(),
					end:   prop.EndByte(),
					text:  "[" + strconv.Quote(prop.Content(src)) + "]",
				})
			}
		}
	case "pair":
		key := n.ChildByFieldName("key")
		if key != nil && key.Type() == "property_identifier" && reserved[key.Content(src)] {
			*edits = append(*edits, edit{
				start: key.StartByte(),
				end:   key.EndByte(),
				text:  strconv.Quote(key.Content(src)),
			})
		}
	}

	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		collect(n.Child(i), src, edits)
	}
}

// dotBefore finds the plain "." token of a member expression. Optional
// chains ("?.") are left alone.
func dotBefore(member, prop *sitter.Node) *sitter.Node {
	count := int(member.ChildCount())
	for i := 0; i < count; i++ {
		c := member.Child(i)
		if c.Type() == "." && c.EndByte() <= prop.StartByte() {
			return c
		}
	}
	return nil
}

// Tree rewrites every .js file of t.
func Tree(t tree.Tree) tree.Tree {
	return tree.Transform(t, "ES3SafeFilter", func(in *graph.MemoryStore) (*graph.MemoryStore, error) {
		for _, p := range in.Files() {
			if path.Ext(p) != ".js" {
				continue
			}
			n, err := in.GetNode(p)
			if err != nil {
				return nil, err
			}
			rewritten, err := Rewrite(n.Data)
			if err != nil {
				return nil, fmt.Errorf("es3 rewrite %s: %w", p, err)
			}
			if err := in.CopyFile(p, &graph.Node{Data: rewritten, ModTime: n.ModTime, Origin: n.Origin}); err != nil {
				return nil, err
			}
		}
		return in, nil
	})
}
