// Package descriptor binds the trees of one logical artifact (an application,
// an addon, a synthetic bundle) to its provenance.
package descriptor

import (
	"github.com/agentic-research/assembler/internal/project"
	"github.com/agentic-research/assembler/internal/tree"
)

// Type tags a tree slot.
type Type string

const (
	App         Type = "app"
	Addon       Type = "addon"
	Styles      Type = "styles"
	Templates   Type = "templates"
	Vendor      Type = "vendor"
	Tests       Type = "tests"
	TestSupport Type = "test-support"
	Public      Type = "public"
	Index       Type = "index"
	Legacy      Type = "legacy"
	Environment Type = "environment"
	Packager    Type = "packager"
	Dist        Type = "dist"
)

// Types lists every tree type in declaration order.
var Types = []Type{App, Addon, Styles, Templates, Vendor, Tests, TestSupport, Public, Index, Legacy, Environment, Packager, Dist}

type Options struct {
	Name            string
	TreeType        Type
	Tree            tree.Tree
	PackageName     string
	Pkg             *project.Package
	Root            string
	NodeModulesPath string
	SrcDir          string
	Aliases         map[string]string
}

// Descriptor holds at most one tree per type. A second tree of the same type
// is merged into the slot, never swapped in.
type Descriptor struct {
	Name            string
	PackageName     string
	Pkg             *project.Package
	Root            string
	NodeModulesPath string
	SrcDir          string
	Aliases         map[string]string

	trees map[Type]tree.Tree
	trail []Type
}

func New(opts Options) *Descriptor {
	return &Descriptor{
		Name:            opts.Name,
		PackageName:     opts.PackageName,
		Pkg:             opts.Pkg,
		Root:            opts.Root,
		NodeModulesPath: opts.NodeModulesPath,
		SrcDir:          opts.SrcDir,
		Aliases:         opts.Aliases,
		trees:           map[Type]tree.Tree{opts.TreeType: opts.Tree},
		trail:           []Type{opts.TreeType},
	}
}

// Update folds other into d. For each of other's types, an empty slot adopts
// the incoming tree and an occupied one becomes a merge in which the incoming
// tree wins on path conflicts.
func (d *Descriptor) Update(other *Descriptor) {
	d.trail = append(d.trail, other.trail...)
	for _, typ := range other.Types() {
		incoming := other.trees[typ]
		existing, ok := d.trees[typ]
		if !ok || existing == nil {
			d.trees[typ] = incoming
			continue
		}
		d.trees[typ] = tree.Merge([]tree.Tree{existing, incoming}, tree.MergeOptions{
			Overwrite:   true,
			Description: "TreeMerger (" + d.Name + ":" + string(typ) + ")",
		})
	}
}

// Tree returns the slot for typ, or nil.
func (d *Descriptor) Tree(typ Type) tree.Tree {
	return d.trees[typ]
}

// Has reports whether the descriptor carries a slot for typ.
func (d *Descriptor) Has(typ Type) bool {
	_, ok := d.trees[typ]
	return ok
}

// SetTree rewrites one slot. The cache uses it for in-place replacement so
// the type index stays consistent; other callers go through the cache.
func (d *Descriptor) SetTree(typ Type, t tree.Tree) {
	if _, ok := d.trees[typ]; !ok {
		d.trail = append(d.trail, typ)
	}
	d.trees[typ] = t
}

// Types returns the distinct slot types in the order they first arrived.
func (d *Descriptor) Types() []Type {
	seen := make(map[Type]bool, len(d.trail))
	out := make([]Type, 0, len(d.trees))
	for _, typ := range d.trail {
		if seen[typ] {
			continue
		}
		seen[typ] = true
		if _, ok := d.trees[typ]; ok {
			out = append(out, typ)
		}
	}
	return out
}

// Trail returns every type ever folded into d, duplicates included.
func (d *Descriptor) Trail() []Type {
	return append([]Type(nil), d.trail...)
}
