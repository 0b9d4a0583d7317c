// Package tree describes build-graph nodes. A Tree is an immutable value: its
// inputs and metadata are fixed at construction and nothing is read from disk
// until a Builder evaluates it.
package tree

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/agentic-research/assembler/internal/graph"
)

// ErrMergeConflict is returned when two merge inputs emit the same file and the
// merge was not configured to overwrite.
var ErrMergeConflict = errors.New("merge conflict")

// Kind tags the variant of a Tree.
type Kind string

const (
	KindSource    Kind = "source"
	KindMerge     Kind = "merge"
	KindFunnel    Kind = "funnel"
	KindTransform Kind = "transform"
	KindStatic    Kind = "static"
)

// Meta is the metadata every tree carries from construction.
type Meta struct {
	Kind        Kind
	Description string
	Watched     bool
}

// Tree is a node in the build DAG.
type Tree interface {
	Meta() Meta
	Inputs() []Tree
	isTree()
}

// BuildError reports the tree that failed to build.
type BuildError struct {
	Description string
	Err         error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Description, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Source
// -----------------------------------------------------------------------------

// SourceTree reads a directory of the build filesystem.
type SourceTree struct {
	dir  string
	meta Meta
}

// Source returns a watched tree for dir. A missing directory builds empty.
func Source(dir string) Tree {
	return &SourceTree{dir: dir, meta: Meta{Kind: KindSource, Description: dir, Watched: true}}
}

// Unwatched returns a tree for dir that needs no change detection, such as
// vendored libraries.
func Unwatched(dir string) Tree {
	return &SourceTree{dir: dir, meta: Meta{Kind: KindSource, Description: dir}}
}

// Dir returns the directory the tree reads.
func (t *SourceTree) Dir() string { return t.dir }
func (t *SourceTree) Meta() Meta   { return t.meta }
func (t *SourceTree) Inputs() []Tree {
	return nil
}
func (t *SourceTree) isTree() {}

// -----------------------------------------------------------------------------
// Merge
// -----------------------------------------------------------------------------

type MergeOptions struct {
	// Overwrite lets later inputs win on a path conflict.
	Overwrite   bool
	Description string
}

// MergeTree is the union of its inputs.
type MergeTree struct {
	inputs    []Tree
	overwrite bool
	meta      Meta
}

// Merge combines trees. Nil entries are skipped.
func Merge(trees []Tree, opts MergeOptions) Tree {
	inputs := make([]Tree, 0, len(trees))
	for _, t := range trees {
		if t != nil {
			inputs = append(inputs, t)
		}
	}
	desc := opts.Description
	if desc == "" {
		desc = "TreeMerger"
	}
	return &MergeTree{inputs: inputs, overwrite: opts.Overwrite, meta: Meta{Kind: KindMerge, Description: desc}}
}

// Empty returns a tree with no files.
func Empty() Tree {
	return Merge(nil, MergeOptions{Description: "empty"})
}

func (t *MergeTree) Overwrite() bool { return t.overwrite }
func (t *MergeTree) Meta() Meta      { return t.meta }
func (t *MergeTree) Inputs() []Tree  { return t.inputs }
func (t *MergeTree) isTree()         {}

// -----------------------------------------------------------------------------
// Funnel
// -----------------------------------------------------------------------------

type FunnelOptions struct {
	SrcDir  string
	DestDir string
	Include []Matcher
	Exclude []Matcher
	// Files selects exact relative paths; Include and Exclude are ignored when set.
	Files              []string
	GetDestinationPath func(relativePath string) string
	Description        string
}

// FunnelTree selects, renames and relocates a subset of its input.
type FunnelTree struct {
	input Tree
	opts  FunnelOptions
	meta  Meta
}

func Funnel(t Tree, opts FunnelOptions) Tree {
	desc := opts.Description
	if desc == "" {
		desc = "Funnel"
		if opts.DestDir != "" {
			desc += " (" + opts.DestDir + ")"
		}
	}
	return &FunnelTree{input: t, opts: opts, meta: Meta{Kind: KindFunnel, Description: desc}}
}

func (t *FunnelTree) Options() FunnelOptions { return t.opts }
func (t *FunnelTree) Meta() Meta             { return t.meta }
func (t *FunnelTree) Inputs() []Tree         { return []Tree{t.input} }
func (t *FunnelTree) isTree()                {}

// destination computes where rel lands, or false when the funnel drops it.
func (t *FunnelTree) destination(p string) (string, bool) {
	rel := p
	if src := graph.Clean(t.opts.SrcDir); src != "" {
		if !strings.HasPrefix(p, src+"/") {
			return "", false
		}
		rel = strings.TrimPrefix(p, src+"/")
	}

	if len(t.opts.Files) > 0 {
		found := false
		for _, f := range t.opts.Files {
			if graph.Clean(f) == rel {
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	} else {
		if len(t.opts.Include) > 0 && !matchAny(t.opts.Include, rel) {
			return "", false
		}
		if matchAny(t.opts.Exclude, rel) {
			return "", false
		}
	}

	dest := rel
	if t.opts.GetDestinationPath != nil {
		dest = t.opts.GetDestinationPath(rel)
	}
	dest = graph.Clean(path.Join(t.opts.DestDir, dest))
	if dest == "" {
		return "", false
	}
	return dest, true
}

// Rename rewrites every path through fn.
func Rename(t Tree, fn func(relativePath string) string) Tree {
	return Funnel(t, FunnelOptions{GetDestinationPath: fn, Description: "Rename"})
}

// MoveTo places the whole tree under dest.
func MoveTo(t Tree, dest string) Tree {
	return Funnel(t, FunnelOptions{DestDir: dest, Description: "Move (" + graph.Clean(dest) + ")"})
}

// Move rewrites the from prefix to to and leaves other paths alone. An empty
// from moves everything.
func Move(t Tree, from, to string) Tree {
	from = graph.Clean(from)
	to = graph.Clean(to)
	if from == "" {
		return MoveTo(t, to)
	}
	return Funnel(t, FunnelOptions{
		Description: "Move (" + from + " -> " + to + ")",
		GetDestinationPath: func(rel string) string {
			switch {
			case rel == from:
				return to
			case strings.HasPrefix(rel, from+"/"):
				return path.Join(to, strings.TrimPrefix(rel, from+"/"))
			}
			return rel
		},
	})
}

// Find keeps the paths that match any of include.
func Find(t Tree, include ...Matcher) Tree {
	return Funnel(t, FunnelOptions{Include: include, Description: "Find"})
}

// Remove drops the paths that match any of exclude.
func Remove(t Tree, exclude ...Matcher) Tree {
	return Funnel(t, FunnelOptions{Exclude: exclude, Description: "Remove"})
}

// -----------------------------------------------------------------------------
// Transform
// -----------------------------------------------------------------------------

// TransformFunc receives a private copy of the input output and returns the
// transformed output.
type TransformFunc func(in *graph.MemoryStore) (*graph.MemoryStore, error)

// TransformTree applies a function to the built output of its input.
type TransformTree struct {
	input Tree
	fn    TransformFunc
	meta  Meta
}

func Transform(t Tree, description string, fn TransformFunc) Tree {
	return &TransformTree{input: t, fn: fn, meta: Meta{Kind: KindTransform, Description: description}}
}

func (t *TransformTree) Meta() Meta     { return t.meta }
func (t *TransformTree) Inputs() []Tree { return []Tree{t.input} }
func (t *TransformTree) isTree()        {}

// -----------------------------------------------------------------------------
// Static
// -----------------------------------------------------------------------------

// StaticTree serves the files of an io/fs filesystem, such as an embed.FS.
type StaticTree struct {
	fsys fs.FS
	meta Meta
}

func FromFS(description string, fsys fs.FS) Tree {
	return &StaticTree{fsys: fsys, meta: Meta{Kind: KindStatic, Description: description}}
}

func (t *StaticTree) Meta() Meta     { return t.meta }
func (t *StaticTree) Inputs() []Tree { return nil }
func (t *StaticTree) isTree()        {}
