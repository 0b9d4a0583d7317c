package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/assembler/internal/graph"
)

// Stats counts builder work.
type Stats struct {
	Built  int // nodes evaluated
	Reused int // memo hits
}

// Builder evaluates trees against a filesystem. Every node is built at most
// once per Builder, so sub-trees shared by several descriptors are reused.
// Stores returned by Build are shared with the memo and must not be mutated.
type Builder struct {
	fs     billy.Filesystem
	logger *log.Logger

	mu    sync.Mutex
	memo  map[Tree]*graph.MemoryStore
	stats Stats
}

type Option func(*Builder)

// WithLogger sets the logger used for per-node debug output.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func NewBuilder(fsys billy.Filesystem, opts ...Option) *Builder {
	b := &Builder{
		fs:   fsys,
		memo: make(map[Tree]*graph.MemoryStore),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.New(os.Stderr)
		b.logger.SetLevel(log.WarnLevel)
	}
	return b
}

// Stats returns the work counters.
func (b *Builder) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Build evaluates t. A nil tree builds empty.
func (b *Builder) Build(ctx context.Context, t Tree) (*graph.MemoryStore, error) {
	if t == nil {
		return graph.NewMemoryStore(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if out, ok := b.memo[t]; ok {
		b.stats.Reused++
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()

	out, err := b.build(ctx, t)
	if err != nil {
		var be *BuildError
		if errors.As(err, &be) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &BuildError{Description: t.Meta().Description, Err: err}
	}

	b.mu.Lock()
	b.memo[t] = out
	b.stats.Built++
	b.mu.Unlock()

	b.logger.Debug("built tree", "kind", t.Meta().Kind, "description", t.Meta().Description, "files", len(out.Files()))
	return out, nil
}

func (b *Builder) build(ctx context.Context, t Tree) (*graph.MemoryStore, error) {
	switch n := t.(type) {
	case *SourceTree:
		return b.buildSource(n)
	case *StaticTree:
		return buildStatic(n)
	case *MergeTree:
		return b.buildMerge(ctx, n)
	case *FunnelTree:
		return b.buildFunnel(ctx, n)
	case *TransformTree:
		in, err := b.Build(ctx, n.input)
		if err != nil {
			return nil, err
		}
		out, err := n.fn(in.Clone())
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fmt.Errorf("transform returned no output")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown tree type %T", t)
	}
}

func (b *Builder) buildSource(n *SourceTree) (*graph.MemoryStore, error) {
	out := graph.NewMemoryStore()
	if b.fs == nil {
		return nil, fmt.Errorf("no filesystem configured for source %s", n.dir)
	}

	root := n.dir
	if root == "" || root == "." {
		root = "/"
	}
	info, err := b.fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	err = util.Walk(b.fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := util.ReadFile(b.fs, p)
		if err != nil {
			return err
		}
		return out.PutFile(filepath.ToSlash(rel), data, fi.ModTime())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func buildStatic(n *StaticTree) (*graph.MemoryStore, error) {
	out := graph.NewMemoryStore()
	err := fs.WalkDir(n.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(n.fsys, p)
		if err != nil {
			return err
		}
		return out.PutFile(p, data, time.Time{})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) buildMerge(ctx context.Context, n *MergeTree) (*graph.MemoryStore, error) {
	out := graph.NewMemoryStore()
	owner := make(map[string]string)
	for _, input := range n.inputs {
		in, err := b.Build(ctx, input)
		if err != nil {
			return nil, err
		}
		desc := input.Meta().Description
		for _, p := range in.Files() {
			if prev, seen := owner[p]; seen && !n.overwrite {
				return nil, fmt.Errorf("%w: %s exists in %q and %q; merge with overwrite to let the later tree win",
					ErrMergeConflict, p, prev, desc)
			}
			node, err := in.GetNode(p)
			if err != nil {
				return nil, err
			}
			if err := out.CopyFile(p, node); err != nil {
				return nil, fmt.Errorf("%w: %s from %q clashes with a directory or file: %v", ErrMergeConflict, p, desc, err)
			}
			owner[p] = desc
		}
	}
	return out, nil
}

func (b *Builder) buildFunnel(ctx context.Context, n *FunnelTree) (*graph.MemoryStore, error) {
	in, err := b.Build(ctx, n.input)
	if err != nil {
		return nil, err
	}
	out := graph.NewMemoryStore()
	for _, p := range in.Files() {
		dest, ok := n.destination(p)
		if !ok {
			continue
		}
		node, err := in.GetNode(p)
		if err != nil {
			return nil, err
		}
		if err := out.CopyFile(dest, node); err != nil {
			return nil, fmt.Errorf("place %s at %s: %w", p, dest, err)
		}
	}
	return out, nil
}

// Describe renders the DAG below t, one node per line. Nodes reachable
// through several parents are expanded once and marked as shared afterwards.
func Describe(t Tree) string {
	var b strings.Builder
	seen := make(map[Tree]bool)
	describe(&b, t, 0, seen)
	return b.String()
}

func describe(b *strings.Builder, t Tree, depth int, seen map[Tree]bool) {
	indent := strings.Repeat("  ", depth)
	if t == nil {
		fmt.Fprintf(b, "%s(empty)\n", indent)
		return
	}
	m := t.Meta()
	if seen[t] {
		fmt.Fprintf(b, "%s%s: %s (shared)\n", indent, m.Kind, m.Description)
		return
	}
	seen[t] = true

	line := fmt.Sprintf("%s%s: %s", indent, m.Kind, m.Description)
	var flags []string
	if m.Kind == KindSource && !m.Watched {
		flags = append(flags, "unwatched")
	}
	if mt, ok := t.(*MergeTree); ok && mt.overwrite {
		flags = append(flags, "overwrite")
	}
	if len(flags) > 0 {
		sort.Strings(flags)
		line += " [" + strings.Join(flags, ",") + "]"
	}
	b.WriteString(line)
	b.WriteByte('\n')
	for _, in := range t.Inputs() {
		describe(b, in, depth+1, seen)
	}
}
