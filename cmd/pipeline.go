package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/pflag"

	"github.com/agentic-research/assembler/internal/assembler"
	"github.com/agentic-research/assembler/internal/cache"
	"github.com/agentic-research/assembler/internal/config"
	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/issue"
	"github.com/agentic-research/assembler/internal/project"
	"github.com/agentic-research/assembler/internal/tree"
)

// session is one loaded project: its filesystem, the assembler and, once
// built, the output graph.
type session struct {
	dir       string
	fs        billy.Filesystem
	assembler *assembler.Assembler
	logger    *log.Logger
	out       *graph.MemoryStore
}

type loadOptions struct {
	dir        string
	configPath string
	flags      *pflag.FlagSet
	logger     *log.Logger
}

// openProject loads the project at opts.dir on the host filesystem.
func openProject(opts loadOptions) (*session, error) {
	dir := opts.dir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return loadProject(osfs.New(abs), abs, opts)
}

// loadProject layers the build file, environment and flags into settings and
// creates the assembler. dir is only used in messages and to find the build
// file on disk.
func loadProject(fsys billy.Filesystem, dir string, opts loadOptions) (*session, error) {
	logger := opts.logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	p, err := project.Load(fsys, "/")
	if err != nil {
		return nil, issue.New("load project").
			Resource(dir).
			Suggest("run the command from the application root, or pass its path",
				"check that package.json exists and is valid JSON").
			Wrap(err).Err()
	}

	v := config.NewViper()
	if opts.flags != nil {
		if err := config.BindFlags(v, opts.flags); err != nil {
			return nil, err
		}
	}

	var file *config.BuildFile
	buildFile := filepath.Join(dir, config.BuildFileName)
	if _, err := os.Stat(buildFile); err == nil {
		file, err = config.LoadBuildFile(buildFile)
		if err != nil {
			return nil, issue.New("read build options").
				Resource(buildFile).
				Suggest("fix the HCL syntax reported above").
				Wrap(err).Err()
		}
		logger.Debug("loaded build file", "path", buildFile)
	}

	settings, err := config.Resolve(v, file)
	if err != nil {
		return nil, err
	}

	var configPath string
	if opts.configPath != "" {
		configPath = path.Join("/", filepath.ToSlash(opts.configPath))
	}

	a, err := assembler.New(assembler.Options{
		Project:    p,
		Settings:   settings,
		ConfigPath: configPath,
		Logger:     logger,
	})
	if err != nil {
		b := issue.New("set up build").Resource(p.Name()).Wrap(err)
		var ie *assembler.ImportError
		if errors.As(err, &ie) {
			b.Suggest("import assets with a file extension, one file per import",
				"use type \"vendor\" or \"test\"")
		}
		return nil, b.Err()
	}

	return &session{dir: dir, fs: fsys, assembler: a, logger: logger}, nil
}

// assemble runs every assembly stage. It is safe to call once per session.
func (s *session) assemble() (*cache.Cache, error) {
	c, err := s.assembler.Assemble()
	if err != nil {
		b := issue.New("assemble project").Resource(s.assembler.Name()).Wrap(err)
		if errors.Is(err, assembler.ErrReservedStyleName) {
			b.Suggest(fmt.Sprintf("rename app/styles/%s.css, the name is reserved for the combined addon styles", s.assembler.Name()))
		}
		return nil, b.Err()
	}
	return c, nil
}

// build assembles the project and evaluates the output tree.
func (s *session) build(ctx context.Context) (*graph.MemoryStore, error) {
	if s.out != nil {
		return s.out, nil
	}
	if _, err := s.assemble(); err != nil {
		return nil, err
	}

	start := time.Now()
	b := tree.NewBuilder(s.fs, tree.WithLogger(s.logger))
	out, err := b.Build(ctx, s.assembler.ToTree())
	if err != nil {
		return nil, issue.New("build output").
			Resource(s.assembler.Name()).
			Suggest("rerun with --verbose to see which tree failed").
			Wrap(err).Err()
	}
	stats := b.Stats()
	s.logger.Info("built", "files", len(out.Files()), "trees", stats.Built, "reused", stats.Reused, "took", time.Since(start).Round(time.Millisecond))
	s.out = out
	return out, nil
}

// descriptorRecord is the summary of one cache entry shown by describe,
// serve and preview.
func descriptorRecord(key string, d *descriptor.Descriptor) map[string]any {
	types := make([]any, 0, len(d.Types()))
	for _, t := range d.Types() {
		types = append(types, string(t))
	}
	rec := map[string]any{
		"key":   key,
		"name":  d.Name,
		"types": types,
	}
	if d.PackageName != "" {
		rec["packageName"] = d.PackageName
	}
	if d.Root != "" {
		rec["root"] = d.Root
	}
	return rec
}

// descriptorRecords lists the cache in insertion order. A non-empty typ keeps
// only descriptors carrying that slot.
func descriptorRecords(c *cache.Cache, typ descriptor.Type) []any {
	var out []any
	for _, key := range c.Keys() {
		d, ok := c.Get(key)
		if !ok || (typ != "" && !d.Has(typ)) {
			continue
		}
		out = append(out, descriptorRecord(key, d))
	}
	if out == nil {
		out = []any{}
	}
	return out
}

// parseType validates a --type value. Empty means no filter.
func parseType(s string) (descriptor.Type, error) {
	if s == "" {
		return "", nil
	}
	for _, t := range descriptor.Types {
		if string(t) == s {
			return t, nil
		}
	}
	names := make([]string, len(descriptor.Types))
	for i, t := range descriptor.Types {
		names[i] = string(t)
	}
	return "", issue.New("filter descriptors").
		Resource(s).
		Suggest(fmt.Sprintf("use one of: %v", names)).
		Wrap(fmt.Errorf("unknown tree type %q", s)).Err()
}
