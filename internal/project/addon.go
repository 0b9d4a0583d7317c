package project

import (
	"path"
	"sort"

	"github.com/agentic-research/assembler/internal/registry"
	"github.com/agentic-research/assembler/internal/tree"
)

// Asset names a file to import, either directly or per environment.
type Asset struct {
	Path string
	// ByEnv maps an environment name to a path. It is consulted when Path is
	// empty; a missing environment falls back to "development".
	ByEnv map[string]string
}

// ImportOptions controls how an imported asset is bundled.
type ImportOptions struct {
	Type    string // "vendor" (default) or "test"
	Prepend bool
	Exports map[string][]string
}

// Host is the application an addon is included into.
type Host interface {
	Name() string
	Env() string
	Import(asset Asset, opts ImportOptions) error
	Registry() *registry.Registry
}

// Addon is the identity every addon has. Behavior comes from the optional
// capability interfaces below.
type Addon interface {
	Name() string
	Root() string
	Pkg() *Package
	NodeModulesPath() string
}

// TreeProvider contributes trees by type. TreePath reports the directory,
// relative to Root, that backs typ.
type TreeProvider interface {
	TreeFor(typ string) tree.Tree
	TreePath(typ string) (string, bool)
}

type Includer interface {
	Included(host Host) error
}

type ContentProvider interface {
	ContentFor(typ string, config map[string]any) string
}

type TreePostprocessor interface {
	PostprocessTree(typ string, t tree.Tree) tree.Tree
}

type TreePreprocessor interface {
	PreprocessTree(typ string, t tree.Tree) tree.Tree
}

type Linter interface {
	LintTree(typ string, t tree.Tree) tree.Tree
}

type Enabler interface {
	IsEnabled() bool
}

// DefaultTreePaths maps tree types to addon directories.
var DefaultTreePaths = map[string]string{
	"app":          "app",
	"styles":       "app/styles",
	"templates":    "app/templates",
	"addon":        "addon",
	"vendor":       "vendor",
	"test-support": "test-support",
	"public":       "public",
	"dist":         "dist",
}

// DirAddon is an addon read from its package directory.
type DirAddon struct {
	pkg             *Package
	root            string
	nodeModulesPath string
	treePaths       map[string]string
}

var (
	_ TreeProvider    = (*DirAddon)(nil)
	_ Includer        = (*DirAddon)(nil)
	_ ContentProvider = (*DirAddon)(nil)
	_ Enabler         = (*DirAddon)(nil)
)

func NewDirAddon(pkg *Package, root, nodeModulesPath string) *DirAddon {
	paths := make(map[string]string, len(DefaultTreePaths))
	for k, v := range DefaultTreePaths {
		paths[k] = v
	}
	return &DirAddon{pkg: pkg, root: root, nodeModulesPath: nodeModulesPath, treePaths: paths}
}

func (a *DirAddon) Name() string            { return a.pkg.Name }
func (a *DirAddon) Root() string            { return a.root }
func (a *DirAddon) Pkg() *Package           { return a.pkg }
func (a *DirAddon) NodeModulesPath() string { return a.nodeModulesPath }

func (a *DirAddon) TreePath(typ string) (string, bool) {
	p, ok := a.treePaths[typ]
	return p, ok
}

// TreeFor returns the tree backing typ, or nil. Addon modules are namespaced
// under the addon name; vendor files are unwatched.
func (a *DirAddon) TreeFor(typ string) tree.Tree {
	p, ok := a.treePaths[typ]
	if !ok {
		return nil
	}
	dir := path.Join(a.root, p)
	switch typ {
	case "addon":
		return tree.MoveTo(tree.Source(dir), a.Name())
	case "vendor":
		return tree.Unwatched(dir)
	}
	return tree.Source(dir)
}

// Included imports the assets listed in the package.
func (a *DirAddon) Included(host Host) error {
	if a.pkg.Addon == nil {
		return nil
	}
	for _, imp := range a.pkg.Addon.Imports {
		if err := host.Import(imp.Asset, imp.Options); err != nil {
			return err
		}
	}
	return nil
}

func (a *DirAddon) ContentFor(typ string, _ map[string]any) string {
	if a.pkg.Addon == nil {
		return ""
	}
	return a.pkg.Addon.ContentFor[typ]
}

func (a *DirAddon) IsEnabled() bool {
	if a.pkg.Addon == nil || a.pkg.Addon.Enabled == nil {
		return true
	}
	return *a.pkg.Addon.Enabled
}

// ContentTypes lists the content-for hooks the addon answers.
func (a *DirAddon) ContentTypes() []string {
	if a.pkg.Addon == nil {
		return nil
	}
	return sortedKeys(a.pkg.Addon.ContentFor)
}

func sortedAddonNames(addons map[string]Addon) []string {
	names := make([]string, 0, len(addons))
	for n := range addons {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
