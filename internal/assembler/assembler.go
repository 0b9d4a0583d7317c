// Package assembler composes the trees of an application and its addons into
// a descriptor cache. It only describes work; the tree builder executes it.
package assembler

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/assembler/internal/cache"
	"github.com/agentic-research/assembler/internal/config"
	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/es3safe"
	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/linter"
	"github.com/agentic-research/assembler/internal/project"
	"github.com/agentic-research/assembler/internal/registry"
	"github.com/agentic-research/assembler/internal/tree"
)

// PackagerName is the synthetic namespace that holds the bundle wrappers.
const PackagerName = "__packager__"

//go:embed templates
var templateFS embed.FS

// Trees overrides the application source trees. Nil fields fall back to the
// directories named in the settings.
type Trees struct {
	App       tree.Tree
	Tests     tree.Tree
	Styles    tree.Tree
	Templates tree.Tree
	Vendor    tree.Tree
	Public    tree.Tree
}

// TranspileFunc turns the modules of one logical tree into loadable output.
type TranspileFunc func(t tree.Tree, name string) tree.Tree

type Options struct {
	Project *project.Project
	// Settings are the layered build options. Nil resolves the defaults from
	// the process environment.
	Settings   *config.Settings
	ConfigPath string
	Registry   *registry.Registry
	Logger     *log.Logger
	Trees      Trees
	// Linters run over the app and tests trees when hinting is on, before
	// any addon linter. Nil means the built-in JavaScript linter.
	Linters   []project.Linter
	Transpile TranspileFunc
	ES3Safe   func(t tree.Tree) tree.Tree
}

type Assembler struct {
	project  *project.Project
	fs       billy.Filesystem
	settings config.Settings
	name     string
	env      string
	registry *registry.Registry
	logger   *log.Logger

	trees     Trees
	stylesDir string
	testPath  string
	templates tree.Tree

	linters   []project.Linter
	transpile TranspileFunc
	es3Safe   func(t tree.Tree) tree.Tree

	cache         *cache.Cache
	configs       map[string]config.Environment
	imports       map[string][]string
	importedDirs  map[string]bool
	legacyImports []string

	rawAddonApp []tree.Tree
	appFiltered bool
	populated   bool
}

var _ project.Host = (*Assembler)(nil)

// New prepares an assembler and notifies every enabled addon that it was
// included. Imports listed in the settings are applied after the addons'.
func New(opts Options) (*Assembler, error) {
	if opts.Project == nil {
		return nil, errors.New("assembler: no project")
	}

	settings := opts.Settings
	if settings == nil {
		s, err := config.Resolve(config.NewViper(), nil)
		if err != nil {
			return nil, err
		}
		settings = s
	}

	a := &Assembler{
		project:      opts.Project,
		fs:           opts.Project.FS(),
		settings:     *settings,
		env:          settings.Environment,
		registry:     opts.Registry,
		logger:       opts.Logger,
		linters:      opts.Linters,
		transpile:    opts.Transpile,
		es3Safe:      opts.ES3Safe,
		cache:        cache.New(),
		configs:      make(map[string]config.Environment),
		imports:      make(map[string][]string),
		importedDirs: make(map[string]bool),
	}
	if opts.ConfigPath != "" {
		a.project.SetConfigPath(opts.ConfigPath)
	}

	a.name = settings.Name
	if a.name == "" {
		a.name = a.project.Name()
	}
	if a.env == "" {
		a.env = config.DefaultEnvironment
	}
	if a.registry == nil {
		a.registry = registry.Default()
	}
	if a.logger == nil {
		a.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "assembler"})
	}
	if a.transpile == nil {
		a.transpile = passthroughTranspile
	}
	if a.es3Safe == nil {
		a.es3Safe = es3safe.Tree
	}
	if a.linters == nil {
		a.linters = []project.Linter{linter.New()}
	}

	out := &a.settings.OutputPaths
	if out.AppHTML == "" {
		out.AppHTML = "index.html"
	}
	if out.AppCSS == "" {
		out.AppCSS = "/assets/" + a.name + ".css"
	}
	if out.AppJS == "" {
		out.AppJS = "/assets/" + a.name + ".js"
	}
	if out.VendorCSS == "" {
		out.VendorCSS = "/assets/vendor.css"
	}
	if out.VendorJS == "" {
		out.VendorJS = "/assets/vendor.js"
	}

	a.initTrees(opts.Trees)
	a.testPath = a.name + "/" + path.Base(a.dirOr(a.settings.Trees.Tests, "tests"))

	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	a.templates = tree.FromFS("packager templates", sub)

	if err := a.notifyAddonIncluded(); err != nil {
		return nil, err
	}
	for _, imp := range a.settings.Imports {
		if err := a.Import(imp.Asset, imp.Options); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Assembler) dirOr(dir, def string) string {
	if dir == "" {
		return def
	}
	return dir
}

// initTrees fills the source trees the caller did not provide. Templates,
// vendor and public are only used when their directory exists.
func (a *Assembler) initTrees(given Trees) {
	t := a.settings.Trees
	a.stylesDir = a.rootPath(a.dirOr(t.Styles, "app/styles"))
	a.trees = given

	if a.trees.App == nil {
		a.trees.App = tree.Source(a.rootPath(a.dirOr(t.App, "app")))
	}
	if a.trees.Tests == nil {
		a.trees.Tests = tree.Source(a.rootPath(a.dirOr(t.Tests, "tests")))
	}
	if a.trees.Styles == nil {
		a.trees.Styles = tree.Unwatched(a.stylesDir)
	}
	if dir := a.rootPath(a.dirOr(t.Templates, "app/templates")); a.trees.Templates == nil && a.exists(dir) {
		a.trees.Templates = tree.Unwatched(dir)
	}
	if dir := a.rootPath(a.dirOr(t.Vendor, "vendor")); a.trees.Vendor == nil && a.exists(dir) {
		a.trees.Vendor = tree.Unwatched(dir)
	}
	if dir := a.rootPath(a.dirOr(t.Public, "public")); a.trees.Public == nil && a.exists(dir) {
		a.trees.Public = tree.Source(dir)
	}
}

func (a *Assembler) notifyAddonIncluded() error {
	if err := a.project.InitializeAddons(); err != nil {
		return fmt.Errorf("initialize addons: %w", err)
	}

	var enabled []project.Addon
	for _, addon := range a.project.Addons() {
		if e, ok := addon.(project.Enabler); ok && !e.IsEnabled() {
			a.logger.Debug("addon disabled", "addon", addon.Name())
			continue
		}
		if inc, ok := addon.(project.Includer); ok {
			if err := inc.Included(a); err != nil {
				return fmt.Errorf("addon %s: included: %w", addon.Name(), err)
			}
		}
		enabled = append(enabled, addon)
	}
	a.project.SetAddons(enabled)
	return nil
}

func (a *Assembler) Name() string                 { return a.name }
func (a *Assembler) Env() string                  { return a.env }
func (a *Assembler) Registry() *registry.Registry { return a.registry }
func (a *Assembler) Cache() *cache.Cache          { return a.cache }
func (a *Assembler) Project() *project.Project    { return a.project }
func (a *Assembler) Addons() []project.Addon      { return a.project.Addons() }

// Settings returns the effective build options, output path defaults
// included.
func (a *Assembler) Settings() config.Settings { return a.settings }

// TestPath is where the test tree lands, "<name>/tests" by default.
func (a *Assembler) TestPath() string { return a.testPath }

// Trees returns the application source trees.
func (a *Assembler) Trees() Trees { return a.trees }

// Dependencies lists pkg's dependencies, or the project's when pkg is nil.
func (a *Assembler) Dependencies(pkg *project.Package) map[string]string {
	return a.project.Dependencies(pkg, false)
}

// EvictLegacyAddons drops preprocessors whose work the pipeline now does
// itself.
func (a *Assembler) EvictLegacyAddons() {
	a.registry.Remove("js", "ember-cli-babel")
}

// Assemble populates and returns the descriptor cache.
func (a *Assembler) Assemble() (*cache.Cache, error) {
	a.EvictLegacyAddons()
	stages := []struct {
		name string
		run  func() error
	}{
		{"index", a.Index},
		{"javascript", a.Javascript},
		{"public", a.PublicTree},
		{"styles", a.Styles},
		{"test index", a.TestIndex},
		{"test files", a.TestFiles},
	}
	for _, s := range stages {
		a.logger.Debug("assembling", "stage", s.name)
		if err := s.run(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	a.logger.Debug("assembled", "descriptors", a.cache.Len())
	return a.cache, nil
}

// ToTree is the final output tree. Addon slots that only feed the
// application's own trees (app, styles, templates, public, test-support)
// are not emitted on their own.
func (a *Assembler) ToTree() tree.Tree {
	return a.cache.ToTreeWhere(func(key string, d *descriptor.Descriptor, typ descriptor.Type) bool {
		switch typ {
		case descriptor.App, descriptor.Styles, descriptor.Templates, descriptor.Public, descriptor.TestSupport:
			return key == a.name
		}
		return true
	})
}

// descriptorFor wraps t in a descriptor that carries the project's
// provenance.
func (a *Assembler) descriptorFor(name string, typ descriptor.Type, t tree.Tree) *descriptor.Descriptor {
	return descriptor.New(descriptor.Options{
		Name:            name,
		TreeType:        typ,
		Tree:            t,
		PackageName:     a.project.Pkg().Name,
		Pkg:             a.project.Pkg(),
		Root:            a.project.Root(),
		NodeModulesPath: a.project.NodeModulesPath(),
	})
}

func (a *Assembler) rootPath(rel string) string {
	return path.Join(a.project.Root(), rel)
}

func (a *Assembler) exists(p string) bool {
	_, err := a.fs.Stat(p)
	return err == nil
}

func passthroughTranspile(t tree.Tree, name string) tree.Tree {
	return tree.Transform(t, "Transpiler ("+name+")", func(in *graph.MemoryStore) (*graph.MemoryStore, error) {
		return in, nil
	})
}
