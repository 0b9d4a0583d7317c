package assembler

import (
	"errors"
	"fmt"
	"path"

	"github.com/agentic-research/assembler/internal/cache"
	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/loadpath"
	"github.com/agentic-research/assembler/internal/project"
	"github.com/agentic-research/assembler/internal/tree"
)

// ErrReservedStyleName is returned when the app ships a stylesheet named like
// the compiled output.
var ErrReservedStyleName = errors.New("stylesheet name is reserved for the compiled output")

// packagerFiles are the bundle wrappers rendered from the embedded templates.
var packagerFiles = []string{
	"environment.js",
	"vendor-prefix.js",
	"vendor-suffix.js",
	"app-prefix.js",
	"app-suffix.js",
	"app-boot.js",
	"test-support-prefix.js",
	"test-support-suffix.js",
}

// Index places the app's index page under <name>/ with the config
// placeholders filled in.
func (a *Assembler) Index() error {
	out := a.settings.OutputPaths.AppHTML
	index := tree.Funnel(a.trees.App, tree.FunnelOptions{
		Files:              []string{"index.html"},
		GetDestinationPath: func(string) string { return out },
		Description:        "Funnel (index)",
	})
	index, err := a.ConfigReplace(index, a.env, []string{out})
	if err != nil {
		return err
	}
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Index, tree.MoveTo(index, a.name)))
	return nil
}

// TestIndex places the tests' index page, configured for the test
// environment, under the test path.
func (a *Assembler) TestIndex() error {
	if !a.settings.Tests {
		return nil
	}
	index := tree.Funnel(a.trees.Tests, tree.FunnelOptions{
		Files:       []string{"index.html"},
		Description: "Funnel (test index)",
	})
	index, err := a.ConfigReplace(index, "test", []string{"index.html"})
	if err != nil {
		return err
	}
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Index, tree.MoveTo(index, a.testPath)))
	return nil
}

// TestFiles adds the test runner hook next to the tests.
func (a *Assembler) TestFiles() error {
	if !a.settings.Tests {
		return nil
	}
	testem := tree.Funnel(a.templates, tree.FunnelOptions{
		Files:       []string{"testem.js"},
		DestDir:     a.testPath,
		Description: "Funnel (testem)",
	})
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Tests, testem))
	return nil
}

// implementsTreeType reports whether the addon directory backing typ has
// anything besides a .gitkeep.
func (a *Assembler) implementsTreeType(addon project.Addon, tp project.TreeProvider, typ string) bool {
	rel, ok := tp.TreePath(typ)
	if !ok {
		return false
	}
	entries, err := a.fs.ReadDir(path.Join(addon.Root(), rel))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() != ".gitkeep" {
			return true
		}
	}
	return false
}

// AddonTreesFor collects every addon's tree of typ. Addons that actually
// implement typ also get a descriptor slot for it.
func (a *Assembler) AddonTreesFor(typ string) []tree.Tree {
	var trees []tree.Tree
	for _, addon := range a.project.Addons() {
		tp, ok := addon.(project.TreeProvider)
		if !ok {
			continue
		}
		t := tp.TreeFor(typ)
		if t == nil {
			continue
		}
		if a.implementsTreeType(addon, tp, typ) {
			a.CreateAddonDescriptor(addon, descriptor.Type(typ), t)
		}
		trees = append(trees, t)
	}
	return trees
}

// CreateAddonDescriptor stores t as the typ slot of the addon's descriptor.
func (a *Assembler) CreateAddonDescriptor(addon project.Addon, typ descriptor.Type, t tree.Tree) *descriptor.Descriptor {
	pkg := addon.Pkg()
	var pkgName string
	if pkg != nil {
		pkgName = pkg.Name
	}
	return a.cache.Set(addon.Name(), descriptor.New(descriptor.Options{
		Name:            addon.Name(),
		TreeType:        typ,
		Tree:            t,
		PackageName:     pkgName,
		Pkg:             pkg,
		Root:            addon.Root(),
		NodeModulesPath: addon.NodeModulesPath(),
	}))
}

func (a *Assembler) AddonPreprocessTree(typ string, t tree.Tree) tree.Tree {
	for _, addon := range a.project.Addons() {
		if p, ok := addon.(project.TreePreprocessor); ok {
			t = p.PreprocessTree(typ, t)
		}
	}
	return t
}

func (a *Assembler) AddonPostprocessTree(typ string, t tree.Tree) tree.Tree {
	for _, addon := range a.project.Addons() {
		if p, ok := addon.(project.TreePostprocessor); ok {
			t = p.PostprocessTree(typ, t)
		}
	}
	return t
}

// AddonLintTree merges the output of every linter run over t: the
// configured linters first, then the addons'.
func (a *Assembler) AddonLintTree(typ string, t tree.Tree) tree.Tree {
	var out []tree.Tree
	for _, l := range a.linters {
		out = append(out, l.LintTree(typ, t))
	}
	for _, addon := range a.project.Addons() {
		if l, ok := addon.(project.Linter); ok {
			out = append(out, l.LintTree(typ, t))
		}
	}
	if len(out) == 0 {
		return tree.Empty()
	}
	return tree.Merge(out, tree.MergeOptions{Overwrite: true, Description: "TreeMerger (lint " + typ + ")"})
}

// podTemplates matches templates that live next to their component.
func (a *Assembler) podTemplates() []tree.Matcher {
	var ms []tree.Matcher
	for _, ext := range a.registry.ExtensionsForType("template") {
		ms = append(ms, tree.Glob("**/template."+ext))
	}
	return ms
}

// appExclusions are the paths of an app tree that other stages own.
func (a *Assembler) appExclusions() []tree.Matcher {
	return append(a.podTemplates(), tree.Glob("styles/**"), tree.Glob("templates/**"))
}

// hostApp is the application's own app tree minus what other stages own.
func (a *Assembler) hostApp() tree.Tree {
	return tree.Remove(a.trees.App, append(a.appExclusions(), tree.Exact("index.html"))...)
}

// filterAppTrees strips the excluded paths from every addon app slot. It
// runs once; the unfiltered trees are kept for pod templates.
func (a *Assembler) filterAppTrees() ([]tree.Tree, error) {
	if !a.appFiltered {
		a.rawAddonApp = a.AddonTreesFor("app")
		a.appFiltered = true

		descs, err := a.cache.DescriptorsByType(descriptor.App)
		if err != nil {
			return nil, err
		}
		exclude := a.appExclusions()
		for _, d := range descs {
			if d.Name == a.name {
				continue
			}
			filtered := tree.Remove(d.Tree(descriptor.App), exclude...)
			if _, err := a.cache.Upsert(d.Name, cache.Replace{Type: descriptor.App, Tree: filtered}); err != nil {
				return nil, err
			}
		}
	}

	descs, err := a.cache.DescriptorsByType(descriptor.App)
	if err != nil {
		return nil, err
	}
	var trees []tree.Tree
	for _, d := range descs {
		if d.Name != a.name {
			trees = append(trees, d.Tree(descriptor.App))
		}
	}
	return trees, nil
}

// mergedApp is every addon's app tree overlaid by the application's, under
// <name>/.
func (a *Assembler) mergedApp() (tree.Tree, error) {
	addons, err := a.filterAppTrees()
	if err != nil {
		return nil, err
	}
	merged := tree.Merge(append(addons, a.hostApp()), tree.MergeOptions{
		Overwrite:   true,
		Description: "TreeMerger (app)",
	})
	return tree.MoveTo(merged, a.name), nil
}

// processedTemplates gathers standard templates under <name>/templates and
// pod templates where their component lives.
func (a *Assembler) processedTemplates() tree.Tree {
	standard := a.AddonTreesFor("templates")
	if a.trees.Templates != nil {
		standard = append(standard, a.trees.Templates)
	}
	templates := tree.MoveTo(tree.Merge(standard, tree.MergeOptions{
		Overwrite:   true,
		Description: "TreeMerger (templates)",
	}), path.Join(a.name, "templates"))

	podSources := append(append([]tree.Tree(nil), a.rawAddonApp...), a.trees.App)
	pods := tree.Funnel(tree.Merge(podSources, tree.MergeOptions{
		Overwrite:   true,
		Description: "TreeMerger (pod templates)",
	}), tree.FunnelOptions{
		Include:     a.podTemplates(),
		Exclude:     []tree.Matcher{tree.Glob("templates/**")},
		DestDir:     a.name,
		Description: "Funnel (pod templates)",
	})

	t := tree.Merge([]tree.Tree{templates, pods}, tree.MergeOptions{
		Overwrite:   true,
		Description: "TreeMerger (templates + pods)",
	})
	t = a.AddonPreprocessTree("template", t)
	return a.registry.PreprocessTemplates(t)
}

// AppJavascript builds the application's module tree: addon app trees under
// the app's own, preprocessed, plus the compiled templates.
func (a *Assembler) AppJavascript() error {
	app, err := a.mergedApp()
	if err != nil {
		return err
	}
	if a.settings.ES3Safe {
		app = a.es3Safe(app)
	}
	app = a.AddonPreprocessTree("js", app)
	app = a.registry.PreprocessJs(app, "/", a.name)
	app = a.AddonPostprocessTree("js", app)

	t := tree.Merge([]tree.Tree{app, a.processedTemplates()}, tree.MergeOptions{
		Description: "TreeMerger (appAndTemplates)",
	})
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.App, t))
	return nil
}

// AppTests builds the test tree: addon test-support, the tests, and lint
// results when hinting is on.
func (a *Assembler) AppTests() error {
	if !a.settings.Tests {
		return nil
	}

	var trees []tree.Tree
	if support := a.AddonTreesFor("test-support"); len(support) > 0 {
		trees = append(trees, tree.MoveTo(tree.Merge(support, tree.MergeOptions{
			Overwrite:   true,
			Description: "TreeMerger (testSupport)",
		}), "test-support"))
	}
	// The test index is emitted configured by TestIndex.
	trees = append(trees, tree.Remove(a.trees.Tests, tree.Exact("index.html")))
	if a.settings.Hinting {
		trees = append(trees,
			tree.MoveTo(a.AddonLintTree("app", a.hostApp()), "lint/app"),
			tree.MoveTo(a.AddonLintTree("tests", a.trees.Tests), "lint/tests"))
	}

	t := tree.Merge(trees, tree.MergeOptions{Overwrite: true, Description: "TreeMerger (appTestTrees)"})
	t = a.AddonPreprocessTree("test", t)
	t = tree.MoveTo(t, a.testPath)
	t = a.registry.PreprocessJs(t, "/tests", a.testPath)
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Tests, t))
	return nil
}

// PackagerFiles renders the bundle wrappers under __packager__/ and splits
// the config module off into its own "environment" entry.
func (a *Assembler) PackagerFiles() error {
	rendered, err := a.ConfigReplace(a.templates, a.env, packagerFiles)
	if err != nil {
		return err
	}
	bundle := tree.Funnel(rendered, tree.FunnelOptions{
		Files:       packagerFiles,
		DestDir:     PackagerName,
		Description: "Funnel (packager)",
	})

	envFile := tree.Exact(PackagerName + "/environment.js")
	envPath := path.Join(a.name, "config", "environment.js")
	env := tree.Rename(tree.Find(bundle, envFile), func(string) string { return envPath })
	a.cache.Set("environment", a.descriptorFor("environment", descriptor.Environment, env))
	a.cache.Set(PackagerName, a.descriptorFor(PackagerName, descriptor.Packager, tree.Remove(bundle, envFile)))
	return nil
}

// Vendor moves every vendor tree, the app's and the addons', under vendor/.
func (a *Assembler) Vendor() error {
	a.AddonTreesFor("vendor")
	descs, err := a.cache.DescriptorsByType(descriptor.Vendor)
	if err != nil {
		return err
	}
	for _, d := range descs {
		if d.Name == a.name {
			continue
		}
		moved := tree.MoveTo(d.Tree(descriptor.Vendor), "vendor")
		if _, err := a.cache.Upsert(d.Name, cache.Replace{Type: descriptor.Vendor, Tree: moved}); err != nil {
			return err
		}
	}
	if a.trees.Vendor != nil {
		a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Vendor, tree.MoveTo(a.trees.Vendor, "vendor")))
	}
	return nil
}

// Javascript runs every script stage, then folds the config module into the
// app tree and transpiles the app, tests and addon trees.
func (a *Assembler) Javascript() error {
	if !a.populated {
		for _, stage := range []func() error{a.PackagerFiles, a.AppJavascript, a.AppTests, a.Vendor} {
			if err := stage(); err != nil {
				return err
			}
		}
		a.AddonTreesFor("addon")
		a.AddonTreesFor("dist")
		a.populated = true
	}

	app, ok := a.cache.Get(a.name)
	if !ok || !app.Has(descriptor.App) {
		return fmt.Errorf("no app tree for %s", a.name)
	}
	appTree := app.Tree(descriptor.App)
	if env, ok := a.cache.Get("environment"); ok {
		appTree = tree.Merge([]tree.Tree{appTree, env.Tree(descriptor.Environment)}, tree.MergeOptions{
			Overwrite:   true,
			Description: "TreeMerger (app + environment)",
		})
		a.cache.Remove("environment")
	}
	if _, err := a.cache.Upsert(a.name, cache.Replace{Type: descriptor.App, Tree: a.transpile(appTree, a.name)}); err != nil {
		return err
	}
	if app.Has(descriptor.Tests) {
		tests := a.transpile(app.Tree(descriptor.Tests), a.testPath)
		if _, err := a.cache.Upsert(a.name, cache.Replace{Type: descriptor.Tests, Tree: tests}); err != nil {
			return err
		}
	}

	addons, err := a.cache.DescriptorsByType(descriptor.Addon)
	if err != nil {
		return err
	}
	for _, d := range addons {
		t := a.transpile(loadpath.Tree(d.Tree(descriptor.Addon), d.Name), d.Name)
		if _, err := a.cache.Upsert(d.Name, cache.Replace{Type: descriptor.Addon, Tree: t}); err != nil {
			return err
		}
	}
	return nil
}

// PublicTree overlays the app's public files on the addons'.
func (a *Assembler) PublicTree() error {
	trees := a.AddonTreesFor("public")
	if a.trees.Public != nil {
		trees = append(trees, a.trees.Public)
	}
	merged := tree.Merge(trees, tree.MergeOptions{Overwrite: true, Description: "TreeMerger (public)"})
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Public, tree.MoveTo(merged, a.name)))
	return nil
}

// Styles overlays the app's styles on the addons', preprocesses them and
// places them under <name>/styles.
func (a *Assembler) Styles() error {
	reserved := path.Join(a.stylesDir, a.name+".css")
	if a.exists(reserved) {
		return fmt.Errorf("%w: rename %s", ErrReservedStyleName, reserved)
	}

	trees := append(a.AddonTreesFor("styles"), a.trees.Styles)
	t := tree.Merge(trees, tree.MergeOptions{Overwrite: true, Description: "TreeMerger (stylesAndAddons)"})
	t = a.AddonPreprocessTree("css", t)
	t = a.registry.PreprocessCss(t, "/app/styles", a.name)
	t = tree.MoveTo(t, path.Join(a.name, "styles"))
	if a.settings.MinifyCSS {
		t = a.registry.PreprocessMinifyCss(t)
	}
	t = a.AddonPostprocessTree("css", t)
	a.cache.Set(a.name, a.descriptorFor(a.name, descriptor.Styles, t))
	return nil
}
