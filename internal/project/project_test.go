package project

import (
	"context"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assembler/internal/registry"
	"github.com/agentic-research/assembler/internal/tree"
)

func writeFiles(t *testing.T, fs billy.Filesystem, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, util.WriteFile(fs, p, []byte(content), 0o644))
	}
}

func TestParsePackage_AddonSection(t *testing.T) {
	pkg, err := ParsePackage([]byte(`{
		"name": "my-addon",
		"version": "1.2.3",
		"keywords": ["ember-addon", "ui"],
		"dependencies": {"ember-cli-babel": "^5.0.0"},
		"ember-addon": {
			"main": "index.js",
			"before": ["other-addon"],
			"after": "ember-data",
			"content-for": {"head": "<link rel=\"icon\">"},
			"enabled": false,
			"imports": [
				"vendor/my-addon/shim.js",
				{"development": "vendor/lib/lib.js", "production": "vendor/lib/lib.min.js", "type": "vendor", "prepend": true},
				{"path": "vendor/qunit/qunit.js", "type": "test", "exports": {"qunit": ["default", "module"]}}
			]
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "my-addon", pkg.Name)
	assert.Equal(t, "1.2.3", pkg.Version)
	assert.True(t, pkg.IsAddon())
	assert.Equal(t, map[string]string{"ember-cli-babel": "^5.0.0"}, pkg.Dependencies)

	require.NotNil(t, pkg.Addon)
	assert.Equal(t, "index.js", pkg.Addon.Main)
	assert.Equal(t, []string{"other-addon"}, pkg.Addon.Before)
	assert.Equal(t, []string{"ember-data"}, pkg.Addon.After)
	assert.Equal(t, `<link rel="icon">`, pkg.Addon.ContentFor["head"])
	require.NotNil(t, pkg.Addon.Enabled)
	assert.False(t, *pkg.Addon.Enabled)

	require.Len(t, pkg.Addon.Imports, 3)
	assert.Equal(t, "vendor/my-addon/shim.js", pkg.Addon.Imports[0].Asset.Path)
	assert.Equal(t, map[string]string{"development": "vendor/lib/lib.js", "production": "vendor/lib/lib.min.js"}, pkg.Addon.Imports[1].Asset.ByEnv)
	assert.True(t, pkg.Addon.Imports[1].Options.Prepend)
	assert.Equal(t, "test", pkg.Addon.Imports[2].Options.Type)
	assert.Equal(t, []string{"default", "module"}, pkg.Addon.Imports[2].Options.Exports["qunit"])
}

func TestParsePackage_Errors(t *testing.T) {
	_, err := ParsePackage([]byte(`{"name":`))
	assert.Error(t, err)

	_, err = ParsePackage([]byte(`[1, 2]`))
	assert.Error(t, err)

	_, err = ParsePackage([]byte(`{"name": "x", "keywords": ["ember-addon"], "ember-addon": {"imports": [42]}}`))
	assert.Error(t, err)
}

func TestPackage_Get(t *testing.T) {
	pkg, err := ParsePackage([]byte(`{"name": "dummy", "ember-addon": {"configPath": "tests/dummy/config"}}`))
	require.NoError(t, err)

	got, err := pkg.Get(`$['ember-addon'].configPath`)
	require.NoError(t, err)
	assert.Equal(t, []any{"tests/dummy/config"}, got)

	_, err = pkg.Get("$[")
	assert.Error(t, err)
}

func newFixtureProject(t *testing.T) *Project {
	t.Helper()
	fs := memfs.New()
	writeFiles(t, fs, map[string]string{
		"package.json":                          `{"name": "dummy", "dependencies": {"zeta-addon": "*", "alpha-addon": "*", "lodash": "*"}, "devDependencies": {"ember-data": "*", "missing": "*"}}`,
		"node_modules/zeta-addon/package.json":  `{"name": "zeta-addon", "keywords": ["ember-addon"], "ember-addon": {"before": ["alpha-addon"]}}`,
		"node_modules/alpha-addon/package.json": `{"name": "alpha-addon", "keywords": ["ember-addon"]}`,
		"node_modules/ember-data/package.json":  `{"name": "ember-data", "keywords": ["ember-addon"]}`,
		"node_modules/lodash/package.json":      `{"name": "lodash"}`,
	})
	p, err := Load(fs, "/")
	require.NoError(t, err)
	return p
}

func TestProject_Basics(t *testing.T) {
	p := newFixtureProject(t)
	assert.Equal(t, "dummy", p.Name())
	assert.Equal(t, "/node_modules", p.NodeModulesPath())
	assert.Equal(t, "/config/environment.json", p.ConfigPath())

	p.SetConfigPath("/tests/dummy/config/environment.json")
	assert.Equal(t, "/tests/dummy/config/environment.json", p.ConfigPath())
}

func TestProject_Dependencies(t *testing.T) {
	p := newFixtureProject(t)
	all := p.Dependencies(nil, false)
	assert.Len(t, all, 5)
	assert.Contains(t, all, "ember-data")

	prod := p.Dependencies(nil, true)
	assert.Len(t, prod, 3)
	assert.NotContains(t, prod, "ember-data")
}

func TestProject_InitializeAddonsOrdersByBefore(t *testing.T) {
	p := newFixtureProject(t)
	require.NoError(t, p.InitializeAddons())

	var names []string
	for _, a := range p.Addons() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"ember-data", "zeta-addon", "alpha-addon"}, names)

	// A second call keeps the list as is.
	p.SetAddons(p.Addons()[:1])
	require.NoError(t, p.InitializeAddons())
	assert.Len(t, p.Addons(), 1)
}

func TestProject_InitializeAddonsOrdersByAfter(t *testing.T) {
	fs := memfs.New()
	writeFiles(t, fs, map[string]string{
		"package.json":                    `{"name": "dummy", "dependencies": {"alpha": "*", "beta": "*", "gamma": "*"}}`,
		"node_modules/alpha/package.json": `{"name": "alpha", "keywords": ["ember-addon"], "ember-addon": {"after": ["beta", "not-installed"]}}`,
		"node_modules/beta/package.json":  `{"name": "beta", "keywords": ["ember-addon"]}`,
		"node_modules/gamma/package.json": `{"name": "gamma", "keywords": ["ember-addon"], "ember-addon": {"before": "beta"}}`,
	})
	p, err := Load(fs, "/")
	require.NoError(t, err)
	require.NoError(t, p.InitializeAddons())

	var names []string
	for _, a := range p.Addons() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"gamma", "beta", "alpha"}, names)
}

func TestProject_InitializeAddonsAfterCycle(t *testing.T) {
	fs := memfs.New()
	writeFiles(t, fs, map[string]string{
		"package.json":                `{"name": "dummy", "dependencies": {"a": "*", "b": "*"}}`,
		"node_modules/a/package.json": `{"name": "a", "keywords": ["ember-addon"], "ember-addon": {"after": ["b"]}}`,
		"node_modules/b/package.json": `{"name": "b", "keywords": ["ember-addon"], "ember-addon": {"before": ["c"], "after": ["a"]}}`,
	})
	p, err := Load(fs, "")
	require.NoError(t, err)
	assert.ErrorIs(t, p.InitializeAddons(), ErrAddonCycle)
}

func TestProject_InitializeAddonsCycle(t *testing.T) {
	fs := memfs.New()
	writeFiles(t, fs, map[string]string{
		"package.json":                `{"name": "dummy", "dependencies": {"a": "*", "b": "*"}}`,
		"node_modules/a/package.json": `{"name": "a", "keywords": ["ember-addon"], "ember-addon": {"before": ["b"]}}`,
		"node_modules/b/package.json": `{"name": "b", "keywords": ["ember-addon"], "ember-addon": {"before": ["a"]}}`,
	})
	p, err := Load(fs, "")
	require.NoError(t, err)
	assert.ErrorIs(t, p.InitializeAddons(), ErrAddonCycle)
}

func TestLoad_MissingPackage(t *testing.T) {
	_, err := Load(memfs.New(), "/")
	assert.Error(t, err)
}

type recordingHost struct {
	imports []Asset
}

func (h *recordingHost) Name() string                 { return "dummy" }
func (h *recordingHost) Env() string                  { return "development" }
func (h *recordingHost) Registry() *registry.Registry { return registry.Default() }
func (h *recordingHost) Import(a Asset, _ ImportOptions) error {
	h.imports = append(h.imports, a)
	return nil
}

func TestDirAddon_Capabilities(t *testing.T) {
	fs := memfs.New()
	writeFiles(t, fs, map[string]string{
		"node_modules/my-addon/addon/index.js":            "export default 1;",
		"node_modules/my-addon/app/components/foo-bar.js": "fromAddon",
		"node_modules/my-addon/vendor/my-addon/shim.js":   "shim",
	})
	pkg, err := ParsePackage([]byte(`{"name": "my-addon", "keywords": ["ember-addon"], "ember-addon": {"content-for": {"body": "<div></div>"}, "imports": ["vendor/my-addon/shim.js"]}}`))
	require.NoError(t, err)
	a := NewDirAddon(pkg, "node_modules/my-addon", "node_modules")

	assert.True(t, a.IsEnabled())
	assert.Equal(t, "<div></div>", a.ContentFor("body", nil))
	assert.Empty(t, a.ContentFor("head", nil))
	assert.Equal(t, []string{"body"}, a.ContentTypes())

	p, ok := a.TreePath("styles")
	assert.True(t, ok)
	assert.Equal(t, "app/styles", p)
	assert.Nil(t, a.TreeFor("unknown"))
	assert.False(t, a.TreeFor("vendor").Meta().Watched)

	out, err := tree.NewBuilder(fs).Build(context.Background(), a.TreeFor("addon"))
	require.NoError(t, err)
	assert.Equal(t, []string{"my-addon/index.js"}, out.Files())

	host := &recordingHost{}
	require.NoError(t, a.Included(host))
	assert.Equal(t, []Asset{{Path: "vendor/my-addon/shim.js"}}, host.imports)
}
