package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assembler/internal/project"
)

const sampleBuildFile = `
name    = "dummy"
hinting = false

trees {
  app    = "src"
  vendor = "third-party"
}

output_paths {
  app_html = "main.html"
}

minify_js {
  enabled = true
}

sourcemaps {
  extensions = ["js", "css"]
}

import "vendor/moment.js" {}

import "jquery" {
  environments = {
    development = "vendor/jquery/jquery.js"
    production  = "vendor/jquery/jquery.min.js"
  }
  prepend = true
  exports = {
    jquery = ["default"]
  }
}

import "vendor/qunit.css" {
  type = "test"
}
`

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadBuildFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), BuildFileName)
	require.NoError(t, os.WriteFile(path, []byte(sampleBuildFile), 0o644))

	bf, err := LoadBuildFile(path)
	require.NoError(t, err)

	require.NotNil(t, bf.Name)
	assert.Equal(t, "dummy", *bf.Name)
	require.NotNil(t, bf.Hinting)
	assert.False(t, *bf.Hinting)
	assert.Nil(t, bf.Tests)
	require.NotNil(t, bf.Trees)
	assert.Equal(t, "src", *bf.Trees.App)
	assert.Nil(t, bf.Trees.Public)
	require.Len(t, bf.Imports, 3)
	assert.Equal(t, "jquery", bf.Imports[1].Path)
	assert.Equal(t, map[string][]string{"jquery": {"default"}}, bf.Imports[1].Exports)
}

func TestParseBuildFile_Errors(t *testing.T) {
	_, err := ParseBuildFile([]byte(`name = `), "broken.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse build file broken.hcl")

	_, err = ParseBuildFile([]byte(`unknown_option = true`), "unknown.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode build file unknown.hcl")
}

func TestResolve_Defaults(t *testing.T) {
	unsetEnv(t, "EMBER_ENV", "EMBER_CLI_TEST_COMMAND")

	s, err := Resolve(NewViper(), nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultEnvironment, s.Environment)
	assert.True(t, s.Tests)
	assert.True(t, s.Hinting)
	assert.True(t, s.ES3Safe)
	assert.True(t, s.StoreConfigInMeta)
	assert.True(t, s.AutoRun)
	assert.False(t, s.MinifyCSS)
	assert.False(t, s.MinifyJS)
	assert.True(t, s.Sourcemaps)
	assert.Equal(t, []string{"js"}, s.SourcemapExtensions)
	assert.Equal(t, Trees{App: "app", Tests: "tests", Styles: "app/styles", Templates: "app/templates", Vendor: "vendor", Public: "public"}, s.Trees)
	assert.Equal(t, "index.html", s.OutputPaths.AppHTML)
	assert.Empty(t, s.OutputPaths.AppJS)
	assert.Empty(t, s.Imports)
}

func TestResolve_ProductionDefaults(t *testing.T) {
	unsetEnv(t, "EMBER_CLI_TEST_COMMAND")
	t.Setenv("EMBER_ENV", "production")

	s, err := Resolve(NewViper(), nil)
	require.NoError(t, err)
	assert.Equal(t, "production", s.Environment)
	assert.False(t, s.Tests)
	assert.False(t, s.Hinting)
	assert.True(t, s.MinifyCSS)
	assert.True(t, s.MinifyJS)
	assert.False(t, s.Sourcemaps)
}

func TestResolve_TestCommandEnablesTestsInProduction(t *testing.T) {
	t.Setenv("EMBER_ENV", "production")
	t.Setenv("EMBER_CLI_TEST_COMMAND", "true")

	s, err := Resolve(NewViper(), nil)
	require.NoError(t, err)
	assert.True(t, s.TestCommand)
	assert.True(t, s.Tests)
	assert.True(t, s.Hinting)
}

func TestResolve_Layering(t *testing.T) {
	unsetEnv(t, "EMBER_CLI_TEST_COMMAND")
	t.Setenv("EMBER_ENV", "production")

	bf, err := ParseBuildFile([]byte(sampleBuildFile), BuildFileName)
	require.NoError(t, err)

	v := NewViper()
	flags := pflag.NewFlagSet("build", pflag.ContinueOnError)
	flags.String("environment", "", "")
	flags.Bool("tests", false, "")
	require.NoError(t, flags.Parse([]string{"--environment=staging"}))
	require.NoError(t, BindFlags(v, flags))

	s, err := Resolve(v, bf)
	require.NoError(t, err)

	// flag > env > file > defaults
	assert.Equal(t, "staging", s.Environment)
	assert.Equal(t, "dummy", s.Name)
	assert.True(t, s.Tests, "unchanged flags do not count as set")
	assert.False(t, s.Hinting)
	assert.True(t, s.MinifyJS)
	assert.False(t, s.MinifyCSS)
	assert.Equal(t, []string{"js", "css"}, s.SourcemapExtensions)
	assert.Equal(t, "src", s.Trees.App)
	assert.Equal(t, "third-party", s.Trees.Vendor)
	assert.Equal(t, "public", s.Trees.Public)
	assert.Equal(t, "main.html", s.OutputPaths.AppHTML)

	require.Len(t, s.Imports, 3)
	assert.Equal(t, project.Import{
		Asset:   project.Asset{Path: "vendor/moment.js"},
		Options: project.ImportOptions{Type: "vendor"},
	}, s.Imports[0])
	assert.Equal(t, project.Import{
		Asset: project.Asset{ByEnv: map[string]string{
			"development": "vendor/jquery/jquery.js",
			"production":  "vendor/jquery/jquery.min.js",
		}},
		Options: project.ImportOptions{Type: "vendor", Prepend: true, Exports: map[string][]string{"jquery": {"default"}}},
	}, s.Imports[1])
	assert.Equal(t, "test", s.Imports[2].Options.Type)
}

const sampleEnvironment = `{
  "modulePrefix": "dummy",
  "locationType": "hash",
  "EmberENV": {"FEATURES": {"query-params": false}},
  "APP": {"rootElement": "#app", "LOG_RESOLVER": false},
  "environments": {
    "development": {"APP": {"LOG_RESOLVER": true}},
    "test": {"locationType": "none", "APP": {"rootElement": "#ember-testing"}, "baseURL": null}
  }
}`

func TestParseEnvironment_DeepMerge(t *testing.T) {
	env, err := ParseEnvironment([]byte(sampleEnvironment), "development")
	require.NoError(t, err)

	assert.Equal(t, "development", env.Name())
	assert.Equal(t, "dummy", env.ModulePrefix())
	assert.Equal(t, "hash", env.LocationType())
	assert.Equal(t, "/", env.BaseURL())
	assert.Equal(t, map[string]any{"rootElement": "#app", "LOG_RESOLVER": true}, env.APP())
	assert.Equal(t, map[string]any{"FEATURES": map[string]any{"query-params": false}}, env.EmberENV())
	assert.NotContains(t, env.Values(), "environments")

	assert.Equal(t,
		`{"APP":{"LOG_RESOLVER":true,"rootElement":"#app"},"EmberENV":{"FEATURES":{"query-params":false}},"baseURL":"/","environment":"development","locationType":"hash","modulePrefix":"dummy"}`,
		env.JSON())
}

func TestParseEnvironment_TestOverrides(t *testing.T) {
	env, err := ParseEnvironment([]byte(sampleEnvironment), "test")
	require.NoError(t, err)

	assert.Equal(t, "none", env.LocationType())
	assert.Empty(t, env.BaseURL())
	assert.Equal(t, map[string]any{"rootElement": "#ember-testing", "LOG_RESOLVER": false}, env.APP())

	got, err := env.Get("$.APP.rootElement")
	require.NoError(t, err)
	assert.Equal(t, []any{"#ember-testing"}, got)
}

func TestParseEnvironment_Errors(t *testing.T) {
	_, err := ParseEnvironment([]byte(`[1, 2]`), "development")
	assert.ErrorContains(t, err, "want object")

	_, err = ParseEnvironment([]byte(`{`), "development")
	assert.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	fs := memfs.New()
	_, err := LoadEnvironment(fs, EnvironmentFile, "development")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	require.NoError(t, util.WriteFile(fs, EnvironmentFile, []byte(sampleEnvironment), 0o644))
	env, err := LoadEnvironment(fs, EnvironmentFile, "production")
	require.NoError(t, err)
	assert.Equal(t, "production", env.Name())
	assert.Equal(t, map[string]any{"rootElement": "#app", "LOG_RESOLVER": false}, env.APP())
}

func TestNewEnvironment(t *testing.T) {
	env := NewEnvironment("test")
	env.SetDefault("modulePrefix", "dummy")
	env.SetDefault("locationType", "history")

	assert.Equal(t, "dummy", env.ModulePrefix())
	assert.Equal(t, "auto", env.LocationType())
	assert.Nil(t, env.EmberENV())
	assert.Equal(t, `{"baseURL":"/","environment":"test","locationType":"auto","modulePrefix":"dummy"}`, env.JSON())
	assert.Equal(t, "null", JSON(nil))
}
