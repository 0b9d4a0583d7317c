// Package config loads the build options file, layers it with the process
// environment and CLI flags, and reads the runtime environment config.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// BuildFileName is looked up in the project root when no --config is given.
const BuildFileName = "ember-cli-build.hcl"

// BuildFile is the decoded build options file. Unset optional values are nil
// so the layering in Resolve can tell them apart from explicit false.
type BuildFile struct {
	Name              *string `hcl:"name,optional"`
	Tests             *bool   `hcl:"tests,optional"`
	Hinting           *bool   `hcl:"hinting,optional"`
	ES3Safe           *bool   `hcl:"es3_safe,optional"`
	StoreConfigInMeta *bool   `hcl:"store_config_in_meta,optional"`
	AutoRun           *bool   `hcl:"auto_run,optional"`

	Trees       *TreesBlock       `hcl:"trees,block"`
	OutputPaths *OutputPathsBlock `hcl:"output_paths,block"`
	MinifyCSS   *ToggleBlock      `hcl:"minify_css,block"`
	MinifyJS    *ToggleBlock      `hcl:"minify_js,block"`
	Sourcemaps  *SourcemapsBlock  `hcl:"sourcemaps,block"`
	Imports     []*ImportBlock    `hcl:"import,block"`
}

// TreesBlock overrides the source directories of the application.
type TreesBlock struct {
	App       *string `hcl:"app,optional"`
	Tests     *string `hcl:"tests,optional"`
	Styles    *string `hcl:"styles,optional"`
	Templates *string `hcl:"templates,optional"`
	Vendor    *string `hcl:"vendor,optional"`
	Public    *string `hcl:"public,optional"`
}

type OutputPathsBlock struct {
	AppHTML   *string `hcl:"app_html,optional"`
	AppCSS    *string `hcl:"app_css,optional"`
	AppJS     *string `hcl:"app_js,optional"`
	VendorCSS *string `hcl:"vendor_css,optional"`
	VendorJS  *string `hcl:"vendor_js,optional"`
}

type ToggleBlock struct {
	Enabled *bool `hcl:"enabled,optional"`
}

type SourcemapsBlock struct {
	Enabled    *bool    `hcl:"enabled,optional"`
	Extensions []string `hcl:"extensions,optional"`
}

// ImportBlock is one `import "<asset>" { ... }` statement. When
// environments is set the label only names the import, and the asset path is
// picked per environment.
type ImportBlock struct {
	Path         string              `hcl:"path,label"`
	Type         *string             `hcl:"type,optional"`
	Prepend      *bool               `hcl:"prepend,optional"`
	Exports      map[string][]string `hcl:"exports,optional"`
	Environments map[string]string   `hcl:"environments,optional"`
}

// LoadBuildFile parses and decodes the HCL build options file at path.
func LoadBuildFile(path string) (*BuildFile, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse build file %s: %w", path, diags)
	}
	return decode(f, path)
}

// ParseBuildFile decodes build options from src. filename is only used in
// diagnostics.
func ParseBuildFile(src []byte, filename string) (*BuildFile, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse build file %s: %w", filename, diags)
	}
	return decode(f, filename)
}

func decode(f *hcl.File, filename string) (*BuildFile, error) {
	var bf BuildFile
	if diags := gohcl.DecodeBody(f.Body, nil, &bf); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode build file %s: %w", filename, diags)
	}
	return &bf, nil
}

// settingsMap flattens the explicitly set values into the nested map layout
// viper expects from MergeConfigMap.
func (bf *BuildFile) settingsMap() map[string]any {
	m := map[string]any{}
	if bf == nil {
		return m
	}
	putStr(m, KeyName, bf.Name)
	putBool(m, KeyTests, bf.Tests)
	putBool(m, KeyHinting, bf.Hinting)
	putBool(m, KeyES3Safe, bf.ES3Safe)
	putBool(m, KeyStoreConfigInMeta, bf.StoreConfigInMeta)
	putBool(m, KeyAutoRun, bf.AutoRun)

	if t := bf.Trees; t != nil {
		trees := map[string]any{}
		putStr(trees, "app", t.App)
		putStr(trees, "tests", t.Tests)
		putStr(trees, "styles", t.Styles)
		putStr(trees, "templates", t.Templates)
		putStr(trees, "vendor", t.Vendor)
		putStr(trees, "public", t.Public)
		m["trees"] = trees
	}
	if o := bf.OutputPaths; o != nil {
		paths := map[string]any{}
		putStr(paths, "app_html", o.AppHTML)
		putStr(paths, "app_css", o.AppCSS)
		putStr(paths, "app_js", o.AppJS)
		putStr(paths, "vendor_css", o.VendorCSS)
		putStr(paths, "vendor_js", o.VendorJS)
		m["output_paths"] = paths
	}
	if bf.MinifyCSS != nil && bf.MinifyCSS.Enabled != nil {
		m["minify_css"] = map[string]any{"enabled": *bf.MinifyCSS.Enabled}
	}
	if bf.MinifyJS != nil && bf.MinifyJS.Enabled != nil {
		m["minify_js"] = map[string]any{"enabled": *bf.MinifyJS.Enabled}
	}
	if s := bf.Sourcemaps; s != nil {
		sm := map[string]any{}
		putBool(sm, "enabled", s.Enabled)
		if s.Extensions != nil {
			sm["extensions"] = s.Extensions
		}
		m["sourcemaps"] = sm
	}
	return m
}

func putStr(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

func putBool(m map[string]any, key string, v *bool) {
	if v != nil {
		m[key] = *v
	}
}
