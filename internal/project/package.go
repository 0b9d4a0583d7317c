package project

import (
	"fmt"
	"sort"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// AddonKeyword marks a package as an addon.
const AddonKeyword = "ember-addon"

var (
	namePath       = jp.C("name")
	versionPath    = jp.C("version")
	keywordsPath   = jp.C("keywords")
	depsPath       = jp.C("dependencies")
	devDepsPath    = jp.C("devDependencies")
	addonPath      = jp.C(AddonKeyword)
	mainPath       = jp.C("main")
	beforePath     = jp.C("before")
	afterPath      = jp.C("after")
	contentForPath = jp.C("content-for")
	importsPath    = jp.C("imports")
	enabledPath    = jp.C("enabled")
)

// Package is the subset of package.json the assembler reads.
type Package struct {
	Name            string
	Version         string
	Keywords        []string
	Dependencies    map[string]string
	DevDependencies map[string]string
	Addon           *AddonSection

	raw any
}

// AddonSection is the "ember-addon" object of an addon's package.json.
type AddonSection struct {
	Main       string
	Before     []string
	After      []string
	ContentFor map[string]string
	Imports    []Import
	// Enabled is nil when the package does not say.
	Enabled *bool
}

// Import is one entry of "ember-addon".imports. It is either a plain path or
// an object with per-environment paths and import options.
type Import struct {
	Asset   Asset
	Options ImportOptions
}

// ParsePackage decodes package.json content.
func ParsePackage(data []byte) (*Package, error) {
	raw, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("parse package.json: top level is %T, want object", raw)
	}

	pkg := &Package{
		Name:            str(namePath.First(raw)),
		Version:         str(versionPath.First(raw)),
		Keywords:        strs(keywordsPath.First(raw)),
		Dependencies:    strMap(depsPath.First(raw)),
		DevDependencies: strMap(devDepsPath.First(raw)),
		raw:             raw,
	}

	if section, ok := addonPath.First(raw).(map[string]any); ok {
		addon := &AddonSection{
			Main:       str(mainPath.First(section)),
			Before:     strs(beforePath.First(section)),
			After:      strs(afterPath.First(section)),
			ContentFor: strMap(contentForPath.First(section)),
		}
		if b, ok := enabledPath.First(section).(bool); ok {
			addon.Enabled = &b
		}
		imports, err := parseImports(importsPath.First(section))
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", pkg.Name, err)
		}
		addon.Imports = imports
		pkg.Addon = addon
	}
	return pkg, nil
}

// ReadPackage reads and decodes the package.json at p.
func ReadPackage(fsys billy.Filesystem, p string) (*Package, error) {
	data, err := util.ReadFile(fsys, p)
	if err != nil {
		return nil, err
	}
	pkg, err := ParsePackage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return pkg, nil
}

// IsAddon reports whether the package carries the addon keyword.
func (p *Package) IsAddon() bool {
	for _, k := range p.Keywords {
		if k == AddonKeyword {
			return true
		}
	}
	return false
}

// Get evaluates a JSONPath expression against the raw package.json.
func (p *Package) Get(expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return x.Get(p.raw), nil
}

func parseImports(v any) ([]Import, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]Import, 0, len(list))
	for i, item := range list {
		switch it := item.(type) {
		case string:
			out = append(out, Import{Asset: Asset{Path: it}})
		case map[string]any:
			imp := Import{}
			if p, ok := it["path"].(string); ok {
				imp.Asset.Path = p
			} else {
				imp.Asset.ByEnv = map[string]string{}
				for k, val := range it {
					if s, ok := val.(string); ok && k != "type" {
						imp.Asset.ByEnv[k] = s
					}
				}
			}
			imp.Options.Type = str(it["type"])
			imp.Options.Prepend, _ = it["prepend"].(bool)
			if exports, ok := it["exports"].(map[string]any); ok {
				imp.Options.Exports = make(map[string][]string, len(exports))
				for name, members := range exports {
					imp.Options.Exports[name] = strs(members)
				}
			}
			out = append(out, imp)
		default:
			return nil, fmt.Errorf("imports[%d]: unsupported %T", i, item)
		}
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
