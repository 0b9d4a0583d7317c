package assembler

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/agentic-research/assembler/internal/descriptor"
	"github.com/agentic-research/assembler/internal/project"
	"github.com/agentic-research/assembler/internal/tree"
)

var (
	ErrGlobImport        = errors.New("globs are not supported by import; import each file")
	ErrMissingExtension  = errors.New("import path has no file extension")
	ErrUnknownImportType = errors.New("import type must be vendor or test")
)

// ImportError reports a rejected import.
type ImportError struct {
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %q: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Import adds a vendored asset to the build. The directory holding the asset
// becomes a legacy descriptor funneled under vendor/, once per directory.
func (a *Assembler) Import(asset project.Asset, opts project.ImportOptions) error {
	p := a.resolveAsset(asset)
	if p == "" {
		return nil
	}
	p = strings.ReplaceAll(p, "\\", "/")

	dir := path.Dir(p)
	if dir == "." {
		a.logger.Warn("importing a file from the project root; place vendored files under vendor/", "path", p)
	}
	if strings.ContainsAny(p, "*,") {
		return &ImportError{Path: p, Err: ErrGlobImport}
	}
	if path.Ext(p) == "" {
		return &ImportError{Path: p, Err: ErrMissingExtension}
	}

	typ := opts.Type
	if typ == "" {
		typ = "vendor"
	}
	if typ != "vendor" && typ != "test" {
		return &ImportError{Path: p, Err: fmt.Errorf("%w, got %q", ErrUnknownImportType, typ)}
	}

	if !a.importedDirs[dir] {
		a.importedDirs[dir] = true
		funnel := tree.MoveTo(tree.Source(a.rootPath(dir)), path.Join("vendor", importSubdir(dir)))
		a.cache.Set(dir, a.descriptorFor(dir, descriptor.Legacy, funnel))
	}

	if opts.Prepend {
		a.imports[typ] = append([]string{p}, a.imports[typ]...)
	} else {
		a.imports[typ] = append(a.imports[typ], p)
	}

	names := make([]string, 0, len(opts.Exports))
	for name := range opts.Exports {
		names = append(names, name)
	}
	sort.Strings(names)
	a.legacyImports = append(a.legacyImports, names...)
	return nil
}

// resolveAsset picks the asset path for the current environment, falling back
// to the development one.
func (a *Assembler) resolveAsset(asset project.Asset) string {
	if asset.Path != "" {
		return asset.Path
	}
	if p, ok := asset.ByEnv[a.env]; ok {
		return p
	}
	return asset.ByEnv["development"]
}

// importSubdir drops the leading vendor/ or bower_components/ segment.
func importSubdir(dir string) string {
	for _, prefix := range []string{"vendor", "bower_components"} {
		if dir == prefix {
			return ""
		}
		if strings.HasPrefix(dir, prefix+"/") {
			return strings.TrimPrefix(dir, prefix+"/")
		}
	}
	return dir
}

// Imports lists the imported files of typ ("vendor" or "test") in bundle
// order.
func (a *Assembler) Imports(typ string) []string {
	return append([]string(nil), a.imports[typ]...)
}

// LegacyImports lists the module names declared through import exports.
func (a *Assembler) LegacyImports() []string {
	return append([]string(nil), a.legacyImports...)
}
