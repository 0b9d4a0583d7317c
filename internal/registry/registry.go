// Package registry holds preprocessor plugins keyed by the file type they
// handle ("js", "css", "template", "minify-css").
package registry

import (
	"path"
	"strings"

	"github.com/agentic-research/assembler/internal/tree"
)

// Plugin turns an input tree into a processed tree. inputPath and outputPath
// describe where the stage reads from and writes to.
type Plugin interface {
	Name() string
	Ext() []string
	ToTree(in tree.Tree, inputPath, outputPath string) tree.Tree
}

type Registry struct {
	plugins map[string][]Plugin
}

func New() *Registry {
	return &Registry{plugins: make(map[string][]Plugin)}
}

// Default returns a registry with pass-through js, css and template plugins.
func Default() *Registry {
	r := New()
	r.Add("js", Passthrough("javascript", "js"))
	r.Add("css", Passthrough("css", "css"))
	r.Add("template", Passthrough("templates", "hbs", "handlebars"))
	return r
}

// Add appends p to typ's plugin chain.
func (r *Registry) Add(typ string, p Plugin) {
	r.plugins[typ] = append(r.plugins[typ], p)
}

// Load returns typ's plugins in registration order.
func (r *Registry) Load(typ string) []Plugin {
	return append([]Plugin(nil), r.plugins[typ]...)
}

// Remove drops every plugin of typ named name.
func (r *Registry) Remove(typ, name string) {
	kept := r.plugins[typ][:0]
	for _, p := range r.plugins[typ] {
		if p.Name() != name {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(r.plugins, typ)
		return
	}
	r.plugins[typ] = kept
}

// ExtensionsForType lists the extensions handled for typ. The type name itself
// always comes first.
func (r *Registry) ExtensionsForType(typ string) []string {
	exts := []string{typ}
	seen := map[string]bool{typ: true}
	for _, p := range r.plugins[typ] {
		for _, ext := range p.Ext() {
			if ext == "" || seen[ext] {
				continue
			}
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	return exts
}

// IsType reports whether file's extension belongs to typ.
func (r *Registry) IsType(file, typ string) bool {
	ext := strings.TrimPrefix(path.Ext(file), ".")
	for _, e := range r.ExtensionsForType(typ) {
		if e == ext {
			return true
		}
	}
	return false
}

func (r *Registry) run(typ string, in tree.Tree, inputPath, outputPath string) tree.Tree {
	out := in
	for _, p := range r.plugins[typ] {
		out = p.ToTree(out, inputPath, outputPath)
	}
	return out
}

// PreprocessJs runs the js chain.
func (r *Registry) PreprocessJs(in tree.Tree, inputPath, outputPath string) tree.Tree {
	return r.run("js", in, inputPath, outputPath)
}

// PreprocessCss runs the css chain.
func (r *Registry) PreprocessCss(in tree.Tree, inputPath, outputPath string) tree.Tree {
	return r.run("css", in, inputPath, outputPath)
}

// PreprocessTemplates runs the template chain.
func (r *Registry) PreprocessTemplates(in tree.Tree) tree.Tree {
	return r.run("template", in, "/", "/")
}

// PreprocessMinifyCss runs the minify-css chain.
func (r *Registry) PreprocessMinifyCss(in tree.Tree) tree.Tree {
	return r.run("minify-css", in, "/", "/")
}

type passthrough struct {
	name string
	ext  []string
}

// Passthrough returns a plugin that leaves its input untouched. It fills the
// slot of a compiler that runs outside the assembler.
func Passthrough(name string, ext ...string) Plugin {
	return &passthrough{name: name, ext: ext}
}

func (p *passthrough) Name() string  { return p.name }
func (p *passthrough) Ext() []string { return p.ext }
func (p *passthrough) ToTree(in tree.Tree, _, _ string) tree.Tree {
	return in
}

type funcPlugin struct {
	name string
	ext  []string
	fn   tree.TransformFunc
}

// Func returns a plugin that applies fn to the whole input tree.
func Func(name string, ext []string, fn tree.TransformFunc) Plugin {
	return &funcPlugin{name: name, ext: ext, fn: fn}
}

func (p *funcPlugin) Name() string  { return p.name }
func (p *funcPlugin) Ext() []string { return p.ext }
func (p *funcPlugin) ToTree(in tree.Tree, _, _ string) tree.Tree {
	return tree.Transform(in, p.name, p.fn)
}
