// Package loadpath rewrites the module paths of an addon tree so legacy and
// modern addon layouts land in the same loader namespace.
//
// A legacy addon ships `<name>/index.js` next to a self-reexport
// (`<name>/<name>.js`, or `<name>/<base>.js` for a scoped `@scope/<base>`).
// Everything else is modern: modules sit directly under the namespace folder,
// and the first segment is dropped. Scoped modern addons keep their scope.
package loadpath

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/tree"
)

// Layout is the detected convention of one addon tree.
type Layout struct {
	Legacy bool
	// Nested lists the submodules `<name>/<sub>.js` that have a sibling
	// `<name>/<sub>/` directory.
	Nested []string
}

// IsScoped reports whether name is an npm scoped package name.
func IsScoped(name string) bool {
	return strings.HasPrefix(name, "@")
}

// BaseName is the package name without its scope.
func BaseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 && IsScoped(name) {
		return name[i+1:]
	}
	return name
}

// Classify inspects relative paths (files and directories, slash separated;
// directories may carry a trailing slash) and detects the layout of name.
func Classify(paths []string, name string) Layout {
	files := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			dirs[strings.TrimSuffix(p, "/")] = true
			continue
		}
		files[p] = true
		for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
			dirs[d] = true
		}
	}

	var l Layout
	hasIndex := files[name+"/index.js"]
	hasReexport := files[name+"/"+BaseName(name)+".js"] || files[name+"/"+name+".js"]
	if hasIndex && hasReexport {
		l.Legacy = true
		return l
	}

	prefix := name + "/"
	for f := range files {
		if !strings.HasPrefix(f, prefix) || path.Ext(f) != ".js" {
			continue
		}
		rest := strings.TrimPrefix(f, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		sub := strings.TrimSuffix(rest, ".js")
		if dirs[prefix+sub] {
			l.Nested = append(l.Nested, sub)
		}
	}
	sort.Strings(l.Nested)
	return l
}

// OutputPath maps one file of an addon named name to its normalized path.
func OutputPath(rel, name string, l Layout) string {
	rel = graph.Clean(rel)
	if l.Legacy {
		if IsScoped(rel) && isReexport(rel, name) {
			return name + ".js"
		}
		return rel
	}

	parts := strings.Split(rel, "/")
	if IsScoped(rel) {
		stem := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
		if len(parts) < 3 || (len(l.Nested) == 0 && stem != BaseName(name)) {
			return rel
		}
		// @scope/<namespace>/rest -> @scope/rest
		return path.Join(append([]string{parts[0]}, parts[2:]...)...)
	}
	if len(parts) < 2 {
		return rel
	}
	return path.Join(parts[1:]...)
}

func isReexport(rel, name string) bool {
	return rel == name+"/"+BaseName(name)+".js" || rel == name+"/"+name+".js"
}

// Normalize copies every file of src into dst at its normalized path. Content
// is copied byte for byte.
func Normalize(src, dst billy.Filesystem, name string) (Layout, error) {
	var paths, files []string
	err := util.Walk(src, "/", func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(strings.TrimPrefix(p, "/"))
		if rel == "" {
			return nil
		}
		if fi.IsDir() {
			paths = append(paths, rel+"/")
			return nil
		}
		paths = append(paths, rel)
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return Layout{}, fmt.Errorf("walk %s: %w", name, err)
	}

	l := Classify(paths, name)
	sort.Strings(files)
	for _, rel := range files {
		data, err := util.ReadFile(src, rel)
		if err != nil {
			return l, fmt.Errorf("read %s: %w", rel, err)
		}
		out := OutputPath(rel, name, l)
		if err := util.WriteFile(dst, out, data, 0o644); err != nil {
			return l, fmt.Errorf("write %s: %w", out, err)
		}
	}
	return l, nil
}

// Tree wraps input in a transform that normalizes name's load path.
func Tree(input tree.Tree, name string) tree.Tree {
	return tree.Transform(input, "LoadPath for "+name, func(in *graph.MemoryStore) (*graph.MemoryStore, error) {
		src := memfs.New()
		for _, p := range in.Files() {
			data, err := in.ReadFile(p)
			if err != nil {
				return nil, err
			}
			if err := util.WriteFile(src, p, data, 0o644); err != nil {
				return nil, err
			}
		}

		dst := memfs.New()
		if _, err := Normalize(src, dst, name); err != nil {
			return nil, err
		}
		return readBack(dst)
	})
}

func readBack(fsys billy.Filesystem) (*graph.MemoryStore, error) {
	out := graph.NewMemoryStore()
	err := util.Walk(fsys, "/", func(p string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		data, err := util.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		return out.PutFile(p, data, time.Time{})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
