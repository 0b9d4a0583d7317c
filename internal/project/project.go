// Package project models the application being assembled and the addons it
// depends on.
package project

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
)

// ErrAddonCycle is returned when "before" hints cannot be satisfied.
var ErrAddonCycle = errors.New("addon ordering cycle")

// Project is an application directory on a billy filesystem.
type Project struct {
	fs         billy.Filesystem
	root       string
	pkg        *Package
	configPath string

	addons      []Addon
	initialized bool
}

// Load reads root/package.json from fsys.
func Load(fsys billy.Filesystem, root string) (*Project, error) {
	pkg, err := ReadPackage(fsys, path.Join(root, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	return New(fsys, root, pkg), nil
}

func New(fsys billy.Filesystem, root string, pkg *Package) *Project {
	return &Project{
		fs:         fsys,
		root:       root,
		pkg:        pkg,
		configPath: path.Join(root, "config", "environment.json"),
	}
}

func (p *Project) Name() string  { return p.pkg.Name }
func (p *Project) Root() string  { return p.root }
func (p *Project) Pkg() *Package { return p.pkg }

// FS is the filesystem every project path resolves against.
func (p *Project) FS() billy.Filesystem { return p.fs }

func (p *Project) NodeModulesPath() string {
	return path.Join(p.root, "node_modules")
}

// ConfigPath is the runtime environment config file.
func (p *Project) ConfigPath() string { return p.configPath }

func (p *Project) SetConfigPath(configPath string) { p.configPath = configPath }

// Dependencies returns pkg's dependencies, plus devDependencies unless
// excludeDev is set. A nil pkg means the project's own package.
func (p *Project) Dependencies(pkg *Package, excludeDev bool) map[string]string {
	if pkg == nil {
		pkg = p.pkg
	}
	out := make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
	if !excludeDev {
		for k, v := range pkg.DevDependencies {
			out[k] = v
		}
	}
	for k, v := range pkg.Dependencies {
		out[k] = v
	}
	return out
}

// InitializeAddons discovers addons among the project's dependencies. It runs
// once; later calls are no-ops. Addons are ordered by name, then adjusted so
// every addon precedes the ones its "before" list names.
func (p *Project) InitializeAddons() error {
	if p.initialized {
		return nil
	}
	found := make(map[string]Addon)
	for _, dep := range sortedKeys(p.Dependencies(nil, false)) {
		dir := path.Join(p.NodeModulesPath(), dep)
		pkg, err := ReadPackage(p.fs, path.Join(dir, "package.json"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read addon %s: %w", dep, err)
		}
		if !pkg.IsAddon() {
			continue
		}
		if pkg.Name == "" {
			pkg.Name = dep
		}
		found[pkg.Name] = NewDirAddon(pkg, dir, p.NodeModulesPath())
	}

	ordered, err := orderAddons(found)
	if err != nil {
		return err
	}
	p.addons = ordered
	p.initialized = true
	return nil
}

// Addons returns the current addon list.
func (p *Project) Addons() []Addon { return p.addons }

// SetAddons replaces the addon list and marks discovery as done.
func (p *Project) SetAddons(addons []Addon) {
	p.addons = addons
	p.initialized = true
}

// orderAddons is a topological sort over "before" and "after" edges with name
// order as the tie-break. Names of addons that are not installed are ignored.
func orderAddons(addons map[string]Addon) ([]Addon, error) {
	indegree := make(map[string]int, len(addons))
	edges := make(map[string][]string, len(addons))
	link := func(first, then string) {
		if _, ok := addons[first]; !ok {
			return
		}
		if _, ok := addons[then]; !ok || first == then {
			return
		}
		edges[first] = append(edges[first], then)
		indegree[then]++
	}
	for name := range addons {
		indegree[name] = 0
	}
	for _, name := range sortedAddonNames(addons) {
		pkg := addons[name].Pkg()
		if pkg == nil || pkg.Addon == nil {
			continue
		}
		for _, later := range pkg.Addon.Before {
			link(name, later)
		}
		for _, earlier := range pkg.Addon.After {
			link(earlier, name)
		}
	}

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	out := make([]Addon, 0, len(addons))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		out = append(out, addons[name])
		for _, next := range edges[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	if len(out) != len(addons) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrAddonCycle, strings.Join(stuck, ", "))
	}
	return out, nil
}
