package assembler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/agentic-research/assembler/internal/config"
	"github.com/agentic-research/assembler/internal/graph"
	"github.com/agentic-research/assembler/internal/project"
	"github.com/agentic-research/assembler/internal/tree"
)

var (
	emberENVPattern     = regexp.MustCompile(`\{\{EMBER_ENV\}\}`)
	contentForPattern   = regexp.MustCompile(`\{\{content-for ['"](.+?)["']\}\}`)
	modulePrefixPattern = regexp.MustCompile(`\{\{MODULE_PREFIX\}\}`)
)

// Config loads the runtime config for env. Results are cached per env; a
// project without a config file gets the defaults.
func (a *Assembler) Config(env string) (config.Environment, error) {
	if cfg, ok := a.configs[env]; ok {
		return cfg, nil
	}
	cfg, err := config.LoadEnvironment(a.fs, a.project.ConfigPath(), env)
	if errors.Is(err, config.ErrConfigNotFound) {
		a.logger.Debug("no environment config, using defaults", "path", a.project.ConfigPath())
		cfg, err = config.NewEnvironment(env), nil
	}
	if err != nil {
		return config.Environment{}, err
	}
	cfg.SetDefault("modulePrefix", a.name)
	a.configs[env] = cfg
	return cfg, nil
}

// ContentFor renders the content-for hook typ: the built-in content first,
// then whatever each addon contributes, one per line.
func (a *Assembler) ContentFor(cfg config.Environment, typ string) string {
	var content []string
	switch typ {
	case "head":
		content = append(content, baseTag(cfg))
		if a.settings.StoreConfigInMeta {
			content = append(content, fmt.Sprintf(`<meta name="%s/config/environment" content="%s" />`,
				cfg.ModulePrefix(), escape(cfg.JSON())))
		}
	case "config-module":
		content = append(content, a.configModule(cfg))
	case "app-boot":
		content = append(content, a.appBoot(cfg))
	}

	for _, addon := range a.project.Addons() {
		cp, ok := addon.(project.ContentProvider)
		if !ok {
			continue
		}
		if s := cp.ContentFor(typ, cfg.Values()); s != "" {
			content = append(content, s)
		}
	}
	return strings.Join(content, "\n")
}

func (a *Assembler) configModule(cfg config.Environment) string {
	if a.settings.StoreConfigInMeta {
		snippet, _ := templateFS.ReadFile("templates/app-config-from-meta.js")
		return fmt.Sprintf("var prefix = '%s';\n%s", cfg.ModulePrefix(), snippet)
	}
	return fmt.Sprintf("return { 'default': %s};", cfg.JSON())
}

func (a *Assembler) appBoot(cfg config.Environment) string {
	prefix := cfg.ModulePrefix()
	lines := []string{
		"if (runningTests) {",
		fmt.Sprintf(`  require("%s/tests/index");`, prefix),
	}
	if a.settings.AutoRun {
		app := cfg.APP()
		if app == nil {
			app = map[string]any{}
		}
		lines = append(lines,
			"} else {",
			fmt.Sprintf(`  require("%s/app")["default"].create(%s);`, prefix, config.JSON(app)))
	}
	lines = append(lines, "}")
	return strings.Join(lines, "\n")
}

// baseTag is empty for hash routing and when no base URL is configured.
func baseTag(cfg config.Environment) string {
	if cfg.LocationType() == "hash" {
		return ""
	}
	base := cleanBaseURL(cfg.BaseURL())
	if base == "" {
		return ""
	}
	return fmt.Sprintf(`<base href="%s" />`, base)
}

// cleanBaseURL guarantees a leading slash and, past the root, a trailing one.
func cleanBaseURL(u string) string {
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	if len(u) > 1 && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// escape is the JavaScript global escape(): it works on UTF-16 code units and
// leaves A-Z a-z 0-9 and @*_+-./ alone.
func escape(s string) string {
	var b strings.Builder
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u < 0x80 && isUnreserved(byte(u)):
			b.WriteByte(byte(u))
		case u < 0x100:
			fmt.Fprintf(&b, "%%%02X", u)
		default:
			fmt.Fprintf(&b, "%%u%04X", u)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("@*_+-./", c) >= 0
}

// ConfigReplace substitutes the config placeholders in files of t. An empty
// files list means every file.
func (a *Assembler) ConfigReplace(t tree.Tree, env string, files []string) (tree.Tree, error) {
	cfg, err := a.Config(env)
	if err != nil {
		return nil, err
	}
	only := make(map[string]bool, len(files))
	for _, f := range files {
		only[graph.Clean(f)] = true
	}

	return tree.Transform(t, "ConfigReplace ("+env+")", func(in *graph.MemoryStore) (*graph.MemoryStore, error) {
		for _, p := range in.Files() {
			if len(only) > 0 && !only[p] {
				continue
			}
			n, err := in.GetNode(p)
			if err != nil {
				return nil, err
			}
			data := a.replaceConfig(cfg, n.Data)
			if err := in.CopyFile(p, &graph.Node{Data: data, ModTime: n.ModTime, Origin: n.Origin}); err != nil {
				return nil, err
			}
		}
		return in, nil
	}), nil
}

func (a *Assembler) replaceConfig(cfg config.Environment, data []byte) []byte {
	emberENV := cfg.EmberENV()
	if emberENV == nil {
		emberENV = map[string]any{}
	}
	data = emberENVPattern.ReplaceAllLiteral(data, []byte(config.JSON(emberENV)))
	data = contentForPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		typ := contentForPattern.FindSubmatch(m)[1]
		return []byte(a.ContentFor(cfg, string(typ)))
	})
	return modulePrefixPattern.ReplaceAllLiteral(data, []byte(cfg.ModulePrefix()))
}
