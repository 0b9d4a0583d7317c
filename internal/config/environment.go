package config

import (
	"errors"
	"fmt"
	"os"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// ErrConfigNotFound is returned by LoadEnvironment when the config file does
// not exist.
var ErrConfigNotFound = errors.New("environment config not found")

// EnvironmentFile is the runtime config path relative to the project root.
const EnvironmentFile = "config/environment.json"

var (
	environmentsPath = jp.C("environments")
	modulePrefixPath = jp.C("modulePrefix")
	locationTypePath = jp.C("locationType")
	baseURLPath      = jp.C("baseURL")
	emberENVPath     = jp.C("EmberENV")
	appPath          = jp.C("APP")
)

// Environment is the runtime configuration of one environment. It is
// serialized into the index page and the config module.
type Environment struct {
	values map[string]any
}

// NewEnvironment returns the default config for env.
func NewEnvironment(env string) Environment {
	e := Environment{values: map[string]any{}}
	e.applyDefaults(env)
	return e
}

// ParseEnvironment decodes config JSON. The top level holds the shared
// values; "environments.<env>" is deep-merged over them and then dropped.
func ParseEnvironment(data []byte, env string) (Environment, error) {
	raw, err := oj.Parse(data)
	if err != nil {
		return Environment{}, fmt.Errorf("parse environment config: %w", err)
	}
	base, ok := raw.(map[string]any)
	if !ok {
		return Environment{}, fmt.Errorf("parse environment config: top level is %T, want object", raw)
	}

	overrides, _ := environmentsPath.C(env).First(base).(map[string]any)
	delete(base, "environments")
	e := Environment{values: deepMerge(base, overrides)}
	e.applyDefaults(env)
	return e, nil
}

// LoadEnvironment reads the config at path for env.
func LoadEnvironment(fsys billy.Filesystem, path, env string) (Environment, error) {
	data, err := util.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Environment{}, fmt.Errorf("%s: %w", path, ErrConfigNotFound)
		}
		return Environment{}, fmt.Errorf("read environment config: %w", err)
	}
	return ParseEnvironment(data, env)
}

func (e *Environment) applyDefaults(env string) {
	e.values["environment"] = env
	if _, ok := e.values["locationType"]; !ok {
		e.values["locationType"] = "auto"
	}
	if _, ok := e.values["baseURL"]; !ok {
		e.values["baseURL"] = "/"
	}
}

// SetDefault sets key when the config does not carry it.
func (e *Environment) SetDefault(key string, value any) {
	if e.values == nil {
		e.values = map[string]any{}
	}
	if _, ok := e.values[key]; !ok {
		e.values[key] = value
	}
}

func (e Environment) Name() string         { return asString(e.values["environment"]) }
func (e Environment) ModulePrefix() string { return asString(modulePrefixPath.First(e.values)) }
func (e Environment) LocationType() string { return asString(locationTypePath.First(e.values)) }

// BaseURL is the raw baseURL value. A null baseURL yields "" and suppresses
// the base tag.
func (e Environment) BaseURL() string { return asString(baseURLPath.First(e.values)) }

// EmberENV is the framework flags object, or nil.
func (e Environment) EmberENV() map[string]any {
	m, _ := emberENVPath.First(e.values).(map[string]any)
	return m
}

// APP is the application instance options object, or nil.
func (e Environment) APP() map[string]any {
	m, _ := appPath.First(e.values).(map[string]any)
	return m
}

// Values exposes the merged config. Callers must not modify it.
func (e Environment) Values() map[string]any { return e.values }

// Get evaluates a JSONPath expression against the config.
func (e Environment) Get(expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", expr, err)
	}
	return x.Get(e.values), nil
}

// JSON serializes the whole config with sorted keys.
func (e Environment) JSON() string { return JSON(e.values) }

// JSON serializes v compactly with sorted object keys. A nil v encodes as
// "null".
func JSON(v any) string {
	opts := ojg.DefaultOptions
	opts.Sort = true
	opts.HTMLUnsafe = true
	return oj.JSON(v, &opts)
}

func deepMerge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
