package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/agentic-research/assembler/internal/project"
)

// DefaultEnvironment is used when neither EMBER_ENV nor --environment is set.
const DefaultEnvironment = "development"

// Viper keys.
const (
	KeyEnvironment         = "environment"
	KeyTestCommand         = "test_command"
	KeyName                = "name"
	KeyTests               = "tests"
	KeyHinting             = "hinting"
	KeyES3Safe             = "es3_safe"
	KeyStoreConfigInMeta   = "store_config_in_meta"
	KeyAutoRun             = "auto_run"
	KeyMinifyCSS           = "minify_css.enabled"
	KeyMinifyJS            = "minify_js.enabled"
	KeySourcemaps          = "sourcemaps.enabled"
	KeySourcemapExtensions = "sourcemaps.extensions"
)

// Trees are the application source directories, relative to the project
// root.
type Trees struct {
	App       string
	Tests     string
	Styles    string
	Templates string
	Vendor    string
	Public    string
}

// OutputPaths are the output file names. Empty app css/js paths are derived
// from the application name by the assembler.
type OutputPaths struct {
	AppHTML   string
	AppCSS    string
	AppJS     string
	VendorCSS string
	VendorJS  string
}

// Settings are the fully layered build options.
type Settings struct {
	Environment string
	// TestCommand is true when EMBER_CLI_TEST_COMMAND is set.
	TestCommand bool

	Name              string
	Tests             bool
	Hinting           bool
	ES3Safe           bool
	StoreConfigInMeta bool
	AutoRun           bool

	Trees       Trees
	OutputPaths OutputPaths

	MinifyCSS           bool
	MinifyJS            bool
	Sourcemaps          bool
	SourcemapExtensions []string

	Imports []project.Import
}

// Production reports whether the settings target the production environment.
func (s *Settings) Production() bool { return s.Environment == "production" }

// NewViper returns a viper instance with the static defaults and the
// environment bindings. Defaults that depend on the environment are applied
// by Resolve.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyEnvironment, DefaultEnvironment)
	v.SetDefault(KeyES3Safe, true)
	v.SetDefault(KeyStoreConfigInMeta, true)
	v.SetDefault(KeyAutoRun, true)
	v.SetDefault("trees.app", "app")
	v.SetDefault("trees.tests", "tests")
	v.SetDefault("trees.styles", "app/styles")
	v.SetDefault("trees.templates", "app/templates")
	v.SetDefault("trees.vendor", "vendor")
	v.SetDefault("trees.public", "public")
	v.SetDefault("output_paths.app_html", "index.html")
	v.SetDefault("output_paths.vendor_css", "/assets/vendor.css")
	v.SetDefault("output_paths.vendor_js", "/assets/vendor.js")
	v.SetDefault(KeySourcemapExtensions, []string{"js"})

	_ = v.BindEnv(KeyEnvironment, "EMBER_ENV")
	_ = v.BindEnv(KeyTestCommand, "EMBER_CLI_TEST_COMMAND")
	return v
}

// BindFlags binds the CLI flags that override file and environment values.
// Missing flags are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range map[string]string{
		KeyEnvironment: "environment",
		KeyTests:       "tests",
		KeyHinting:     "hinting",
	} {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Resolve merges file into v and reads back the layered settings. file may
// be nil when the project has no build file.
func Resolve(v *viper.Viper, file *BuildFile) (*Settings, error) {
	if err := v.MergeConfigMap(file.settingsMap()); err != nil {
		return nil, fmt.Errorf("merge build file: %w", err)
	}

	s := &Settings{
		Environment:       v.GetString(KeyEnvironment),
		TestCommand:       v.IsSet(KeyTestCommand),
		Name:              v.GetString(KeyName),
		ES3Safe:           v.GetBool(KeyES3Safe),
		StoreConfigInMeta: v.GetBool(KeyStoreConfigInMeta),
		AutoRun:           v.GetBool(KeyAutoRun),
		Trees: Trees{
			App:       v.GetString("trees.app"),
			Tests:     v.GetString("trees.tests"),
			Styles:    v.GetString("trees.styles"),
			Templates: v.GetString("trees.templates"),
			Vendor:    v.GetString("trees.vendor"),
			Public:    v.GetString("trees.public"),
		},
		OutputPaths: OutputPaths{
			AppHTML:   v.GetString("output_paths.app_html"),
			AppCSS:    v.GetString("output_paths.app_css"),
			AppJS:     v.GetString("output_paths.app_js"),
			VendorCSS: v.GetString("output_paths.vendor_css"),
			VendorJS:  v.GetString("output_paths.vendor_js"),
		},
		SourcemapExtensions: v.GetStringSlice(KeySourcemapExtensions),
	}
	if s.Environment == "" {
		s.Environment = DefaultEnvironment
	}

	prod := s.Production()
	s.Tests = boolOr(v, KeyTests, s.TestCommand || !prod)
	s.Hinting = boolOr(v, KeyHinting, s.TestCommand || !prod)
	s.MinifyCSS = boolOr(v, KeyMinifyCSS, prod)
	s.MinifyJS = boolOr(v, KeyMinifyJS, prod)
	s.Sourcemaps = boolOr(v, KeySourcemaps, !prod)

	if file != nil {
		for _, ib := range file.Imports {
			s.Imports = append(s.Imports, ib.toImport())
		}
	}
	return s, nil
}

func boolOr(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

func (ib *ImportBlock) toImport() project.Import {
	imp := project.Import{Options: project.ImportOptions{Type: "vendor"}}
	if len(ib.Environments) > 0 {
		imp.Asset.ByEnv = ib.Environments
	} else {
		imp.Asset.Path = ib.Path
	}
	if ib.Type != nil {
		imp.Options.Type = *ib.Type
	}
	if ib.Prepend != nil {
		imp.Options.Prepend = *ib.Prepend
	}
	if len(ib.Exports) > 0 {
		imp.Options.Exports = ib.Exports
	}
	return imp
}
