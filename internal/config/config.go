// Package config loads the bugwarrior configuration file.
//
// A configuration file holds two kinds of top-level sections:
//
//   - flavors (target groups), recognized by a targets key; [general] is
//     the default flavor
//   - targets, recognized by a service key, with connector options in a
//     nested options table
//
// Every key can be overridden from the environment as
// BUGWARRIOR_<SECTION>_<KEY>, for example BUGWARRIOR_MY_GITHUB_OPTIONS_TOKEN.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/bugwarrior/internal/lock"
)

// DefaultFlavor is the flavor used when none is requested.
const DefaultFlavor = "general"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BUGWARRIOR"

// Field policies accepted in [<flavor>.policies].
const (
	PolicyMerge     = "merge"
	PolicyKeep      = "keep"
	PolicyStatic    = "static"
	PolicyOverwrite = "overwrite"
)

// Store backends accepted in the store key.
const (
	StoreSQLite      = "sqlite"
	StoreTaskwarrior = "taskwarrior"
)

var (
	// ErrNotFound is returned when no configuration file exists.
	ErrNotFound = errors.New("configuration file not found")

	// ErrUnknownFlavor is returned for a flavor the file does not define.
	ErrUnknownFlavor = errors.New("unknown flavor")

	// ErrInvalid is returned when a flavor fails validation.
	ErrInvalid = errors.New("invalid configuration")
)

// Config is a loaded configuration file.
type Config struct {
	Path    string             `toml:"-"`
	Flavors map[string]*Flavor `toml:"flavors"`
	Targets map[string]*Target `toml:"targets"`
}

// Flavor is one target group with its sync settings.
type Flavor struct {
	Name              string              `mapstructure:"-" toml:"-"`
	Targets           []string            `mapstructure:"targets" toml:"targets"`
	Store             string              `mapstructure:"store" toml:"store"`
	Data              string              `mapstructure:"data" toml:"data"`
	Lockfile          string              `mapstructure:"lockfile" toml:"lockfile,omitempty"`
	StaticFields      []string            `mapstructure:"static_fields" toml:"static_fields"`
	RoughFields       []string            `mapstructure:"rough_fields" toml:"rough_fields"`
	CloseOnFetchError bool                `mapstructure:"close_on_fetch_error" toml:"close_on_fetch_error"`
	LogFile           string              `mapstructure:"log_file" toml:"log_file,omitempty"`
	LogLevel          string              `mapstructure:"log_level" toml:"log_level"`
	Interval          string              `mapstructure:"interval" toml:"interval"`
	Policies          map[string]string   `mapstructure:"policies" toml:"policies,omitempty"`
	Protect           map[string][]string `mapstructure:"protect" toml:"protect,omitempty"`
}

// Target is one configured service instance.
type Target struct {
	Name    string        `mapstructure:"-" toml:"-"`
	Service string        `mapstructure:"service" toml:"service"`
	Options TargetOptions `mapstructure:"options" toml:"options"`
}

// DefaultFlavorConfig returns the defaults applied to every flavor.
func DefaultFlavorConfig() *Flavor {
	return &Flavor{
		Store:        StoreSQLite,
		Data:         filepath.Join(dataHome(), "bugwarrior", "tasks.db"),
		StaticFields: []string{"priority"},
		RoughFields:  []string{"annotations"},
		LogLevel:     "info",
		Interval:     "15m",
		Policies:     map[string]string{},
		Protect:      map[string][]string{},
	}
}

// DefaultPath returns the configuration path: BUGWARRIOR_CONFIG when set,
// otherwise $XDG_CONFIG_HOME/bugwarrior/bugwarrior.toml.
func DefaultPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "bugwarrior", "bugwarrior.toml")
}

func dataHome() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

// Load reads and parses the configuration file at path. The format is
// taken from the extension (toml, yaml or yml); toml is assumed otherwise.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(configType(path))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		Path:    path,
		Flavors: make(map[string]*Flavor),
		Targets: make(map[string]*Target),
	}

	for _, name := range sectionNames(v) {
		sub := v.Sub(name)
		if sub == nil {
			continue
		}
		bindEnv(sub, name)

		switch {
		case sub.IsSet("targets"):
			f := DefaultFlavorConfig()
			applyFlavorDefaults(sub, f)
			if err := sub.Unmarshal(f); err != nil {
				return nil, fmt.Errorf("failed to parse flavor %s: %w", name, err)
			}
			f.Name = name
			f.Data = ExpandPath(f.Data)
			f.Lockfile = ExpandPath(f.Lockfile)
			f.LogFile = ExpandPath(f.LogFile)
			cfg.Flavors[name] = f
		case sub.IsSet("service"):
			t := &Target{}
			if err := sub.Unmarshal(t); err != nil {
				return nil, fmt.Errorf("failed to parse target %s: %w", name, err)
			}
			t.Name = name
			if t.Options == nil {
				t.Options = TargetOptions{}
			}
			cfg.Targets[name] = t
		}
	}

	return cfg, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// sectionNames returns the top-level table names in sorted order.
func sectionNames(v *viper.Viper) []string {
	var names []string
	for key, value := range v.AllSettings() {
		if _, ok := value.(map[string]any); ok {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

func bindEnv(sub *viper.Viper, section string) {
	sub.SetEnvPrefix(EnvPrefix + "_" + strings.ToUpper(section))
	sub.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	sub.AutomaticEnv()
}

// applyFlavorDefaults registers defaults on sub so that environment
// overrides apply to keys the file leaves out.
func applyFlavorDefaults(sub *viper.Viper, f *Flavor) {
	sub.SetDefault("store", f.Store)
	sub.SetDefault("data", f.Data)
	sub.SetDefault("lockfile", "")
	sub.SetDefault("static_fields", f.StaticFields)
	sub.SetDefault("rough_fields", f.RoughFields)
	sub.SetDefault("close_on_fetch_error", false)
	sub.SetDefault("log_file", "")
	sub.SetDefault("log_level", f.LogLevel)
	sub.SetDefault("interval", f.Interval)
}

// Flavor returns the validated flavor called name, with its targets
// resolved.
func (c *Config) Flavor(name string) (*Flavor, error) {
	if name == "" {
		name = DefaultFlavor
	}
	f, ok := c.Flavors[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownFlavor)
	}
	if err := c.validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

// FlavorTargets returns the targets of f in declared order.
func (c *Config) FlavorTargets(f *Flavor) []*Target {
	out := make([]*Target, 0, len(f.Targets))
	for _, name := range f.Targets {
		if t, ok := c.Targets[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (c *Config) validate(f *Flavor) error {
	if len(f.Targets) == 0 {
		return fmt.Errorf("flavor %s: targets must not be empty: %w", f.Name, ErrInvalid)
	}
	seen := make(map[string]bool)
	for _, name := range f.Targets {
		if seen[name] {
			return fmt.Errorf("flavor %s: target %s listed twice: %w", f.Name, name, ErrInvalid)
		}
		seen[name] = true

		t, ok := c.Targets[name]
		if !ok {
			return fmt.Errorf("flavor %s: no section for target %s: %w", f.Name, name, ErrInvalid)
		}
		if t.Service == "" {
			return fmt.Errorf("target %s: service is required: %w", name, ErrInvalid)
		}
	}

	switch f.Store {
	case StoreSQLite, StoreTaskwarrior:
	default:
		return fmt.Errorf("flavor %s: unknown store %q: %w", f.Name, f.Store, ErrInvalid)
	}
	if f.Data == "" {
		return fmt.Errorf("flavor %s: data is required: %w", f.Name, ErrInvalid)
	}

	for field, policy := range f.Policies {
		switch policy {
		case PolicyMerge, PolicyKeep, PolicyStatic, PolicyOverwrite:
		default:
			return fmt.Errorf("flavor %s: field %s: unknown policy %q: %w", f.Name, field, policy, ErrInvalid)
		}
	}
	for field := range f.Protect {
		if p := f.FieldPolicy(field); p != PolicyKeep {
			return fmt.Errorf("flavor %s: protect list for %s requires policy keep, got %s: %w",
				f.Name, field, p, ErrInvalid)
		}
	}

	switch f.LogLevel {
	case "", "info", "debug":
	default:
		return fmt.Errorf("flavor %s: unknown log_level %q: %w", f.Name, f.LogLevel, ErrInvalid)
	}
	return nil
}

// BuiltinPolicies are the field policies in effect when neither policies
// nor static_fields name the field. Local additions to these lists survive
// every pull.
var BuiltinPolicies = map[string]string{
	"annotations": PolicyMerge,
	"tags":        PolicyMerge,
}

// FieldPolicy returns the effective policy of field: an explicit entry in
// policies wins, then static_fields, then BuiltinPolicies, then overwrite.
func (f *Flavor) FieldPolicy(field string) string {
	if p, ok := f.Policies[field]; ok {
		return p
	}
	for _, s := range f.StaticFields {
		if s == field {
			return PolicyStatic
		}
	}
	if p, ok := BuiltinPolicies[field]; ok {
		return p
	}
	return PolicyOverwrite
}

// LockPath returns the configured lock file, or the default next to the
// store data when unset.
func (f *Flavor) LockPath() string {
	if f.Lockfile != "" {
		return f.Lockfile
	}
	return lock.DefaultPath(f.Data)
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
