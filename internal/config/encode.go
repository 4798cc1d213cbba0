package config

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// secretKeys are option names masked by Encode.
var secretKeys = []string{"token", "password", "secret"}

// Encode writes cfg as TOML in the layout Load reads, with secret options
// masked.
func Encode(w io.Writer, cfg *Config) error {
	doc := make(map[string]any, len(cfg.Flavors)+len(cfg.Targets))

	for name, f := range cfg.Flavors {
		doc[name] = f
	}
	for name, t := range cfg.Targets {
		doc[name] = Target{Service: t.Service, Options: maskSecrets(t.Options)}
	}

	enc := toml.NewEncoder(w)
	enc.Indent = ""
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func maskSecrets(opts TargetOptions) TargetOptions {
	out := make(TargetOptions, len(opts))
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		out[k] = opts[k]
		for _, secret := range secretKeys {
			if strings.Contains(strings.ToLower(k), secret) {
				out[k] = "********"
				break
			}
		}
	}
	return out
}
