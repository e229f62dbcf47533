package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read as overrides.
const EnvPrefix = "PIPECTL_"

// reservedEnvKeys are PIPECTL_ variables that configure the process rather
// than the document.
var reservedEnvKeys = map[string]bool{
	"config_path": true,
	"module":      true,
	"output_dir":  true,
	"run_id":      true,
}

// EnvOverrides collects overrides from environment variables carrying prefix.
// A double underscore separates path segments, so PIPECTL_PIPELINE__CONCURRENCY
// becomes pipeline.concurrency. Overrides are returned sorted by path.
func EnvOverrides(prefix string) ([]Override, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
		if reservedEnvKeys[key] {
			return ""
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	keys := k.Keys()
	out := make([]Override, 0, len(keys))
	for _, key := range keys {
		o, err := ParseOverride(key + "=" + k.String(key))
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
