package goSession

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrUnknownConfigKey is wrapped by LoadConfigFile when the file sets a key
// Config does not define.
var ErrUnknownConfigKey = errors.New("unknown config key")

// LoadConfigFile overlays the TOML file at path onto DefaultConfig. Keys the
// file omits keep their defaults. Durations are written as strings ("5s",
// "2m30s"). The encryption key is never read from a file.
//
// The result is not validated; Build does that.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("load config %s: %w: %s", path, ErrUnknownConfigKey, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// DecodeConfig is LoadConfigFile for an in-memory document.
func DecodeConfig(doc string) (Config, error) {
	cfg := defaultConfig()
	meta, err := toml.Decode(doc, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("decode config: %w: %s", ErrUnknownConfigKey, undecoded[0].String())
	}
	return cfg, nil
}
