package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// File is a background description loaded from disk: which background to
// build, the seed for its initial parameters, and its config sub-tree.
type File struct {
	Background string
	Seed       int64
	Config     Values
}

type fileConfig struct {
	Background string         `toml:"background"`
	Seed       int64          `toml:"seed"`
	Config     map[string]any `toml:"config"`
}

// LoadFile decodes a TOML file and overlays the keys it defines onto defaults.
func LoadFile(path string, defaults File) (File, error) {
	out := File{
		Background: defaults.Background,
		Seed:       defaults.Seed,
		Config:     defaults.Config.Clone(),
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return File{}, fmt.Errorf("load background config: %w", err)
	}
	// Everything under [config] lands in a free-form map, which toml still
	// reports as undecoded.
	var unknown []string
	for _, key := range meta.Undecoded() {
		if len(key) > 0 && key[0] == "config" {
			continue
		}
		unknown = append(unknown, key.String())
	}
	if len(unknown) > 0 {
		return File{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(unknown, ", "))
	}

	if meta.IsDefined("background") {
		background := strings.TrimSpace(raw.Background)
		if background == "" {
			return File{}, fmt.Errorf("%w: background must not be empty", ErrInvalid)
		}
		out.Background = background
	}
	if meta.IsDefined("seed") {
		out.Seed = raw.Seed
	}
	if meta.IsDefined("config") {
		out.Config = Merge(out.Config, Values(raw.Config))
	}
	return out, nil
}
