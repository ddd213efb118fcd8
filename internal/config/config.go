// Package config builds the engine's tunable Options the way the
// teacher's internal/config builds its CLI configuration: a
// github.com/spf13/viper instance layering environment variables over a
// config file over built-in defaults, with explicitly-passed values
// taking precedence over all three (spec §5 "Caching").
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Options holds the engine's tunable knobs. Zero values mean "use the
// default" when passed to Load.
type Options struct {
	// CacheCapacity bounds the Data Pack Store's value LRU (spec §5,
	// default ~1024 entries).
	CacheCapacity int

	// PackSealThreshold is the number of values the Staging Layer may
	// buffer in the open pack before opportunistically sealing it ahead
	// of the next commit, bounding memory on large updates. Not part of
	// the core protocol — purely a resource-usage knob.
	PackSealThreshold int
}

const (
	defaultCacheCapacity     = 1024
	defaultPackSealThreshold = 256
)

// Load resolves Options from, in increasing precedence: built-in
// defaults, an optional "melda" config file (TOML, searched in the
// current directory), environment variables prefixed "MELDA_", and
// finally any non-zero field set on explicit.
func Load(explicit *Options) (*Options, error) {
	v := viper.New()
	v.SetConfigName("melda")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MELDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache-capacity", defaultCacheCapacity)
	v.SetDefault("pack-seal-threshold", defaultPackSealThreshold)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	opts := &Options{
		CacheCapacity:     v.GetInt("cache-capacity"),
		PackSealThreshold: v.GetInt("pack-seal-threshold"),
	}
	if explicit != nil {
		if explicit.CacheCapacity > 0 {
			opts.CacheCapacity = explicit.CacheCapacity
		}
		if explicit.PackSealThreshold > 0 {
			opts.PackSealThreshold = explicit.PackSealThreshold
		}
	}
	return opts, nil
}
