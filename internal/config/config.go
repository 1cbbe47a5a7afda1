// Package config loads yaml configuration with environment overrides.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPath names the variable holding the config file path when Load gets none.
const EnvPath = "CONFIG_PATH"

var ErrNoFile = stderrors.New("config: no file given and " + EnvPath + " not set")

// Load fills config, a pointer to a struct, from a yaml file. The values config already
// holds are the defaults, keys missing from the file keep them. Every key can be
// overridden by an environment variable named after its path, REDIS_CACHE_TTL for
// redis.cache.ttl, including keys only the defaults know.
func Load(file string, config any) error {
	if file == "" {
		file = os.Getenv(EnvPath)
	}
	if file == "" {
		return ErrNoFile
	}

	defaults := make(map[string]any)
	if err := mapstructure.Decode(config, &defaults); err != nil {
		return fmt.Errorf("config: decode defaults: %w", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("config: merge defaults: %w", err)
	}

	v.SetConfigFile(file)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", file, err)
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", file, err)
	}

	return nil
}
