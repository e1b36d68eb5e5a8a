package tabdb

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configShape is the env/.env-driven Options payload LoadOptionsFromEnv
// unmarshals into before translating it into an *Options.
type configShape struct {
	Directory           string   `mapstructure:"directory"`
	ReadonlyCollections []string `mapstructure:"readonly_collections"`
	WritableCollections []string `mapstructure:"writable_collections"`
}

// LoadOptionsFromEnv builds Options from a ".env" file (optional) and
// prefix-matching environment variables, e.g. with prefix "TABDB_":
// TABDB_DIRECTORY, TABDB_READONLY_COLLECTIONS, TABDB_WRITABLE_COLLECTIONS.
// Direct construction of Options remains the primary, documented path;
// this is sugar for hosts that prefer env-driven configuration.
func LoadOptionsFromEnv(prefix string) (*Options, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	_ = v.ReadInConfig() // optional: ignore if the file doesn't exist

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]
		if !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.TrimPrefix(propKey, "_"))
		v.Set(propKey, value)
	}

	var cfg configShape
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, newErr(ConfigError, "unmarshal config: %v", err)
	}
	if cfg.Directory == "" {
		return nil, newErr(ConfigError, "%s_DIRECTORY is required", prefixUpper)
	}

	opts := DefaultOptions(cfg.Directory)
	opts.ReadonlyCollections = cfg.ReadonlyCollections
	opts.WritableCollections = cfg.WritableCollections
	return opts, nil
}
