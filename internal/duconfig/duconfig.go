// Package duconfig is the ambient configuration layer: ignore rules, the
// default cache file path, and remote connection settings (SSH port and
// batch mode), loaded from flags,
// environment variables and an optional config file through
// github.com/spf13/viper. This mirrors the small wrapper-over-viper
// pattern used by the retrieval pack's xviper package (joshyorko-rcc),
// adapted to this engine's own settings rather than telemetry.
package duconfig

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sadopc/duidx/internal/scanner"
)

const (
	keyIgnore       = "ignore"
	keyCachePath    = "cache_path"
	keySSHPort      = "remote.port"
	keySSHBatchMode = "remote.batch_mode"

	envPrefix = "DUIDX"
)

// Config is the resolved ambient configuration for one invocation of the
// engine.
type Config struct {
	v *viper.Viper
}

// Load builds a Config from defaults, an optional config file at
// configPath (ignored if empty or absent), environment variables
// prefixed DUIDX_, and any flags already bound to fs.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetDefault(keyIgnore, scanner.DefaultIgnored)
	v.SetDefault(keyCachePath, ".duidx-cache.csv")
	v.SetDefault(keySSHPort, 22)
	v.SetDefault(keySSHBatchMode, false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	return &Config{v: v}, nil
}

// IgnoreSet returns the configured opaque-directory basenames as a
// scanner.IgnoreSet.
func (c *Config) IgnoreSet() scanner.IgnoreSet {
	return scanner.NewIgnoreSet(c.v.GetStringSlice(keyIgnore)...)
}

// CachePath returns the configured default cache file path.
func (c *Config) CachePath() string {
	return c.v.GetString(keyCachePath)
}

// RemotePort returns the configured default SSH port for remote scans.
func (c *Config) RemotePort() int {
	return c.v.GetInt(keySSHPort)
}

// RemoteBatchMode reports whether remote scans should fail instead of
// prompting interactively for host-key trust or a password.
func (c *Config) RemoteBatchMode() bool {
	return c.v.GetBool(keySSHBatchMode)
}
