package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/teamloop/teamloop/globals"
)

const (
	defaultAddr            = "localhost:8000"
	defaultMaxParticipants = 10
	defaultPageSize        = 50
)

// Config is the global configuration object which is filled from the
// configuration file, environment (prefix TEAMLOOP) and command-line flags.
type Config struct {
	Server            ServerConfig      `mapstructure:"server"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	CacheConfig       CacheConfig       `mapstructure:"cache"`
	Limits            LimitsConfig      `mapstructure:"limits"`
	LogLevel          string            `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	SSLCert string `mapstructure:"ssl_cert"`
	SSLKey  string `mapstructure:"ssl_key"`
}

// AuthConfig configures credential verification. JWTSecret verifies locally
// issued bearer tokens; TokenUnwrapKey, if set, is the AES key used to unwrap
// encrypted credentials before verification (raw tokens still pass through).
// OIDC providers are optional; a client may name one in the handshake.
type AuthConfig struct {
	JWTSecret      string       `mapstructure:"jwt_secret"`
	TokenUnwrapKey string       `mapstructure:"token_unwrap_key"`
	OIDCConfigs    []OIDCConfig `mapstructure:"oidc"`
}

// An OIDCConfig object configures an OpenID Connect provider that can be used
// to authenticate users via verification of an ID token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"`
}

// PersistenceConfig selects the document store backend, "sqlite" or
// "postgres", with the corresponding DSN.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// CacheConfig selects the cache backend for chat lists and unread counts:
// "buntdb" (embedded, Path or ":memory:") or "redis" (Addr).
type CacheConfig struct {
	Type     string `mapstructure:"type"`
	Path     string `mapstructure:"path"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LimitsConfig struct {
	DefaultMaxParticipants int `mapstructure:"default_max_participants"`
	PageSize               int `mapstructure:"page_size"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("server.addr", defaultAddr, "listen address (including port)")
	flagSet.String("log-level", "INFO", "log level")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("server.addr", defaultAddr)
	viper.SetDefault("limits.default_max_participants", defaultMaxParticipants)
	viper.SetDefault("limits.page_size", defaultPageSize)
	viper.SetDefault("cache.type", "buntdb")
	viper.SetDefault("cache.path", ":memory:")
	if err := viper.BindPFlags(flagSet); err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("TEAMLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(contents)); err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
