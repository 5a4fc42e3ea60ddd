package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/hideout-chat/hideout/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultMessageFetchLimit = 100
	defaultInviteExpiryDays  = 7
	defaultInviteSweepSpec   = "@every 10m"
)

// Config is the global configuration object which is filled via the
// configuration file and HIDEOUT_* environment variables.
type Config struct {
	GatewayConfig GatewayConfig `mapstructure:"gateway"`
	SyncConfig    SyncConfig    `mapstructure:"sync"`
	InviteConfig  InviteConfig  `mapstructure:"invites"`
	StorageConfig StorageConfig `mapstructure:"storage"`
	OIDCConfigs   []OIDCConfig  `mapstructure:"oidc"`
	LogLevel      string        `mapstructure:"log_level"`
	AdminUser     string        `mapstructure:"admin_user"`
}

// GatewayConfig selects the data gateway backend. Type is one of "sqlite",
// "postgres" or "buntdb"; DSN is the backend-specific source name.
type GatewayConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// SyncConfig bounds the initial message fetch per conversation.
type SyncConfig struct {
	MessageFetchLimit int `mapstructure:"message_fetch_limit"`
}

// InviteConfig holds the defaults applied when an invite is created without
// explicit limits, and the cron spec for the expiry sweep.
type InviteConfig struct {
	DefaultExpiryDays int    `mapstructure:"default_expiry_days"`
	DefaultMaxUses    int    `mapstructure:"default_max_uses"`
	SweepSpec         string `mapstructure:"sweep_spec"`
}

// StorageConfig configures the object store for avatars and message images.
// BaseURL is what uploaded paths are resolved against in returned URLs.
type StorageConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to
// authenticate users. Clients provide an ID token and the provider name, the
// authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "id of the community owner account")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use
// - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("sync.message_fetch_limit", defaultMessageFetchLimit)
	viper.SetDefault("invites.default_expiry_days", defaultInviteExpiryDays)
	viper.SetDefault("invites.sweep_spec", defaultInviteSweepSpec)
	viper.SetDefault("gateway.type", "sqlite")
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("HIDEOUT")
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
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
