package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/vantagehq/vantage/backend/internal/auth"
)

const (
	envPrefix           = "VANTAGE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "vantage.db"
	defaultLogLevel     = "info"
	defaultCookieName   = "vantage_session"
	defaultIssuer       = "vantage-auth"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	DatabasePath      string
	LogLevel          string
	FeatureGrants     auth.FeatureGrants
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultIssuer)
}

// Load parses runtime configuration from viper. Feature grants come from the
// "features.grants" map: role id to a list of grant patterns.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionIssuer:     configViper.GetString("session.issuer"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
	}

	if grants := configViper.GetStringMapStringSlice("features.grants"); len(grants) > 0 {
		cfg.FeatureGrants = auth.FeatureGrants(grants)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	return nil
}
