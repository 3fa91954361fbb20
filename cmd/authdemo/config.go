package main

import (
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// serveConfig is read from the config file, then overridden by any flag the
// user set explicitly.
type serveConfig struct {
	Listen    string `koanf:"listen"`
	LogFormat string `koanf:"log-format"`
	LogLevel  string `koanf:"log-level"`

	AppName       string `koanf:"app-name"`
	APIDomain     string `koanf:"api-domain"`
	WebsiteDomain string `koanf:"website-domain"`
	APIBasePath   string `koanf:"api-base-path"`

	CoreURI    string `koanf:"core-uri"`
	CoreAPIKey string `koanf:"core-api-key"`

	SecretKey      string   `koanf:"secret-key"`
	CookieSecure   bool     `koanf:"cookie-secure"`
	ServerSessions bool     `koanf:"server-sessions"`
	AllowedOrigins []string `koanf:"allowed-origins"`

	// ContactMethod enables passwordless when set.
	ContactMethod string   `koanf:"contact-method"`
	FlowType      string   `koanf:"flow-type"`
	EmailPassword bool     `koanf:"emailpassword"`
	Providers     []string `koanf:"providers"`

	// EmailVerification is "", "required" or "optional".
	EmailVerification string `koanf:"email-verification"`
	AccountLinking    bool   `koanf:"account-linking"`
	// Relay sends emails and SMS through the hosted relay instead of
	// logging them.
	Relay bool `koanf:"relay"`
}

// Default values for serve command flags.
const (
	defaultListen        = ":3000"
	defaultLogFormat     = "text"
	defaultLogLevel      = "info"
	defaultAppName       = "Auth Demo"
	defaultAPIDomain     = "http://localhost:3000"
	defaultWebsiteDomain = "http://localhost:3001"
	defaultCoreURI       = "http://localhost:3567"
	defaultContactMethod = "EMAIL"
	defaultFlowType      = "USER_INPUT_CODE_AND_MAGIC_LINK"
)

func registerServeFlags(fs *pflag.FlagSet) {
	fs.String("listen", defaultListen, "HTTP listen address")
	fs.String("log-format", defaultLogFormat, "log format (json or text)")
	fs.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	fs.String("app-name", defaultAppName, "app name shown in emails")
	fs.String("api-domain", defaultAPIDomain, "public origin of this server")
	fs.String("website-domain", defaultWebsiteDomain, "origin of the website that calls the APIs")
	fs.String("api-base-path", "", "path the auth APIs are served under (default /auth)")

	fs.String("core-uri", defaultCoreURI, "auth core connection URI; separate several with ';'")
	fs.String("core-api-key", "", "auth core API key")

	fs.String("secret-key", "", "access token signing key, at least 16 bytes")
	fs.Bool("cookie-secure", false, "mark session cookies Secure")
	fs.Bool("server-sessions", false, "also record session handles in an in-memory server side store")
	fs.StringSlice("allowed-origins", nil, "CORS origin patterns, e.g. https://*.example.com")

	fs.String("contact-method", defaultContactMethod, "passwordless contact method (EMAIL, PHONE, EMAIL_OR_PHONE); empty disables passwordless")
	fs.String("flow-type", defaultFlowType, "passwordless flow type")
	fs.Bool("emailpassword", true, "enable email and password sign in")
	fs.StringSlice("providers", nil, "third party providers to enable (google, github)")

	fs.String("email-verification", "", "email verification mode (required or optional); empty disables it")
	fs.Bool("account-linking", false, "link sign ins with the same verified email to one user")
	fs.Bool("relay", false, "send emails and SMS through the hosted relay")
}

// loadServeConfig layers path (when set) under the explicitly set flags.
func loadServeConfig(path string, fs *pflag.FlagSet) (serveConfig, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return serveConfig{}, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "loading config file")
		}
	}
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return serveConfig{}, oops.Code("CONFIG_INVALID").Wrapf(err, "loading flags")
	}

	var cfg serveConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return serveConfig{}, oops.Code("CONFIG_INVALID").Wrapf(err, "decoding config")
	}
	return cfg, nil
}

func (c serveConfig) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, oops.Code("CONFIG_INVALID").With("log_level", c.LogLevel).Wrapf(err, "invalid log level")
	}
	return level, nil
}
