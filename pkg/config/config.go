package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gooddata/sso-url/pkg/pgp"
	"github.com/gooddata/sso-url/pkg/ssourl"
)

// EnvPrefix is prepended to every environment variable read by the tool
const EnvPrefix = "SSO_URL"

// DefaultRecipient is the platform key the token is encrypted for
const DefaultRecipient = "ops@gooddata.com"

// CryptoConfig holds the signing backend configuration
type CryptoConfig struct {
	Backend       string `mapstructure:"backend"`
	GPGBinary     string `mapstructure:"gpg_binary"`
	GnuPGHome     string `mapstructure:"gnupg_home"`
	PublicKeyring string `mapstructure:"public_keyring"`
	SecretKeyring string `mapstructure:"secret_keyring"`
}

// PGP converts the crypto section to a backend config
func (c CryptoConfig) PGP() pgp.Config {
	return pgp.Config{
		Backend:       c.Backend,
		Binary:        c.GPGBinary,
		Home:          c.GnuPGHome,
		PublicKeyring: c.PublicKeyring,
		SecretKeyring: c.SecretKeyring,
	}
}

// PolicyConfig points at an optional Rego policy
type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// MetricsConfig holds the node_exporter textfile target
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

// StorageConfig holds S3-compatible object storage configuration used for
// s3:// token references
type StorageConfig struct {
	BucketHost      string `mapstructure:"bucket_host"`
	BucketPort      int    `mapstructure:"bucket_port"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Config is everything one run needs
type Config struct {
	ServerURL         string `mapstructure:"server_url"`
	DestinationServer string `mapstructure:"destination_server"`
	TargetURL         string `mapstructure:"target_url"`
	CustomerResource  string `mapstructure:"customer_resource"`

	EncryptedFile string `mapstructure:"encrypted_file"`
	CustomerUser  string `mapstructure:"customer_user"`
	Login         string `mapstructure:"login"`
	GoodDataUser  string `mapstructure:"gooddata_user"`
	// Validity is nil unless set explicitly; any value is used unchecked
	Validity      *int64 `mapstructure:"validity"`

	DontPrint   bool   `mapstructure:"dont_print"`
	OpenBrowser bool   `mapstructure:"open_browser"`
	LogLevel    string `mapstructure:"log_level"`

	Crypto  CryptoConfig  `mapstructure:"crypto"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	OTel    OTelConfig    `mapstructure:"otel"`
	Storage StorageConfig `mapstructure:"storage"`
}

// Validate checks the settings shared by every command
func (c Config) Validate() error {
	switch c.Crypto.Backend {
	case pgp.BackendGPG, pgp.BackendNative:
	default:
		return fmt.Errorf("invalid crypto backend %q (want %s or %s)", c.Crypto.Backend, pgp.BackendGPG, pgp.BackendNative)
	}
	return nil
}

// ValidateURL checks the settings needed to build a URL
func (c Config) ValidateURL() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ServerURL == "" {
		return fmt.Errorf("--server-url is required")
	}
	return nil
}

// InitViper initializes Viper with common settings
func InitViper(appName string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", appName))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("destination_server", ssourl.DefaultDestination)
	v.SetDefault("target_url", ssourl.DefaultTarget)
	v.SetDefault("customer_resource", ssourl.DefaultResource)
	v.SetDefault("gooddata_user", DefaultRecipient)
	v.SetDefault("dont_print", false)
	v.SetDefault("open_browser", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("crypto.backend", pgp.BackendGPG)
	v.SetDefault("crypto.gpg_binary", "gpg")
	v.SetDefault("crypto.gnupg_home", "")
	v.SetDefault("crypto.public_keyring", "")
	v.SetDefault("crypto.secret_keyring", "")

	v.SetDefault("policy.file", "")
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.collector_endpoint", "")

	// Empty bucket host means AWS S3 for the region
	v.SetDefault("storage.bucket_host", "")
	v.SetDefault("storage.bucket_port", 0)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
}

// Load reads the configuration from file and environment
func Load(v *viper.Viper, cfg *Config) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// The flag default would otherwise read as an explicit zero
	if !v.IsSet("validity") {
		cfg.Validity = nil
	}

	LoadStorageConfigFromEnv(&cfg.Storage)
	return nil
}

// BindFlags binds the CLI flags to Viper. Flags are persistent so the token
// subcommand shares them with the root command.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("server-url", "", "URL of the customer's server, passed to the platform (required)")
	f.String("destination-server", ssourl.DefaultDestination, "Base URL of the SSO endpoint")
	f.String("target-url", ssourl.DefaultTarget, "Page to land on after login")
	f.String("customer-resource", ssourl.DefaultResource, "SSO login resource path under the destination server")

	f.String("encrypted-file", "", "Read a pre-encrypted token from this file or s3://bucket/key instead of signing")
	f.String("customer-user", "", "Key identity used to sign the token")
	f.String("login", "", "Platform login the token is issued for")
	f.String("gooddata-user", DefaultRecipient, "Key identity the token is encrypted for")
	f.Int64("validity", 0, "Token validity in epoch seconds (default now + 24h)")

	f.Bool("dont-print", false, "Do not print the URL")
	f.Bool("open-browser", false, "Open the URL in the default browser")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")

	f.String("crypto-backend", pgp.BackendGPG, "Crypto backend (gpg or native)")
	f.String("gpg-binary", "gpg", "GnuPG executable for the gpg backend")
	f.String("gnupg-home", "", "Key store directory (default is the backend's own)")
	f.String("public-keyring", "", "Armored public keyring for the native backend")
	f.String("secret-keyring", "", "Armored secret keyring for the native backend")

	f.String("policy", "", "Rego policy file evaluated before signing")
	f.String("metrics-textfile", "", "Write run metrics to this node_exporter textfile")
	f.Bool("otel-enabled", false, "Enable OpenTelemetry tracing")
	f.String("otel-collector-endpoint", "", "OpenTelemetry collector gRPC endpoint (e.g. localhost:4317)")

	v.BindPFlag("server_url", f.Lookup("server-url"))
	v.BindPFlag("destination_server", f.Lookup("destination-server"))
	v.BindPFlag("target_url", f.Lookup("target-url"))
	v.BindPFlag("customer_resource", f.Lookup("customer-resource"))
	v.BindPFlag("encrypted_file", f.Lookup("encrypted-file"))
	v.BindPFlag("customer_user", f.Lookup("customer-user"))
	v.BindPFlag("login", f.Lookup("login"))
	v.BindPFlag("gooddata_user", f.Lookup("gooddata-user"))
	v.BindPFlag("validity", f.Lookup("validity"))
	v.BindPFlag("dont_print", f.Lookup("dont-print"))
	v.BindPFlag("open_browser", f.Lookup("open-browser"))
	v.BindPFlag("log_level", f.Lookup("log-level"))
	v.BindPFlag("crypto.backend", f.Lookup("crypto-backend"))
	v.BindPFlag("crypto.gpg_binary", f.Lookup("gpg-binary"))
	v.BindPFlag("crypto.gnupg_home", f.Lookup("gnupg-home"))
	v.BindPFlag("crypto.public_keyring", f.Lookup("public-keyring"))
	v.BindPFlag("crypto.secret_keyring", f.Lookup("secret-keyring"))
	v.BindPFlag("policy.file", f.Lookup("policy"))
	v.BindPFlag("metrics.textfile", f.Lookup("metrics-textfile"))
	v.BindPFlag("otel.enabled", f.Lookup("otel-enabled"))
	v.BindPFlag("otel.collector_endpoint", f.Lookup("otel-collector-endpoint"))
}

// LoadStorageConfigFromEnv applies OBC-style BUCKET_* environment variables,
// as set by OpenShift ObjectBucketClaim ConfigMaps, on top of the viper config.
func LoadStorageConfigFromEnv(cfg *StorageConfig) {
	if host := os.Getenv("BUCKET_HOST"); host != "" {
		cfg.BucketHost = host
	}
	if portStr := os.Getenv("BUCKET_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.BucketPort = port
		}
	}
	if region := os.Getenv("BUCKET_REGION"); region != "" {
		cfg.Region = region
	}

	// Port 443 implies HTTPS unless BUCKET_SSL says otherwise
	if sslStr := os.Getenv("BUCKET_SSL"); sslStr != "" {
		cfg.UseSSL = sslStr == "true" || sslStr == "1"
	} else if cfg.BucketPort == 443 {
		cfg.UseSSL = true
	}
}
