// Package config loads attestproof settings from a YAML file, ATTESTPROOF_*
// environment variables and bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. ATTESTPROOF_SERVER_LISTEN_ADDR.
const EnvPrefix = "ATTESTPROOF"

// AzureAllowlist is the default set of trusted key-set locations.
var AzureAllowlist = []string{"https://*.attest.azure.net/certs"}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	DBPath      string   `mapstructure:"db_path"`
	AdminToken  string   `mapstructure:"admin_token"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
	AuditLog    bool     `mapstructure:"audit_log"`
}

// KeySetConfig controls key-set fetching and caching.
type KeySetConfig struct {
	Allowlist         []string      `mapstructure:"allowlist"`
	AllowInsecureHTTP bool          `mapstructure:"allow_insecure_http"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	MinKeyBits        int           `mapstructure:"min_key_bits"`
	CacheEnabled      bool          `mapstructure:"cache_enabled"`
	CacheMaxAge       time.Duration `mapstructure:"cache_max_age"`
}

// AgentConfig describes the external program that prints a token.
type AgentConfig struct {
	Command    string        `mapstructure:"command"`
	Args       []string      `mapstructure:"args"`
	Timeout    time.Duration `mapstructure:"timeout"`
	EnvFile    string        `mapstructure:"env_file"`
	MaskedEnvs []string      `mapstructure:"masked_envs"`
}

// PolicyConfig enables claim checks. MaxVMPL < 0 disables the VMPL bound.
type PolicyConfig struct {
	RequireSecureBoot         bool          `mapstructure:"require_secure_boot"`
	RejectDebuggable          bool          `mapstructure:"reject_debuggable"`
	AllowedAttestationTypes   []string      `mapstructure:"allowed_attestation_types"`
	AllowedComplianceStatuses []string      `mapstructure:"allowed_compliance_statuses"`
	MaxVMPL                   int           `mapstructure:"max_vmpl"`
	CheckExpiry               bool          `mapstructure:"check_expiry"`
	ClockSkew                 time.Duration `mapstructure:"clock_skew"`
	RegoFile                  string        `mapstructure:"rego_file"`
}

// Config is the full attestproof configuration.
type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Server   ServerConfig `mapstructure:"server"`
	KeySet   KeySetConfig `mapstructure:"keyset"`
	Agent    AgentConfig  `mapstructure:"agent"`
	Policy   PolicyConfig `mapstructure:"policy"`
}

// InitViper returns a viper instance with search paths, env binding and
// defaults applied.
func InitViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/attestproof/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.db_path", "attestproof.db")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.audit_log", true)

	v.SetDefault("keyset.allowlist", AzureAllowlist)
	v.SetDefault("keyset.allow_insecure_http", false)
	v.SetDefault("keyset.fetch_timeout", 10*time.Second)
	v.SetDefault("keyset.retry_backoff", 500*time.Millisecond)
	v.SetDefault("keyset.min_key_bits", 2048)
	v.SetDefault("keyset.cache_enabled", false)
	v.SetDefault("keyset.cache_max_age", time.Hour)

	v.SetDefault("agent.command", "")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.timeout", 60*time.Second)
	v.SetDefault("agent.env_file", "")
	v.SetDefault("agent.masked_envs", []string{})

	v.SetDefault("policy.require_secure_boot", false)
	v.SetDefault("policy.reject_debuggable", false)
	v.SetDefault("policy.allowed_attestation_types", []string{})
	v.SetDefault("policy.allowed_compliance_statuses", []string{})
	v.SetDefault("policy.max_vmpl", -1)
	v.SetDefault("policy.check_expiry", false)
	v.SetDefault("policy.clock_skew", time.Minute)
	v.SetDefault("policy.rego_file", "")
}

// BindFlags registers the flags shared by every command and binds them.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	fs := cmd.PersistentFlags()
	fs.StringSlice("allow-jku", nil, "Trusted key-set URL pattern (repeatable; host may start with *.)")
	fs.Bool("allow-insecure-http", false, "Permit http:// key-set URLs (testing only)")
	fs.Duration("fetch-timeout", 0, "Key-set fetch timeout")
	fs.Int("min-key-bits", 0, "Minimum RSA modulus size")
	fs.Bool("cache", false, "Cache fetched key sets")
	fs.String("agent", "", "Attestation agent command that prints a token on stdout")
	fs.String("policy-file", "", "Rego policy file evaluated against verified claims")

	v.BindPFlag("keyset.allowlist", fs.Lookup("allow-jku"))
	v.BindPFlag("keyset.allow_insecure_http", fs.Lookup("allow-insecure-http"))
	v.BindPFlag("keyset.fetch_timeout", fs.Lookup("fetch-timeout"))
	v.BindPFlag("keyset.min_key_bits", fs.Lookup("min-key-bits"))
	v.BindPFlag("keyset.cache_enabled", fs.Lookup("cache"))
	v.BindPFlag("agent.command", fs.Lookup("agent"))
	v.BindPFlag("policy.rego_file", fs.Lookup("policy-file"))
}

// Load reads the config file (when present), unmarshals and validates.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the verifier cannot honor.
func (c *Config) Validate() error {
	if len(c.KeySet.Allowlist) == 0 {
		return fmt.Errorf("keyset.allowlist must not be empty")
	}
	if c.KeySet.MinKeyBits < 1024 {
		return fmt.Errorf("keyset.min_key_bits must be at least 1024")
	}
	if c.KeySet.FetchTimeout <= 0 {
		return fmt.Errorf("keyset.fetch_timeout must be positive")
	}
	if c.KeySet.CacheEnabled && c.KeySet.CacheMaxAge <= 0 {
		return fmt.Errorf("keyset.cache_max_age must be positive when caching is enabled")
	}
	if c.Policy.MaxVMPL > 3 {
		return fmt.Errorf("policy.max_vmpl must be between 0 and 3, or negative to disable")
	}
	if c.Policy.ClockSkew < 0 {
		return fmt.Errorf("policy.clock_skew must not be negative")
	}
	if c.Agent.Timeout < 0 {
		return fmt.Errorf("agent.timeout must not be negative")
	}
	return nil
}

// ValidateServer adds the checks that only apply to the HTTP service.
func (c *Config) ValidateServer() error {
	if c.Server.AdminToken != "" && len(c.Server.AdminToken) < 16 {
		return fmt.Errorf("server.admin_token must be at least 16 characters")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must not be negative")
	}
	return nil
}
