package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/subgen/internal/presenter"
	"github.com/psantana5/subgen/pkg/address"
	"github.com/psantana5/subgen/pkg/poller"
)

const defaultServerURL = "http://localhost:8000"

// Config is the effective client configuration
type Config struct {
	ServerURL      string        `mapstructure:"server_url" json:"server_url" yaml:"server_url"`
	APIKey         string        `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	PollInterval   time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	UploadLimit    int64         `mapstructure:"upload_limit" json:"upload_limit" yaml:"upload_limit"`
	AddressBase    string        `mapstructure:"address_base" json:"address_base" yaml:"address_base"`
	Store          string        `mapstructure:"store" json:"store" yaml:"store"`
	Output         string        `mapstructure:"output" json:"output" yaml:"output"`

	Log struct {
		Level  string `mapstructure:"level" json:"level" yaml:"level"`
		Format string `mapstructure:"format" json:"format" yaml:"format"`
		File   bool   `mapstructure:"file" json:"file" yaml:"file"`
		Dir    string `mapstructure:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`
	} `mapstructure:"log" json:"log" yaml:"log"`

	Metrics struct {
		Addr string `mapstructure:"addr" json:"addr,omitempty" yaml:"addr,omitempty"`
	} `mapstructure:"metrics" json:"metrics" yaml:"metrics"`

	Tracing struct {
		Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
		Endpoint string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
		Insecure bool   `mapstructure:"insecure" json:"insecure" yaml:"insecure"`
	} `mapstructure:"tracing" json:"tracing" yaml:"tracing"`

	TLS struct {
		CAFile             string `mapstructure:"ca_file" json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
		CertFile           string `mapstructure:"cert_file" json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
		KeyFile            string `mapstructure:"key_file" json:"key_file,omitempty" yaml:"key_file,omitempty"`
		InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	} `mapstructure:"tls" json:"tls" yaml:"tls"`
}

func setDefaults() {
	viper.SetDefault("server_url", defaultServerURL)
	viper.SetDefault("api_key", "")
	viper.SetDefault("poll_interval", poller.DefaultInterval)
	viper.SetDefault("request_timeout", time.Duration(0))
	viper.SetDefault("upload_limit", 0)
	viper.SetDefault("address_base", address.DefaultBase)
	viper.SetDefault("store", defaultStorePath())
	viper.SetDefault("output", "table")
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.file", false)
	viper.SetDefault("log.dir", "")
	viper.SetDefault("metrics.addr", "")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.insecure", true)
	viper.SetDefault("tls.ca_file", "")
	viper.SetDefault("tls.cert_file", "")
	viper.SetDefault("tls.key_file", "")
	viper.SetDefault("tls.insecure_skip_verify", false)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "subgen.db"
	}
	return filepath.Join(home, ".subgen", "subgen.db")
}

// loadConfig unmarshals the merged flag, env, file and default values
func loadConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.DefaultInterval
	}
	return &cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after merging defaults, the config file,
SUBGEN_* environment variables and command line flags. The API key is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.APIKey = maskSecret(cfg.APIKey)

	format, _ := presenter.ParseFormat(cfg.Output)
	if file := viper.ConfigFileUsed(); file != "" && format == presenter.FormatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "# config file: %s\n", file)
	}
	return presenter.NewPrinter(cmd.OutOrStdout(), format).Value(cfg)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
