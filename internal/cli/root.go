package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

// Version is set at build time
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "verity",
	Short: "Verity - multi-agent research with verified, attributable claims",
	Long: `Verity researches a question end to end: it plans sub-queries, searches
and crawls the web, curates sources by credibility, extracts claims with
several agents, verifies every claim against its source, maps claims into
a knowledge graph, debates contradictions and writes a cited report.

Every claim in the report points at the source it came from and says how
it was verified.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("verity %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.verity/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := setupViper(viper.GetViper(), cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		return
	}
	if verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// envAliases are the conventional variables honoured besides VERITY_*
var envAliases = map[string][]string{
	"llm.api_key":           {"VERITY_LLM_API_KEY"},
	"llm.base_url":          {"VERITY_LLM_BASE_URL"},
	"search.tavily_api_key": {"VERITY_SEARCH_TAVILY_API_KEY", "TAVILY_API_KEY"},
	"search.contact_email":  {"VERITY_SEARCH_CONTACT_EMAIL"},
	"embedding.model":       {"VERITY_EMBEDDING_MODEL"},
	"http.http_proxy":       {"VERITY_HTTP_HTTP_PROXY", "HTTP_PROXY"},
	"http.https_proxy":      {"VERITY_HTTP_HTTPS_PROXY", "HTTPS_PROXY"},
	"http.no_proxy":         {"VERITY_HTTP_NO_PROXY", "NO_PROXY"},
}

// setupViper registers the built-in defaults, VERITY_* environment
// variables and the config file. An explicit file must exist; the default
// location is optional.
func setupViper(v *viper.Viper, file string) error {
	if err := registerDefaults(v, model.DefaultConfig()); err != nil {
		return err
	}

	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		return nil
	}

	dir, err := configDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(dir)
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// registerDefaults walks the YAML form of cfg so every key is known to
// viper, which lets environment variables override nested fields
func registerDefaults(v *viper.Viper, cfg model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig decodes the effective configuration
func loadConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// setup loads configuration and builds the logger for a command
func setup() (model.Config, *zap.Logger, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".verity"), nil
}
