package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/validate"
)

var version = "0.1.0"

var (
	cfgFile     string
	verbose     bool
	personaFlag string
	sessionFlag string
)

// envKeys are omitted from the marshalled defaults, so viper only sees them
// through an explicit binding
var envKeys = []string{
	"llm.api_key",
	"llm.base_url",
	"llm.http_proxy",
	"llm.https_proxy",
	"llm.no_proxy",
	"retrieval.endpoint",
	"retrieval.index",
	"retrieval.api_key",
	"retrieval.corpus_path",
	"session.redis_url",
	"storage.encryption_key",
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "groundwork",
	Short: "Groundwork - grounded answers from a knowledge base",
	Long: `Groundwork answers questions from a search index and cites its sources.

Each answer goes through retrieval, drafting, an optional quality-correction
loop and an optional groundedness check before its citations are renumbered
per document.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("groundwork v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.groundwork/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&personaFlag, "persona", "p", "", "persona to answer with (explorer, intermediate, balanced_plus, scientist)")

	// Bind flags to viper
	_ = viper.BindPFlag("pipeline.persona", rootCmd.PersistentFlags().Lookup("persona"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig layers defaults, the config file and GROUNDWORK_* variables
func initConfig() {
	// A missing .env is normal
	_ = godotenv.Load()

	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err == nil {
		viper.SetConfigType("yaml")
		_ = viper.ReadConfig(bytes.NewReader(defaults))
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".groundwork"))
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("GROUNDWORK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.MergeInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
	}
}

// loadConfig resolves the configuration and runs the startup checks.
// Findings go to stderr; error findings abort only in strict mode.
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
	}

	applyKeyFallbacks(&cfg)
	if verbose {
		cfg.Logging.Level = "debug"
	}

	findings := validate.Check(cfg)
	for _, f := range findings {
		fmt.Fprintf(os.Stderr, "config %s\n", f)
	}
	if cfg.Pipeline.StrictConfig && findings.HasErrors() {
		return cfg, errors.Join(errors.New("invalid configuration"), findings.Err())
	}
	return cfg, nil
}

// applyKeyFallbacks fills credentials from the variables each vendor documents
func applyKeyFallbacks(cfg *model.Config) {
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && strings.EqualFold(cfg.LLM.Provider, "ollama") {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.Retrieval.APIKey == "" {
		cfg.Retrieval.APIKey = os.Getenv("AZURE_SEARCH_API_KEY")
	}
}
