package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/model"
)

// Version is set at build time.
var Version = "v0.1.0"

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "medspan",
	Short: "medspan - clinical NER, de-identification and translation toolkit",
	Long: `medspan runs clinical text through token classification models served by a
Triton-compatible inference gateway.

It aligns subword predictions back to the source text, merges them into
entity chunks, classifies assertions and relations, masks or fakes PHI,
and renders the results as HTML.

It also talks to the hosted model platform, the license manager, S3 model
storage and a Neo4j relation graph.`,
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
		fmt.Printf("medspan %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.medspan/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
}

// secretEnv lists config keys that are usually supplied through the
// environment, with the extra variable names accepted for each.
var secretEnv = map[string][]string{
	"auth.user_key":        {"MEDSPAN_AUTH_USER_KEY", "USER_KEY"},
	"auth.user_secret":     {"MEDSPAN_AUTH_USER_SECRET", "USER_SECRET"},
	"license.manager_url":  {"MEDSPAN_LICENSE_MANAGER_URL", "LICENSE_MANAGER_URL"},
	"s3.access_key_id":     {"MEDSPAN_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"},
	"s3.secret_access_key": {"MEDSPAN_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"},
	"s3.bucket":            {"MEDSPAN_S3_BUCKET", "S3_BUCKET"},
	"neo4j.password":       {"MEDSPAN_NEO4J_PASSWORD", "NEO4J_PASSWORD"},
	"translate.api_key":    {"MEDSPAN_TRANSLATE_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
	"translate.base_url":   {"MEDSPAN_TRANSLATE_BASE_URL", "OLLAMA_BASE_URL"},
}

// initConfig reads in config file and ENV variables
func initConfig() {
	// A .env file in the working directory is optional.
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(filepath.Join(home, ".medspan"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match MEDSPAN_*
	viper.SetEnvPrefix("MEDSPAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, envs := range secretEnv {
		_ = viper.BindEnv(append([]string{key}, envs...)...)
	}

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers the config file, environment and flags over the
// defaults.
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Cache.Dir = expandHome(cfg.Cache.Dir)
	return cfg, nil
}

// setup loads the configuration and builds the logger every command uses.
func setup() (model.Config, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
