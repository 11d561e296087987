// Package main provides the entry point for the ScrapeHive discovery server
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scrapehive/discovery/internal/config"
	"github.com/scrapehive/discovery/pkg/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scrapehive-discovery",
	Short: "URL discovery and work distribution service for the ScrapeHive network",
	Long: `scrapehive-discovery finds candidate URLs for scraping topics across
feeds, archive indexes, and web search engines, and hands them out to
clients in deduplicated, quota-limited batches.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
	}

	// Booleans default here so an absent discovery section enables every
	// source instead of disabling them all.
	viper.SetDefault("discovery.enable_feeds", true)
	viper.SetDefault("discovery.enable_commoncrawl", true)
	viper.SetDefault("discovery.enable_wayback", true)
	viper.SetDefault("discovery.enable_wikipedia", true)
	viper.SetDefault("discovery.enable_gov_index", true)
	viper.SetDefault("discovery.enable_web_search", true)

	viper.SetEnvPrefix("SCRAPEHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.FillDefaults()
	return &cfg, nil
}

func setupLogging(cfg *config.Config) error {
	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.App.LogLevel
	logCfg.Format = cfg.App.LogFormat
	return logging.SetupLogger(logCfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
