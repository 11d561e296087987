package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scrapehive/discovery/internal/discovery"
)

var (
	discoverTopicName string
	discoverQueries   []string
	discoverDomains   []string
	discoverPage      int
)

// discoverCmd runs one aggregation pass for a topic and prints the merged
// candidates as JSON. Useful for tuning topic definitions without a client.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a one-shot discovery pass for a topic",
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverTopicName, "topic", "", "topic name (required)")
	discoverCmd.Flags().StringSliceVar(&discoverQueries, "query", nil, "search queries (defaults to the topic name)")
	discoverCmd.Flags().StringSliceVar(&discoverDomains, "domain", nil, "preferred domains to index directly")
	discoverCmd.Flags().IntVar(&discoverPage, "page", 0, "result page to fetch")
	_ = discoverCmd.MarkFlagRequired("topic")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	topic := discovery.Topic{
		ID:               "cli",
		Name:             discoverTopicName,
		SearchQueries:    discoverQueries,
		PreferredDomains: discoverDomains,
	}

	adapterCfg := cfg.AdapterConfig()
	adapters := discovery.BuildAdapters(adapterCfg, discovery.DefaultSearchEngines())
	aggregator := discovery.NewAggregator(adapters, adapterCfg.AdapterTimeout)

	result := aggregator.Discover(context.Background(), topic, discoverPage)
	log.Info().
		Str("topic", topic.Name).
		Int("urls", len(result.Candidates)).
		Str("primary_source", result.PrimarySource).
		Msg("Discovery pass completed")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
