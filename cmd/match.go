package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/davidpt/incentive-matcher/internal/ai"
	"github.com/davidpt/incentive-matcher/internal/ai/gemini"
	"github.com/davidpt/incentive-matcher/internal/logger"
	"github.com/davidpt/incentive-matcher/internal/matching"
	"github.com/davidpt/incentive-matcher/internal/secrets"
	"github.com/davidpt/incentive-matcher/internal/storage"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run the hybrid matching pipeline and store the top matches per incentive",
	Run: func(cmd *cobra.Command, _ []string) {
		match(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().IntP("top-k", "k", 0, "matches to keep per incentive (default from config, then 5)")
	matchCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before clearing stored matches")
}

// match runs one full matching pass: load snapshots, clear old matches,
// rule-filter, semantic-refine, persist.
func match(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the incentive-matcher", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config.Database == nil || strings.TrimSpace(config.Database.DSN) == "" {
		logger.Fatal("database dsn is required",
			zap.String("hint", "set database.dsn in the configuration file or the INCENTIVE_MATCHER_DSN environment variable"),
		)
	}

	store, err := storage.Open(ctx, config.Database.DSN)
	if err != nil {
		logger.Fatal("connecting to the database", zap.Error(err))
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		logger.Fatal("initializing the schema", zap.Error(err))
	}

	incentives, err := store.Incentives(ctx)
	if err != nil {
		logger.Fatal("loading incentives", zap.Error(err))
	}

	companies, err := store.Companies(ctx)
	if err != nil {
		logger.Fatal("loading companies", zap.Error(err))
	}

	logger.Info("loaded matching snapshots",
		zap.Int("incentives", len(incentives)),
		zap.Int("companies", len(companies)),
	)

	if len(incentives) == 0 || len(companies) == 0 {
		logger.Info("exiting", zap.String("reason", "not enough data to perform matching; load companies and ingest incentives first"))
		return
	}

	scorer, err := newSemanticScorer(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building the semantic scorer", zap.Error(err))
	}

	if cmd.Flag("auto-approve").Value.String() == "false" {
		if !confirmClear() {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	k := topK(cmd, config)
	engine := matching.NewEngine(store, scorer, engineConfig(config), logger)

	persisted, err := engine.Run(ctx, incentives, companies, k)
	if err != nil {
		logger.Fatal("matching run failed", zap.Error(err))
	}

	for _, skipped := range engine.Report().Skipped() {
		logger.Info("incentive produced no matches",
			zap.Int64("incentive_id", skipped.IncentiveID),
			zap.String("title", skipped.Title),
			zap.String("reason", skipped.Reason),
		)
	}

	logger.Info("matching pipeline finished", zap.Int("matches_persisted", persisted))
}

// confirmClear warns that the stored matches are about to be replaced.
func confirmClear() bool {
	prompt := promptui.Select{
		Label: "This run clears all stored matches before repopulating them. Proceed?",
		Items: []string{PromptYes, PromptNo},
	}

	_, answer, err := prompt.Run()
	if err != nil {
		return false
	}
	return answer == PromptYes
}

func topK(cmd *cobra.Command, config *Config) int {
	if k, err := cmd.Flags().GetInt("top-k"); err == nil && k > 0 {
		return k
	}
	if config.Matching != nil && config.Matching.TopK > 0 {
		return config.Matching.TopK
	}
	return matching.DefaultTopK
}

func engineConfig(config *Config) matching.Config {
	cfg := matching.Config{}
	if config.Matching != nil {
		cfg.TopK = config.Matching.TopK
		cfg.CandidatePool = config.Matching.CandidatePool
		cfg.MinRuleScore = config.Matching.MinRuleScore
		cfg.Workers = config.Matching.Workers
	}
	return cfg
}

func newSemanticScorer(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.BatchScorer, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, fmt.Errorf("ai.gemini configuration is required to run the semantic stage")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
	}

	genLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.Gemini.Model),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second

	return gemini.NewScorer(generator, timeout, cfg.Gemini.MaxLogLength, genLogger), nil
}
