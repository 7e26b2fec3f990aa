package cmd

import (
	"context"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/davidpt/incentive-matcher/internal/ingest"
	"github.com/davidpt/incentive-matcher/internal/logger"
	"github.com/davidpt/incentive-matcher/internal/storage"
)

var loadCmd = &cobra.Command{
	Use:   "load <companies.csv>",
	Short: "Load or refresh company records from a registry CSV export",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		load(args[0])
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func load(path string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config.Database == nil || strings.TrimSpace(config.Database.DSN) == "" {
		logger.Fatal("database dsn is required")
	}

	companies, err := ingest.LoadCompanies(path)
	if err != nil {
		logger.Fatal("reading companies csv", zap.Error(err))
	}

	logger.Info("parsed companies csv",
		zap.String("path", path),
		zap.Int("companies", len(companies)),
	)

	store, err := storage.Open(ctx, config.Database.DSN)
	if err != nil {
		logger.Fatal("connecting to the database", zap.Error(err))
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		logger.Fatal("initializing the schema", zap.Error(err))
	}

	for _, company := range companies {
		if err := store.UpsertCompany(ctx, company); err != nil {
			logger.Fatal("storing company", zap.String("nif", company.NIF), zap.Error(err))
		}
	}

	logger.Info("companies stored", zap.Int("count", len(companies)))
}
