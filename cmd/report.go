package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/davidpt/incentive-matcher/internal/logger"
	"github.com/davidpt/incentive-matcher/internal/storage"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the stored matches, best scores first within each incentive",
	Run: func(cmd *cobra.Command, _ []string) {
		report(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntP("limit", "n", 0, "maximum number of rows to print (0 prints everything)")
}

func report(cmd *cobra.Command) {
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

	store, err := storage.Open(ctx, config.Database.DSN)
	if err != nil {
		logger.Fatal("connecting to the database", zap.Error(err))
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")

	rows, err := store.TopMatches(ctx, limit)
	if err != nil {
		logger.Fatal("loading stored matches", zap.Error(err))
	}

	if len(rows) == 0 {
		logger.Info("no stored matches; run the match command first")
		return
	}

	var lastIncentive int64 = -1
	for _, row := range rows {
		if row.IncentiveID != lastIncentive {
			fmt.Printf("\n%s\n", row.IncentiveTitle)
			lastIncentive = row.IncentiveID
		}
		fmt.Printf("  %.2f  %s (%s)\n", row.Score, row.CompanyName, row.CompanyNIF)
	}
}
