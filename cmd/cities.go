package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/citystore"
)

var citiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "Manage the city store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("cities")
	},
}

var citiesMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the cities table and its indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		se, err := openStore(ctx, "")
		if err != nil {
			return err
		}
		defer se.Close()

		if err := se.Loader.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate city store")
		}
		zap.L().Info("city store migrated", zap.String("driver", cfg.Store.Driver), zap.String("table", cfg.Store.Table))
		return nil
	},
}

var citiesImportCSV string

var citiesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk load cities from a CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(citiesImportCSV)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close()

		se, err := openStore(ctx, "")
		if err != nil {
			return err
		}
		defer se.Close()

		if err := se.Loader.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate city store")
		}
		n, err := citystore.Import(ctx, se.Loader, f)
		if err != nil {
			return eris.Wrap(err, "import cities")
		}
		zap.L().Info("import complete",
			zap.Int64("cities", n),
			zap.String("csv", citiesImportCSV),
		)
		return nil
	},
}

var citiesFindName, citiesFindState string

var citiesFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Look up one city",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		se, err := openStore(ctx, "")
		if err != nil {
			return err
		}
		defer se.Close()

		c, err := se.Store.FindCity(ctx, citiesFindName, citiesFindState)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

func init() {
	citiesImportCmd.Flags().StringVar(&citiesImportCSV, "csv", "", "path to CSV file (required)")
	_ = citiesImportCmd.MarkFlagRequired("csv")

	citiesFindCmd.Flags().StringVar(&citiesFindName, "name", "", "city name (required)")
	citiesFindCmd.Flags().StringVar(&citiesFindState, "state", "", "state code (required)")
	_ = citiesFindCmd.MarkFlagRequired("name")
	_ = citiesFindCmd.MarkFlagRequired("state")

	citiesCmd.AddCommand(citiesMigrateCmd, citiesImportCmd, citiesFindCmd)
	rootCmd.AddCommand(citiesCmd)
}
