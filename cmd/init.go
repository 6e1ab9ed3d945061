package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/Sanstheink/Inv-bot/invbot"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run schema migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("database_type not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"database not set (must be a valid database connection " +
					"string or sqlite file path)",
			)
		}
		_, err := invbot.CreateDB(
			ctx,
			cfg.DatabaseType,
			cfg.Database,
			tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}),
			cfg.DatabaseSlowThreshold,
		)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
