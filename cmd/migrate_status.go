package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpak-dev/mpak-registry/internal/infrastructure/sqlite"
)

var migrateStatusCmd = &cobra.Command{
	Use:   "migrate-status",
	Short: "Show the database schema version",
	Long: `Open the registry database, apply any pending schema migrations, and
report the resulting schema version.`,
	RunE: runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateStatusCmd)
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	db, err := sqlite.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	cmd.Printf("database: %s\n", cfg.Database.Path)
	cmd.Printf("schema version: %d\n", version)
	if dirty {
		cmd.Println("state: dirty (a migration failed; manual repair required)")
	} else {
		cmd.Println("state: clean")
	}
	return nil
}
