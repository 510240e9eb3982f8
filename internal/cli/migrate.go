package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"creative-review-engine/internal/config"
	"creative-review-engine/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded SQL migrations to POSTGRES_DSN",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.PostgresDSN == "" {
		return errors.New("migrate requires POSTGRES_DSN")
	}
	st, err := store.New(cmd.Context(), cfg.PostgresDSN, 1)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	applied, err := st.RunMigrations(cmd.Context())
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintln(out, "applied", name)
	}
	return nil
}
