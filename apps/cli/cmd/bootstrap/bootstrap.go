package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlas-itam/atlas/platform/go/persistence"
)

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap database resources",
		Long:  "Bootstrap database resources such as the schema holding the asset tag counter.",
	}

	cmd.AddCommand(schemaCommand())
	return cmd
}

func schemaCommand() *cobra.Command {
	var (
		databaseURL string
		schema      string
		timeout     time.Duration
	)

	c := &cobra.Command{
		Use:   "schema",
		Short: "Create the schema (if missing) and apply the asset tag DDL",
		Long: "Create the target schema when it does not exist and apply the embedded asset tag DDL in one transaction.\n" +
			"The DDL is idempotent so running the command twice is safe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapSchema(ctx, pool, schema); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schema %q ready (%s).\n", schema, persistence.AssetTagSettingsTable)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (defaults to DATABASE_URL)")
	c.Flags().StringVar(&schema, "schema", persistence.DefaultSchema, "Target schema")
	c.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")

	return c
}
