package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/paydesk/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.NopLogger,
				infrastructure(),
				migration.Module,
			)
			return runOnce(app, func(ctx context.Context) error {
				fmt.Fprintln(cmd.OutOrStdout(), "database schema up to date")
				return nil
			})
		},
	}
}
