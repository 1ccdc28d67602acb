package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tenantcore.io/internal/migrate"
	"tenantcore.io/ops/migrations"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status|seed]",
		Short: "Apply or inspect schema migrations",
	}
	manager := func() *migrate.Manager {
		return migrate.NewManager(a.store.DB(), migrations.Schema(), migrations.Seeds())
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return manager().Up(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return manager().Down(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Apply seed files (system roles and permissions)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return manager().Seed(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, err := manager().Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		},
	})
	return cmd
}
